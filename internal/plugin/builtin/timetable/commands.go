package timetable

import (
	"context"
	"fmt"
	"strings"

	core "casebot/internal/plugin"
	kit "casebot/internal/transport"
)

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "timetable post",
			Description: "publish timetables now",
			Usage:       "timetable post [today]",
			Access:      core.AccessAdmin,
			Handle:      p.handlePost,
		},
		{
			Route:       "timetable status",
			Description: "show the last publish cycle",
			Usage:       "timetable status",
			Access:      core.AccessAdmin,
			Handle:      p.handleStatus,
		},
	}
}

func (p *Plugin) handlePost(ctx context.Context, req *core.Request) error {
	today := len(req.Args) > 0 && strings.EqualFold(req.Args[0], "today")

	_, _ = req.Adapter.SendText(ctx, req.Chat, "Publishing timetables...", nil)
	results := p.runCycle(ctx, today)

	_, _ = req.Adapter.SendText(ctx, req.Chat, summarize(results), &kit.SendOptions{SuppressMention: true})
	return nil
}

func (p *Plugin) handleStatus(ctx context.Context, req *core.Request) error {
	p.lastMu.Lock()
	lastRun := p.lastRun
	lastDate := p.lastDate
	results := append([]CourseResult(nil), p.last...)
	p.lastMu.Unlock()

	if lastRun.IsZero() {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "No publish cycle has run yet.", nil)
		return nil
	}

	msg := fmt.Sprintf("Last cycle: %s (target %s)\n%s",
		lastRun.Format("2006-01-02 15:04:05"),
		lastDate.Format("Monday 2006-01-02"),
		summarize(results),
	)
	_, _ = req.Adapter.SendText(ctx, req.Chat, msg, &kit.SendOptions{SuppressMention: true})
	return nil
}

func summarize(results []CourseResult) string {
	if len(results) == 0 {
		return "No courses configured."
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		switch r.Status {
		case CourseOK:
			lines = append(lines, fmt.Sprintf("%s: ok (%d events)", r.Code, r.Events))
		case CourseSkipped:
			lines = append(lines, fmt.Sprintf("%s: skipped (%v)", r.Code, r.Err))
		default:
			lines = append(lines, fmt.Sprintf("%s: failed (%v)", r.Code, r.Err))
		}
	}
	return strings.Join(lines, "\n")
}
