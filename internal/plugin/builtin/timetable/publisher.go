package timetable

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	kit "casebot/internal/transport"
	logx "casebot/pkg/logx"
	"casebot/pkg/opentimetable"
)

// CourseStatus tags the outcome of one course inside a publish cycle.
type CourseStatus string

const (
	CourseOK      CourseStatus = "ok"
	CourseSkipped CourseStatus = "skipped" // provider answered non-2xx
	CourseFailed  CourseStatus = "failed"
)

type CourseResult struct {
	Code   string
	Status CourseStatus
	Events int
	Err    error
}

// targetDate resolves which date a cycle publishes for.
//
// Default is tomorrow in loc; a Saturday target advances to Monday (+2) and a
// Sunday target to Monday (+1). With today=true the current date is used
// as-is, with no weekend roll (manual re-runs).
func targetDate(now time.Time, loc *time.Location, today bool) time.Time {
	local := now.In(loc)
	d := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if today {
		return d
	}
	d = d.AddDate(0, 0, 1)
	switch d.Weekday() {
	case time.Saturday:
		d = d.AddDate(0, 0, 2)
	case time.Sunday:
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// runCycle publishes every configured course for the resolved target date.
// A course failure never aborts the others.
func (p *Plugin) runCycle(ctx context.Context, today bool) []CourseResult {
	p.mu.RLock()
	cfg := p.cfg
	loc := p.loc
	client := p.client
	p.mu.RUnlock()
	if client == nil || loc == nil {
		return nil
	}

	target := targetDate(time.Now(), loc, today)
	results := make([]CourseResult, 0, len(cfg.Courses))

	for _, course := range cfg.Courses {
		res := p.publishCourse(ctx, course, target, loc)
		results = append(results, res)

		switch res.Status {
		case CourseOK:
			p.Log.Debug("course published",
				logx.String("course", course.Code),
				logx.Int("events", res.Events),
				logx.Time("target", target),
			)
		case CourseSkipped:
			p.Log.Warn("course skipped", logx.String("course", course.Code), logx.Any("err", res.Err))
		case CourseFailed:
			p.Log.Warn("course failed", logx.String("course", course.Code), logx.Any("err", res.Err))
		}
	}

	p.lastMu.Lock()
	p.lastRun = time.Now()
	p.lastDate = target
	p.last = results
	p.lastMu.Unlock()

	p.PublishEvent("timetable.cycle_done", map[string]any{
		"target":  target.Format("2006-01-02"),
		"courses": len(results),
	})
	return results
}

func (p *Plugin) publishCourse(ctx context.Context, course CourseRef, target time.Time, loc *time.Location) CourseResult {
	p.mu.RLock()
	client := p.client
	opTO := p.cfg.opTimeout
	p.mu.RUnlock()

	res := CourseResult{Code: course.Code}

	rctx, cancel := context.WithTimeout(ctx, opTO)
	identity, err := client.ResolveCategory(rctx, course.Code)
	cancel()
	if err != nil {
		res.Status = statusFor(err)
		res.Err = err
		return res
	}

	ectx, cancel := context.WithTimeout(ctx, opTO)
	events, err := client.Events(ectx, identity)
	cancel()
	if err != nil {
		res.Status = statusFor(err)
		res.Err = err
		return res
	}

	day := eventsOn(events, target, loc)
	sortByStart(day)
	res.Events = len(day)

	embed := &kit.Embed{
		Title:       fmt.Sprintf("Timetable for %s for %s", course.Code, target.Weekday()),
		Description: renderBody(day, target, loc),
	}
	// The course message must already exist; the cycle only ever edits it.
	ref := kit.MessageRef{ChannelID: course.ChannelID, MessageID: course.MessageID}
	if err := p.Deps.Adapter.EditText(ctx, ref, "", &kit.SendOptions{Embed: embed}); err != nil {
		res.Status = CourseFailed
		res.Err = fmt.Errorf("edit message: %w", err)
		return res
	}

	res.Status = CourseOK
	return res
}

func statusFor(err error) CourseStatus {
	var se *opentimetable.StatusError
	if errors.As(err, &se) {
		return CourseSkipped
	}
	return CourseFailed
}

// cycleError folds per-course results into a single error for the scheduler
// history; skipped courses are not failures.
func cycleError(results []CourseResult) error {
	var failed []string
	for _, r := range results {
		if r.Status == CourseFailed {
			failed = append(failed, r.Code)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("courses failed: %s", strings.Join(failed, ", "))
}
