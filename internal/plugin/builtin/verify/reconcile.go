package verify

import (
	"context"
	"fmt"
	"strings"

	core "casebot/internal/plugin"
	kit "casebot/internal/transport"
	logx "casebot/pkg/logx"
	"casebot/pkg/socapi"
)

// reconcileMember re-derives a verified member's year roles from the course
// registry and converges their held roles onto the target set. Only roles in
// the mapped universe are ever removed. Unverified members and members whose
// course cannot be determined are left completely untouched.
func (p *Plugin) reconcileMember(ctx context.Context, cfg Config, registry *socapi.Client, member kit.Member) (string, error) {
	rec, err := p.Deps.Store.UserVerification(ctx, member.UserID)
	if err != nil {
		return "", fmt.Errorf("load record: %w", err)
	}
	if !rec.Verified || rec.Email == "" {
		return "", nil
	}

	course, err := registry.CourseFor(ctx, rec.Email)
	if err != nil {
		return "", fmt.Errorf("course lookup: %w", err)
	}
	pair, ok := courseRoles(cfg, course)
	if !ok {
		// Unknown or unresolved course: make no role changes at all.
		return "", nil
	}

	targets := map[string]bool{pair.year: true, pair.umbrella: true}
	held := make(map[string]bool, len(member.RoleIDs))
	for _, r := range member.RoleIDs {
		held[r] = true
	}

	var toRemove, toAdd []string
	for _, r := range roleUniverse(cfg) {
		if held[r] && !targets[r] {
			toRemove = append(toRemove, r)
		}
	}
	for r := range targets {
		if r != "" && !held[r] {
			toAdd = append(toAdd, r)
		}
	}
	if len(toRemove) == 0 && len(toAdd) == 0 {
		return "", nil
	}

	const reason = "Role reconciliation"
	if len(toRemove) > 0 {
		if err := p.Deps.Adapter.RemoveRoles(ctx, p.Deps.GuildID, member.UserID, toRemove, reason); err != nil {
			return "", fmt.Errorf("remove roles: %w", err)
		}
	}
	if len(toAdd) > 0 {
		if err := p.Deps.Adapter.AddRoles(ctx, p.Deps.GuildID, member.UserID, toAdd, reason); err != nil {
			return "", fmt.Errorf("add roles: %w", err)
		}
	}
	return fmt.Sprintf("Updated %ss roles - New roles: %s", member.Username, strings.Join(pair.labels, ", ")), nil
}

func (p *Plugin) handleFixRoles(ctx context.Context, req *core.Request) error {
	cfg, registry := p.snapshot()

	rec, err := p.Deps.Store.UserVerification(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if !rec.Verified {
		_, _ = req.Adapter.SendText(ctx, req.Chat,
			"Unfortunately we do not have your account data on record. Please re-verify or contact an Admin for roles.", nil)
		return nil
	}

	member, err := req.Adapter.Member(ctx, req.GuildID, req.FromID)
	if err != nil {
		return fmt.Errorf("fetch member: %w", err)
	}
	summary, err := p.reconcileMember(ctx, cfg, registry, member)
	if err != nil {
		p.Log.Warn("fixroles", logx.String("user_id", req.FromID), logx.Any("err", err))
		_, _ = req.Adapter.SendText(ctx, req.Chat, "An error occured while fetching your data. Please contact an Admin.", nil)
		return nil
	}
	if summary == "" {
		summary = "Your roles are up to date."
	}
	_, _ = req.Adapter.SendText(ctx, req.Chat, summary, &kit.SendOptions{SuppressMention: true})
	return nil
}

// handleRecheckAll sweeps the full guild roster. Per-member failures are
// logged and skipped so one bad record never aborts the sweep.
func (p *Plugin) handleRecheckAll(ctx context.Context, req *core.Request) error {
	cfg, registry := p.snapshot()

	_, _ = req.Adapter.SendText(ctx, req.Chat, "Rechecking all members...", nil)

	members, err := req.Adapter.Members(ctx, req.GuildID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}

	var lines []string
	for _, member := range members {
		if member.IsBot {
			continue
		}
		mctx, cancel := context.WithTimeout(ctx, cfg.opTimeout)
		summary, err := p.reconcileMember(mctx, cfg, registry, member)
		cancel()
		if err != nil {
			p.Log.Warn("recheck member", logx.String("user_id", member.UserID), logx.Any("err", err))
			continue
		}
		if summary != "" {
			lines = append(lines, summary)
		}
	}

	out := "No users updated"
	if len(lines) > 0 {
		out = strings.Join(lines, "\n")
	}
	_, _ = req.Adapter.SendText(ctx, req.Chat, out, &kit.SendOptions{SuppressMention: true})
	return nil
}
