package verify

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	core "casebot/internal/plugin"
	"casebot/internal/storage"
	kit "casebot/internal/transport"
	logx "casebot/pkg/logx"
	"casebot/pkg/socapi"
)

const contactAdminNotice = "We were unable to determine your year of study. Please contact an admin to have a year role assigned to you."

// handleVerifyCode checks the submitted code against the stored one and, on a
// match, completes verification. A mismatch never mutates stored state, so
// the user can simply retry.
func (p *Plugin) handleVerifyCode(ctx context.Context, req *core.Request) error {
	cfg, registry := p.snapshot()
	st := p.Deps.Store

	if len(req.Args) != 1 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Usage: `verify code <code>`", nil)
		return nil
	}
	code := strings.ToLower(strings.TrimSpace(req.Args[0]))

	rec, err := st.UserVerification(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("load verification record: %w", err)
	}
	switch {
	case rec.Verified:
		_, _ = req.Adapter.SendText(ctx, req.Chat, "You are already verified.", nil)
		return nil
	case rec.Code == "":
		_, _ = req.Adapter.SendText(ctx, req.Chat, "No verification is in progress. Start over with `verify email <address>`.", nil)
		return nil
	case rec.Code != code:
		_, _ = req.Adapter.SendText(ctx, req.Chat, "That code does not match. Please check your email and try again.", nil)
		return nil
	}

	rolemsg, err := p.completeVerification(ctx, cfg, registry, req.FromID, rec.Email)
	if err != nil {
		return err
	}
	_, _ = req.Adapter.SendText(ctx, req.Chat, "Your account has been verified!\n"+rolemsg, nil)
	return nil
}

// completeVerification flips the record, claims the email, grants roles,
// adjusts the nickname and announces the member. It is shared by code
// validation and is the source of the "System" actor in audit entries.
func (p *Plugin) completeVerification(ctx context.Context, cfg Config, registry *socapi.Client, userID, email string) (string, error) {
	st := p.Deps.Store

	if err := st.UpdateUserVerification(ctx, userID, func(r *storage.VerificationRecord) error {
		r.Verified = true
		r.VerifiedBy = "System"
		r.Code = ""
		r.Email = email
		return nil
	}); err != nil {
		return "", fmt.Errorf("mark verified: %w", err)
	}
	if err := st.AddVerifiedEmail(ctx, email); err != nil {
		return "", fmt.Errorf("claim email: %w", err)
	}

	roles := []string{cfg.Roles.Verified}
	rolemsg := contactAdminNotice

	course, err := registry.CourseFor(ctx, email)
	if err != nil {
		p.Log.Warn("course lookup", logx.String("user_id", userID), logx.Any("err", err))
	}
	if pair, ok := courseRoles(cfg, course); ok {
		roles = append(roles, pair.year, pair.umbrella)
		rolemsg = fmt.Sprintf("You have been given the %s roles.", strings.Join(pair.labels, " and "))
	}

	reason := fmt.Sprintf("Automatically verified - Email: %s", email)
	if err := p.Deps.Adapter.AddRoles(ctx, p.Deps.GuildID, userID, roles, reason); err != nil {
		return "", fmt.Errorf("grant roles: %w", err)
	}

	if err := p.applyNickname(ctx, userID, email); err != nil {
		p.Log.Warn("set nickname", logx.String("user_id", userID), logx.Any("err", err))
	}

	_ = p.Info(cfg.Channels.Mod, fmt.Sprintf("User <@%s> joined the server!", userID))
	p.welcome(ctx, cfg, userID)

	_ = p.AppendAudit(ctx, storage.AuditEntry{
		At:      time.Now(),
		ActorID: "System",
		GuildID: p.Deps.GuildID,
		Plugin:  p.Name(),
		Action:  "verify",
		Target:  userID,
		OK:      1,
	})
	p.PublishEvent("verify.completed", map[string]any{"user_id": userID, "course": string(course)})
	return rolemsg, nil
}

// applyNickname appends the member's first name (taken from the email
// local-part) to their display name, unless it already appears there. The
// result is clamped to Discord's 32-character nickname limit.
func (p *Plugin) applyNickname(ctx context.Context, userID, email string) error {
	first := firstNameFromEmail(email)
	if first == "" {
		return nil
	}

	member, err := p.Deps.Adapter.Member(ctx, p.Deps.GuildID, userID)
	if err != nil {
		return fmt.Errorf("fetch member: %w", err)
	}
	display := member.DisplayName
	if display == "" {
		display = member.Username
	}
	nick, ok := nicknameWithFirst(display, first)
	if !ok {
		return nil
	}
	return p.Deps.Adapter.SetNickname(ctx, p.Deps.GuildID, userID, nick)
}

// firstNameFromEmail extracts the segment of the local-part before the first
// dot: "jane.doe2@mail.dcu.ie" yields "jane".
func firstNameFromEmail(email string) string {
	local, _, ok := strings.Cut(email, "@")
	if !ok {
		return ""
	}
	first, _, _ := strings.Cut(local, ".")
	return first
}

// nicknameWithFirst reports the nickname to apply, or ok=false when the
// display name already contains the first name (case-insensitive).
func nicknameWithFirst(display, first string) (string, bool) {
	if strings.Contains(strings.ToLower(display), strings.ToLower(first)) {
		return "", false
	}
	suffix := fmt.Sprintf(" (%s)", titleCase(first))
	max := 32 - len(suffix)
	if len(display) > max {
		display = display[:max]
	}
	return display + suffix, true
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// welcome posts a random stored welcome message to the general channel, with
// {name} replaced by a mention of the new member.
func (p *Plugin) welcome(ctx context.Context, cfg Config, userID string) {
	msgs, err := p.Deps.Store.WelcomeMessages(ctx)
	if err != nil || len(msgs) == 0 {
		return
	}
	body := strings.ReplaceAll(msgs[rand.Intn(len(msgs))], "{name}", fmt.Sprintf("<@%s>", userID))
	_ = p.Notify(ctx, kit.Notification{
		Channel:  "discord",
		Priority: 5,
		Target:   kit.ChatTarget{ChannelID: cfg.Channels.General},
		Text:     body,
	})
}
