package verify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	core "casebot/internal/plugin"
	"casebot/internal/storage"
	kit "casebot/internal/transport"
)

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "verify email",
			Description: "start verification with your student email",
			Usage:       "verify email <address>",
			DMOnly:      true,
			Handle:      p.handleVerifyEmail,
		},
		{
			Route:       "verify code",
			Description: "submit the code from your email",
			Usage:       "verify code <code>",
			DMOnly:      true,
			Handle:      p.handleVerifyCode,
		},
		{
			Route:       "verify other",
			Description: "request manual verification from the moderators",
			Usage:       "verify other <message>",
			DMOnly:      true,
			Handle:      p.handleVerifyOther,
		},
		{
			Route:       "verify user",
			Description: "manually verify a member",
			Usage:       "verify user <internal|external|alumni> <member>",
			Access:      core.AccessAdmin,
			GuildOnly:   true,
			Handle:      p.handleVerifyUser,
		},
		{
			Route:       "unverify me",
			Description: "remove your own verification",
			Usage:       "unverify me",
			Handle:      p.handleUnverifyMe,
		},
		{
			Route:       "unverify user",
			Description: "remove a member's verification",
			Usage:       "unverify user <member>",
			Access:      core.AccessAdmin,
			Handle:      p.handleUnverifyUser,
		},
		{
			Route:       "profile",
			Description: "show a member's verification record",
			Usage:       "profile <member>",
			Access:      core.AccessAdmin,
			GuildOnly:   true,
			Handle:      p.handleProfile,
		},
		{
			Route:       "verifyset",
			Description: "set SMTP credentials for verification mail",
			Usage:       "verifyset <username> <password>",
			Access:      core.AccessOwnerOnly,
			DMOnly:      true,
			Handle:      p.handleVerifySet,
		},
		{
			Route:       "fixroles",
			Description: "re-sync your year roles with the registry",
			Usage:       "fixroles",
			GuildOnly:   true,
			Handle:      p.handleFixRoles,
		},
		{
			Route:       "recheckall",
			Description: "re-sync year roles for every member",
			Usage:       "recheckall",
			Access:      core.AccessAdmin,
			GuildOnly:   true,
			Cooldown:    time.Minute,
			Handle:      p.handleRecheckAll,
		},
		{
			Route:       "addwelcomemsg",
			Description: "add a welcome message template",
			Usage:       "addwelcomemsg <message containing {name}>",
			Access:      core.AccessAdmin,
			Handle:      p.handleAddWelcome,
		},
		{
			Route:       "listmessages",
			Description: "list welcome message templates",
			Usage:       "listmessages",
			Access:      core.AccessAdmin,
			Handle:      p.handleListWelcome,
		},
		{
			Route:       "removemessage",
			Description: "remove a welcome message template by index",
			Usage:       "removemessage <index>",
			Access:      core.AccessAdmin,
			Handle:      p.handleRemoveWelcome,
		},
	}
}

// parseUserArg accepts a raw user ID or a mention (<@id> / <@!id>).
func parseUserArg(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "<@") && strings.HasSuffix(arg, ">") {
		arg = strings.TrimSuffix(strings.TrimPrefix(arg, "<@"), ">")
		arg = strings.TrimPrefix(arg, "!")
	}
	if arg == "" {
		return "", false
	}
	for _, r := range arg {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return arg, true
}

func (p *Plugin) handleVerifyOther(ctx context.Context, req *core.Request) error {
	cfg, _ := p.snapshot()
	message := strings.TrimSpace(strings.Join(req.Args, " "))
	if message == "" {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Usage: `verify other <message>`", nil)
		return nil
	}
	embed := &kit.Embed{
		Title:       "Manual verification request",
		Description: message,
		Fields: []kit.EmbedField{
			{Name: "User", Value: fmt.Sprintf("<@%s>", req.FromID), Inline: true},
		},
	}
	if _, err := req.Adapter.SendText(ctx, kit.ChatTarget{ChannelID: cfg.Channels.Mod}, "", &kit.SendOptions{Embed: embed}); err != nil {
		return fmt.Errorf("notify moderators: %w", err)
	}
	_, _ = req.Adapter.SendText(ctx, req.Chat, "Your request has been sent to the moderators.", nil)
	return nil
}

// handleVerifyUser verifies a member without an email round-trip. The stored
// email is the verification type ("Internal", "External", "Alumni"), which
// keeps such records out of the registry-driven reconciliation sweep.
func (p *Plugin) handleVerifyUser(ctx context.Context, req *core.Request) error {
	cfg, _ := p.snapshot()
	st := p.Deps.Store

	if len(req.Args) != 2 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Usage: `verify user <internal|external|alumni> <member>`", nil)
		return nil
	}
	kind := strings.ToLower(req.Args[0])
	userID, ok := parseUserArg(req.Args[1])
	if !ok {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Could not parse that member. Use a mention or a user ID.", nil)
		return nil
	}

	var roles []string
	switch kind {
	case "internal":
		roles = []string{cfg.Roles.Verified}
	case "external":
		roles = []string{cfg.Roles.External}
	case "alumni":
		roles = []string{cfg.Roles.Verified, cfg.Roles.Alumni, cfg.Roles.Umbrella}
	default:
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Unknown verification type. Use internal, external or alumni.", nil)
		return nil
	}

	admin := req.Update.Message.FromUsername
	if err := st.UpdateUserVerification(ctx, userID, func(r *storage.VerificationRecord) error {
		r.Verified = true
		r.VerifiedBy = admin
		r.Code = ""
		r.Email = titleCase(kind)
		return nil
	}); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}

	reason := fmt.Sprintf("Manually verified by: %s", admin)
	if err := req.Adapter.AddRoles(ctx, req.GuildID, userID, roles, reason); err != nil {
		return fmt.Errorf("grant roles: %w", err)
	}

	if dm, err := req.Adapter.OpenDM(ctx, userID); err == nil {
		_, _ = req.Adapter.SendText(ctx, dm, "You have been manually verified by an admin. Welcome!", nil)
	}

	_ = p.AppendAudit(ctx, storage.AuditEntry{
		At:       time.Now(),
		ActorID:  req.FromID,
		GuildID:  req.GuildID,
		Plugin:   p.Name(),
		Action:   "verify.manual",
		Target:   userID,
		OK:       1,
		MetaJSON: fmt.Sprintf(`{"type":%q}`, kind),
	})
	_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("Verified <@%s> as %s.", userID, kind), &kit.SendOptions{SuppressMention: true})
	return nil
}

// unverify clears the stored record and releases the email. Held roles are
// deliberately left in place; revocation stays a manual moderator action.
func (p *Plugin) unverify(ctx context.Context, userID string) (bool, error) {
	st := p.Deps.Store
	rec, err := st.UserVerification(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load record: %w", err)
	}
	if !rec.Verified {
		return false, nil
	}
	if rec.Email != "" {
		if err := st.RemoveVerifiedEmail(ctx, rec.Email); err != nil {
			return false, fmt.Errorf("release email: %w", err)
		}
	}
	if err := st.UpdateUserVerification(ctx, userID, func(r *storage.VerificationRecord) error {
		r.Verified = false
		r.VerifiedBy = ""
		r.Code = ""
		r.Email = ""
		return nil
	}); err != nil {
		return false, fmt.Errorf("reset record: %w", err)
	}
	return true, nil
}

func (p *Plugin) handleUnverifyMe(ctx context.Context, req *core.Request) error {
	done, err := p.unverify(ctx, req.FromID)
	if err != nil {
		return err
	}
	if !done {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "You are not verified.", nil)
		return nil
	}
	_ = p.AppendAudit(ctx, storage.AuditEntry{
		At: time.Now(), ActorID: req.FromID, GuildID: req.GuildID,
		Plugin: p.Name(), Action: "unverify", Target: req.FromID, OK: 1,
	})
	_, _ = req.Adapter.SendText(ctx, req.Chat, "You have been unverified. You can re-verify with `verify email <address>`.", nil)
	return nil
}

func (p *Plugin) handleUnverifyUser(ctx context.Context, req *core.Request) error {
	if len(req.Args) != 1 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Usage: `unverify user <member>`", nil)
		return nil
	}
	userID, ok := parseUserArg(req.Args[0])
	if !ok {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Could not parse that member. Use a mention or a user ID.", nil)
		return nil
	}
	done, err := p.unverify(ctx, userID)
	if err != nil {
		return err
	}
	if !done {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "That member is not verified.", nil)
		return nil
	}
	_ = p.AppendAudit(ctx, storage.AuditEntry{
		At: time.Now(), ActorID: req.FromID, GuildID: req.GuildID,
		Plugin: p.Name(), Action: "unverify", Target: userID, OK: 1,
	})
	_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("Unverified <@%s>.", userID), &kit.SendOptions{SuppressMention: true})
	return nil
}

func (p *Plugin) handleProfile(ctx context.Context, req *core.Request) error {
	if len(req.Args) != 1 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Usage: `profile <member>`", nil)
		return nil
	}
	userID, ok := parseUserArg(req.Args[0])
	if !ok {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Could not parse that member. Use a mention or a user ID.", nil)
		return nil
	}
	rec, err := p.Deps.Store.UserVerification(ctx, userID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}

	val := func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	}
	pending := "no"
	if rec.Code != "" {
		pending = "yes"
	}
	embed := &kit.Embed{
		Title: "Verification profile",
		Fields: []kit.EmbedField{
			{Name: "User", Value: fmt.Sprintf("<@%s>", userID), Inline: true},
			{Name: "Verified", Value: strconv.FormatBool(rec.Verified), Inline: true},
			{Name: "Email", Value: val(rec.Email), Inline: true},
			{Name: "Verified by", Value: val(rec.VerifiedBy), Inline: true},
			{Name: "Code pending", Value: pending, Inline: true},
		},
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, "", &kit.SendOptions{Embed: embed})
	return err
}

func (p *Plugin) handleVerifySet(ctx context.Context, req *core.Request) error {
	if len(req.Args) != 2 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Usage: `verifyset <username> <password>`", nil)
		return nil
	}
	st := p.Deps.Store
	if err := st.PutSetting(ctx, settingSMTPUser, req.Args[0]); err != nil {
		return fmt.Errorf("store username: %w", err)
	}
	if err := st.PutSetting(ctx, settingSMTPPass, req.Args[1]); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	_, _ = req.Adapter.SendText(ctx, req.Chat, "SMTP credentials updated.", nil)
	return nil
}

func (p *Plugin) handleAddWelcome(ctx context.Context, req *core.Request) error {
	body := strings.TrimSpace(strings.Join(req.Args, " "))
	if body == "" {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Usage: `addwelcomemsg <message containing {name}>`", nil)
		return nil
	}
	if !strings.Contains(body, "{name}") {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "The message must contain `{name}`, which is replaced with the new member.", nil)
		return nil
	}
	if err := p.Deps.Store.AddWelcomeMessage(ctx, body); err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	_, _ = req.Adapter.SendText(ctx, req.Chat, "Welcome message added.", nil)
	return nil
}

func (p *Plugin) handleListWelcome(ctx context.Context, req *core.Request) error {
	msgs, err := p.Deps.Store.WelcomeMessages(ctx)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	if len(msgs) == 0 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "No welcome messages stored.", nil)
		return nil
	}
	var b strings.Builder
	for i, m := range msgs {
		fmt.Fprintf(&b, "%d: %s\n", i, m)
	}
	_, _ = req.Adapter.SendText(ctx, req.Chat, b.String(), &kit.SendOptions{SuppressMention: true})
	return nil
}

func (p *Plugin) handleRemoveWelcome(ctx context.Context, req *core.Request) error {
	if len(req.Args) != 1 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Usage: `removemessage <index>`", nil)
		return nil
	}
	idx, err := strconv.Atoi(req.Args[0])
	if err != nil || idx < 0 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "The index must be a non-negative number from `listmessages`.", nil)
		return nil
	}
	removed, err := p.Deps.Store.RemoveWelcomeMessage(ctx, idx)
	if err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "No welcome message with that index.", nil)
		return nil
	}
	_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("Removed: %s", removed), &kit.SendOptions{SuppressMention: true})
	return nil
}
