package verify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	core "casebot/internal/plugin"
	"casebot/internal/storage"
	logx "casebot/pkg/logx"
)

const verificationSubject = "Discord Verification"

// newCode produces the 6-hex-character verification code sent by email.
func newCode() (string, error) {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// handleVerifyEmail starts (or restarts) verification for the DM author.
// Validation order matters: staff address, wrong domain, already verified,
// email already claimed. Each rejection leaves stored state untouched.
func (p *Plugin) handleVerifyEmail(ctx context.Context, req *core.Request) error {
	cfg, _ := p.snapshot()
	st := p.Deps.Store

	if len(req.Args) != 1 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Usage: `verify email <address>`", nil)
		return nil
	}
	email := strings.ToLower(strings.TrimSpace(req.Args[0]))

	if strings.HasSuffix(email, cfg.Email.StaffSuffix) && !strings.HasSuffix(email, cfg.Email.StudentSuffix) {
		_ = p.Info(cfg.Channels.Mod, fmt.Sprintf("User <@%s> attempted to verify with a staff email: %s", req.FromID, email))
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Sorry, we could not verify that email address. Please contact an admin.", nil)
		return nil
	}
	if !strings.HasSuffix(email, cfg.Email.StudentSuffix) {
		_, _ = req.Adapter.SendText(ctx, req.Chat,
			fmt.Sprintf("Please use your student email address (ending in %s).", cfg.Email.StudentSuffix), nil)
		return nil
	}

	rec, err := st.UserVerification(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("load verification record: %w", err)
	}
	if rec.Verified {
		_ = p.Info(cfg.Channels.Mod, fmt.Sprintf("Already-verified user <@%s> attempted to verify again with %s", req.FromID, email))
		_, _ = req.Adapter.SendText(ctx, req.Chat, "You are already verified.", nil)
		return nil
	}
	taken, err := st.IsEmailVerified(ctx, email)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if taken {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "That email address has already been used to verify an account.", nil)
		return nil
	}

	code, err := newCode()
	if err != nil {
		return err
	}
	if err := st.UpdateUserVerification(ctx, req.FromID, func(r *storage.VerificationRecord) error {
		r.Code = code
		r.Email = email
		r.Verified = false
		return nil
	}); err != nil {
		return fmt.Errorf("store code: %w", err)
	}

	if err := p.sendCode(ctx, cfg, email, code); err != nil {
		p.Log.Error("send verification email", logx.String("user_id", req.FromID), logx.Any("err", err))
		_, _ = req.Adapter.SendText(ctx, req.Chat, "We could not send the verification email. Please try again later or contact an admin.", nil)
		return nil
	}

	_, _ = req.Adapter.SendText(ctx, req.Chat,
		"A verification code has been sent to your email. Reply with `verify code <code>` to finish.", nil)
	return nil
}

func (p *Plugin) sendCode(ctx context.Context, cfg Config, email, code string) error {
	st := p.Deps.Store
	user, _, err := st.Setting(ctx, settingSMTPUser)
	if err != nil {
		return fmt.Errorf("smtp username: %w", err)
	}
	pass, _, err := st.Setting(ctx, settingSMTPPass)
	if err != nil {
		return fmt.Errorf("smtp password: %w", err)
	}
	body := fmt.Sprintf("Your verification code for the CASE++ server is:\n%s", code)
	return p.mailer(cfg, user, pass).Send(ctx, email, verificationSubject, body)
}
