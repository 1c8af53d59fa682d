// Package mailx sends plain-text mail over implicit-TLS SMTP.
package mailx

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer is a thin wrapper over go-mail. Credentials can be swapped at any
// time via the config passed to Send, so the client is built per send.
type Mailer struct {
	cfg Config
}

func New(cfg Config) *Mailer {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "smtp.gmail.com"
	}
	if cfg.Port <= 0 {
		cfg.Port = 465
	}
	return &Mailer{cfg: cfg}
}

// Send delivers a plain-text message to a single recipient.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if m.cfg.Username == "" || m.cfg.Password == "" {
		return fmt.Errorf("mailx: smtp credentials not configured")
	}
	from := m.cfg.From
	if from == "" {
		from = m.cfg.Username
	}

	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return fmt.Errorf("mailx: from %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("mailx: to %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("mailx: client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mailx: send: %w", err)
	}
	return nil
}
