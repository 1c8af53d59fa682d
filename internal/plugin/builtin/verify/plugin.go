// Package verify implements email-based member verification: code issuance
// over SMTP, code validation with role assignment, and role reconciliation
// against the course registry.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	core "casebot/internal/plugin"
	"casebot/pkg/mailx"
	"casebot/pkg/socapi"
)

// Settings-store keys for SMTP credentials (set via the verifyset command).
const (
	settingSMTPUser = "verify.smtp_username"
	settingSMTPPass = "verify.smtp_password"
)

type Config struct {
	Roles struct {
		Verified string `json:"verified"`
		Comsci1  string `json:"comsci1"`
		Comsci2  string `json:"comsci2"`
		Case3    string `json:"case3"`
		Case4    string `json:"case4"`
		Umbrella string `json:"umbrella"`
		Alumni   string `json:"alumni"`
		External string `json:"external"`
	} `json:"roles"`

	Channels struct {
		Mod     string `json:"mod"`
		General string `json:"general"`
	} `json:"channels"`

	Email struct {
		StudentSuffix string `json:"student_suffix"`
		StaffSuffix   string `json:"staff_suffix"`
		SMTPHost      string `json:"smtp_host"`
		SMTPPort      int    `json:"smtp_port"`
		From          string `json:"from"`
	} `json:"email"`

	Registry struct {
		BaseURL string `json:"base_url"`
		APIKey  string `json:"api_key"`
	} `json:"registry"`

	Timeouts struct {
		Command   string `json:"command"`
		Task      string `json:"task"`
		Operation string `json:"operation"`
	} `json:"timeouts"`

	opTimeout time.Duration
}

type Plugin struct {
	core.PluginBase

	mu       sync.RWMutex
	cfg      Config
	registry *socapi.Client
}

func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string { return "verify" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps, p.Name())
	if deps.Store == nil {
		return fmt.Errorf("verify requires storage")
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	return p.StopBase(ctx)
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, err := parseConfig(raw)
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	cfg, err := parseConfig(raw)
	if err != nil {
		return err
	}

	registry := socapi.New(socapi.Config{
		BaseURL: cfg.Registry.BaseURL,
		APIKey:  cfg.Registry.APIKey,
		Timeout: cfg.opTimeout,
	})

	p.mu.Lock()
	p.cfg = cfg
	p.registry = registry
	p.mu.Unlock()
	return nil
}

func parseConfig(raw json.RawMessage) (Config, error) {
	cfg, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Roles.Verified == "" {
		return Config{}, fmt.Errorf("verify.roles.verified is required")
	}
	if cfg.Channels.Mod == "" || cfg.Channels.General == "" {
		return Config{}, fmt.Errorf("verify.channels.mod and verify.channels.general are required")
	}
	if cfg.Email.StudentSuffix == "" {
		cfg.Email.StudentSuffix = "@mail.dcu.ie"
	}
	if cfg.Email.StaffSuffix == "" {
		cfg.Email.StaffSuffix = "@dcu.ie"
	}
	if cfg.Email.SMTPHost == "" {
		cfg.Email.SMTPHost = "smtp.gmail.com"
	}
	if cfg.Email.SMTPPort <= 0 {
		cfg.Email.SMTPPort = 465
	}
	cfg.opTimeout = 10 * time.Second
	if cfg.Timeouts.Operation != "" {
		if d, err := time.ParseDuration(cfg.Timeouts.Operation); err == nil && d > 0 {
			cfg.opTimeout = d
		}
	}
	return cfg, nil
}

func (p *Plugin) snapshot() (Config, *socapi.Client) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg, p.registry
}

func (p *Plugin) mailer(cfg Config, username, password string) *mailx.Mailer {
	return mailx.New(mailx.Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: username,
		Password: password,
		From:     cfg.Email.From,
	})
}

// rolePair is the year+umbrella role grant a course resolves to.
type rolePair struct {
	year     string
	umbrella string
	// label is used in reconciliation summaries.
	labels []string
}

// courseRoles maps a registry course code onto the configured role pair.
// Alumni (course "CASE") map to the alumni role instead of a year role.
func courseRoles(cfg Config, course socapi.Course) (rolePair, bool) {
	switch course {
	case socapi.CourseComsci1:
		return rolePair{year: cfg.Roles.Comsci1, umbrella: cfg.Roles.Umbrella, labels: []string{"COMSCI1", "CASE"}}, true
	case socapi.CourseComsci2:
		return rolePair{year: cfg.Roles.Comsci2, umbrella: cfg.Roles.Umbrella, labels: []string{"COMSCI2", "CASE"}}, true
	case socapi.CourseCase3:
		return rolePair{year: cfg.Roles.Case3, umbrella: cfg.Roles.Umbrella, labels: []string{"CASE3", "CASE"}}, true
	case socapi.CourseCase4:
		return rolePair{year: cfg.Roles.Case4, umbrella: cfg.Roles.Umbrella, labels: []string{"CASE4", "CASE"}}, true
	case socapi.CourseCaseAlumni:
		return rolePair{year: cfg.Roles.Alumni, umbrella: cfg.Roles.Umbrella, labels: []string{"Alumni", "CASE"}}, true
	}
	return rolePair{}, false
}

// roleUniverse is the set of roles reconciliation is allowed to touch.
// The base verified role and the external role are deliberately outside it.
func roleUniverse(cfg Config) []string {
	out := make([]string, 0, 6)
	for _, r := range []string{
		cfg.Roles.Comsci1, cfg.Roles.Comsci2, cfg.Roles.Case3,
		cfg.Roles.Case4, cfg.Roles.Umbrella, cfg.Roles.Alumni,
	} {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}
