// Package timetable publishes daily course timetables into pre-existing
// embed messages, one per course.
package timetable

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	core "casebot/internal/plugin"
	"casebot/pkg/opentimetable"
)

type CourseRef struct {
	Code      string `json:"code"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

type Config struct {
	// Time is the local wall-clock publish time, HH:MM.
	Time string `json:"time"`
	// Timezone is the IANA zone timetables are evaluated in.
	Timezone string      `json:"timezone"`
	Courses  []CourseRef `json:"courses"`

	API struct {
		BaseURL        string `json:"base_url"`
		Authorization  string `json:"authorization"`
		Origin         string `json:"origin"`
		Referer        string `json:"referer"`
		CategoryTypeID string `json:"category_type_id"`
	} `json:"api"`

	Timeouts struct {
		Command   string `json:"command"`
		Task      string `json:"task"`
		Operation string `json:"operation"`
	} `json:"timeouts"`

	taskTimeout time.Duration
	opTimeout   time.Duration
}

const jobName = "daily_post"

type Plugin struct {
	core.PluginBase

	mu     sync.RWMutex
	cfg    Config
	loc    *time.Location
	client *opentimetable.Client

	lastMu   sync.Mutex
	lastRun  time.Time
	lastDate time.Time
	last     []CourseResult
}

func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string { return "timetable" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.RemoveJob(jobName)
	return p.StopBase(ctx)
}

// ValidateConfig checks the config blob without applying it.
func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, _, err := parseConfig(raw)
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	cfg, loc, err := parseConfig(raw)
	if err != nil {
		return err
	}

	client := opentimetable.New(opentimetable.Config{
		BaseURL:        cfg.API.BaseURL,
		Authorization:  cfg.API.Authorization,
		Origin:         cfg.API.Origin,
		Referer:        cfg.API.Referer,
		CategoryTypeID: cfg.API.CategoryTypeID,
		Timeout:        cfg.opTimeout,
	})

	p.mu.Lock()
	p.cfg = cfg
	p.loc = loc
	p.client = client
	p.mu.Unlock()

	// AddDaily upserts by name, so a changed time simply replaces the entry.
	_, err = p.Daily(jobName, cfg.Time, cfg.taskTimeout, func(jctx context.Context) error {
		results := p.runCycle(jctx, false)
		return cycleError(results)
	})
	return err
}

func parseConfig(raw json.RawMessage) (Config, *time.Location, error) {
	cfg, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return Config{}, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Time == "" {
		cfg.Time = "20:00"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Europe/Dublin"
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, nil, fmt.Errorf("invalid timetable.timezone %q: %w", cfg.Timezone, err)
	}
	if len(cfg.Courses) == 0 {
		return Config{}, nil, fmt.Errorf("timetable.courses must not be empty")
	}
	for i, c := range cfg.Courses {
		if c.Code == "" || c.ChannelID == "" || c.MessageID == "" {
			return Config{}, nil, fmt.Errorf("timetable.courses[%d]: code, channel_id and message_id are required", i)
		}
	}

	cfg.taskTimeout = durationOr(cfg.Timeouts.Task, 2*time.Minute)
	cfg.opTimeout = durationOr(cfg.Timeouts.Operation, 15*time.Second)
	return cfg, loc, nil
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
