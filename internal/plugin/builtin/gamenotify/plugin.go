// Package gamenotify maintains per-game ping lists: members opt in to a game
// and can summon everyone else on the list.
package gamenotify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	core "casebot/internal/plugin"
)

type Config struct {
	// Cooldown is the per-user minimum interval between notify calls.
	Cooldown string `json:"cooldown"`

	Timeouts struct {
		Command   string `json:"command"`
		Task      string `json:"task"`
		Operation string `json:"operation"`
	} `json:"timeouts"`

	cooldown time.Duration
}

type Plugin struct {
	core.PluginBase

	mu  sync.RWMutex
	cfg Config
}

func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string { return "gamenotify" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps, p.Name())
	if deps.Store == nil {
		return fmt.Errorf("gamenotify requires storage")
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
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return nil
}

func parseConfig(raw json.RawMessage) (Config, error) {
	cfg, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.cooldown = 5 * time.Minute
	if cfg.Cooldown != "" {
		d, err := time.ParseDuration(cfg.Cooldown)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("gamenotify.cooldown: invalid duration %q", cfg.Cooldown)
		}
		cfg.cooldown = d
	}
	return cfg, nil
}

func (p *Plugin) snapshot() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}
