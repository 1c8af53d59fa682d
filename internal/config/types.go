package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Discord DiscordConfig `json:"discord"`
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls the cron trigger service shared by plugins.
	Scheduler SchedulerConfig `json:"scheduler"`

	Notifier *NotifierConfig            `json:"notifier,omitempty"`
	Storage  *StorageConfig             `json:"storage,omitempty"`
	Plugins  map[string]PluginConfigRaw `json:"plugins"`
}

type DiscordConfig struct {
	Token string `json:"token"`
	// GuildID is the single guild this bot serves. Commands that mutate
	// members (roles, nicknames) always act on this guild.
	GuildID      string   `json:"guild_id"`
	Prefix       string   `json:"prefix,omitempty"` // command prefix, default "!"
	OwnerUserIDs []string `json:"owner_user_ids"`
	AdminRoleIDs []string `json:"admin_role_ids,omitempty"`
	// LogChannel receives the rate-limited log sink output when
	// logging.discord.enabled is set.
	LogChannel string `json:"log_channel,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Discord LoggingDiscord `json:"discord"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingDiscord struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the scheduler service.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
//   - timezone: "UTC"
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	Workers int  `json:"workers,omitempty"`
	// DefaultTimeout is a Go duration string (e.g. "10s", "1m").
	// Use "0s" to disable a global default timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled    bool `json:"enabled"`
	QueueSize  int  `json:"queue_size"`
	RatePerSec int  `json:"rate_per_sec"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "path": "./casebot.db" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields to ensure removed legacy keys
// are caught early during config reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}
