package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAMLConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
discord:
  token: "tok"
  guild_id: "g1"
  prefix: "!"
  owner_user_ids: ["1", "2"]
  admin_role_ids: ["r1"]
  log_channel: "c-log"
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
  discord:
    enabled: true
    min_level: warn
    rate_per_sec: 2
scheduler:
  enabled: true
  timezone: "Europe/Dublin"
plugins:
  timetable:
    enabled: true
    config:
      time: "20:00"
`)
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Discord.Token != "tok" || cfg.Discord.GuildID != "g1" {
		t.Fatalf("discord = %+v", cfg.Discord)
	}
	if len(cfg.Discord.OwnerUserIDs) != 2 || cfg.Discord.OwnerUserIDs[1] != "2" {
		t.Fatalf("owners = %v", cfg.Discord.OwnerUserIDs)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.Timezone != "Europe/Dublin" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	pc, ok := cfg.Plugins["timetable"]
	if !ok || !pc.Enabled || len(pc.Config) == 0 {
		t.Fatalf("plugins = %+v", cfg.Plugins)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
discord:
  token: "tok"
  guild_id: "g1"
telegram:
  token: "legacy"
`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatal("expected unknown-field error for removed legacy section")
	}
}

func TestParseRejectsUnknownPluginKeys(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
discord:
  token: "tok"
  guild_id: "g1"
plugins:
  verify:
    enabled: true
    capabilities: ["net"]
`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatal("expected unknown-field error inside plugin block")
	}
}

func TestParseJSONConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json",
		`{"discord":{"token":"tok","guild_id":"g1"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""},"discord":{"enabled":false,"min_level":"","rate_per_sec":0}},"scheduler":{"enabled":false},"plugins":{}}`)
	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Discord.Token != "tok" {
		t.Fatalf("token = %q", cfg.Discord.Token)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "90s"); err != nil || d.Seconds() != 90 {
		t.Fatalf("90s = (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("expected parse error")
	}
}
