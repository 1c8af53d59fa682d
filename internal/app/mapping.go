package app

import (
	"fmt"
	"strings"
	"time"

	"casebot/internal/services/notify"
	"casebot/internal/services/scheduler"
	"casebot/internal/storage"
)

// mapStorageConfig translates the storage section. Omitting the section
// disables persistence entirely (verification and ping lists then fail).
func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when the storage section is present")
	}
	busy, err := parseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Path: path, BusyTimeout: busy}, true, nil
}

// mapNotifierConfig translates the notifier section. An omitted section means
// enabled with defaults; the mod-channel notices depend on it.
func mapNotifierConfig(cfg *Config) (notify.Config, error) {
	out := notify.Config{Enabled: true}
	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	if n.QueueSize < 0 {
		return notify.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	}
	if n.RatePerSec < 0 {
		return notify.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	out.Enabled = n.Enabled
	out.QueueSize = n.QueueSize
	out.RatePerSec = n.RatePerSec
	return out, nil
}

func mapSchedulerConfig(cfg *Config) (scheduler.Config, error) {
	if cfg == nil {
		return scheduler.Config{}, nil
	}
	sc := cfg.Scheduler
	if sc.Workers < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.workers must be >= 0")
	}
	if sc.HistorySize < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.history_size must be >= 0")
	}
	defTimeout, err := parseDurationField("scheduler.default_timeout", sc.DefaultTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{
		Enabled:        sc.Enabled,
		Workers:        sc.Workers,
		DefaultTimeout: defTimeout,
		HistorySize:    sc.HistorySize,
		Timezone:       sc.Timezone,
	}, nil
}
