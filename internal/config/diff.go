package config

import (
	"reflect"
	"sort"
	"strings"

	logx "casebot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) a list of plugin names that changed (enable/config).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Discord (never log token)
	if !reflect.DeepEqual(oldCfg.Discord.OwnerUserIDs, newCfg.Discord.OwnerUserIDs) ||
		!reflect.DeepEqual(oldCfg.Discord.AdminRoleIDs, newCfg.Discord.AdminRoleIDs) ||
		strings.TrimSpace(oldCfg.Discord.GuildID) != strings.TrimSpace(newCfg.Discord.GuildID) ||
		strings.TrimSpace(oldCfg.Discord.Prefix) != strings.TrimSpace(newCfg.Discord.Prefix) ||
		strings.TrimSpace(oldCfg.Discord.LogChannel) != strings.TrimSpace(newCfg.Discord.LogChannel) {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.Bool("discord.guild_set", strings.TrimSpace(newCfg.Discord.GuildID) != ""),
			logx.Int("discord.owner_count", len(newCfg.Discord.OwnerUserIDs)),
			logx.Int("discord.admin_role_count", len(newCfg.Discord.AdminRoleIDs)),
			logx.Bool("discord.log_channel_set", strings.TrimSpace(newCfg.Discord.LogChannel) != ""),
		)
	}

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) ||
		oldCfg.Logging.Discord.Enabled != newCfg.Logging.Discord.Enabled ||
		oldCfg.Logging.Discord.MinLevel != newCfg.Logging.Discord.MinLevel ||
		oldCfg.Logging.Discord.RatePerSec != newCfg.Logging.Discord.RatePerSec {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.discord_enabled", newCfg.Logging.Discord.Enabled),
		)
	}

	// Scheduler
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	// Notifier. Section may be nil (omitted); treat nil as runtime defaults
	// for a more accurate summary.
	defN := &NotifierConfig{Enabled: true, QueueSize: 512, RatePerSec: 3}
	oldN := oldCfg.Notifier
	newN := newCfg.Notifier
	if oldN == nil {
		oldN = defN
	}
	if newN == nil {
		newN = defN
	}
	if !reflect.DeepEqual(*oldN, *newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
		)
	}

	// Storage
	var oPath, nPath, oBusy, nBusy string
	if oldCfg.Storage != nil {
		oPath = strings.TrimSpace(oldCfg.Storage.Path)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
	}
	if newCfg.Storage != nil {
		nPath = strings.TrimSpace(newCfg.Storage.Path)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
	}
	if oPath != nPath || oBusy != nBusy {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", nPath != ""),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Plugins (summarize only; details at debug)
	pluginChanged := diffPlugins(oldCfg.Plugins, newCfg.Plugins)
	if len(pluginChanged) > 0 {
		changed = append(changed, "plugins")
		attrs = append(attrs,
			logx.Int("plugins.changed_count", len(pluginChanged)),
			logx.Int("plugins.enabled_count", countEnabled(newCfg.Plugins)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, pluginChanged
}

func countEnabled(m map[string]PluginConfigRaw) int {
	if len(m) == 0 {
		return 0
	}
	n := 0
	for _, v := range m {
		if v.Enabled {
			n++
		}
	}
	return n
}

func diffPlugins(oldM, newM map[string]PluginConfigRaw) []string {
	if oldM == nil {
		oldM = map[string]PluginConfigRaw{}
	}
	if newM == nil {
		newM = map[string]PluginConfigRaw{}
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o := oldM[name]
		n := newM[name]
		if o.Enabled != n.Enabled {
			out = append(out, name)
			continue
		}
		if canonicalHashJSON(o.Config) != canonicalHashJSON(n.Config) {
			out = append(out, name)
			continue
		}
	}
	sort.Strings(out)
	return out
}
