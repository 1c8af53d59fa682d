package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"casebot/internal/eventbus"
	"casebot/internal/storage"
	kit "casebot/internal/transport"
	logx "casebot/pkg/logx"
)

// StopReason explains why a plugin is being stopped (shutdown, disable, quarantine).
type StopReason string

const (
	StopShutdown         StopReason = "shutdown"
	StopPluginDisable    StopReason = "disable"
	StopPluginQuarantine StopReason = "quarantine"
)

type pluginEvent struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
	Count  int    `json:"count,omitempty"`
}

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps PluginDeps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

type PluginDeps struct {
	Logger   logx.Logger
	Adapter  kit.Adapter
	Config   *ConfigManager
	Services *Services
	Bus      eventbus.Bus
	Store    storage.Store

	// GuildID is the single guild this bot instance serves.
	GuildID      string
	OwnerUserIDs []string
}

type PluginManager struct {
	mu sync.Mutex

	log  logx.Logger
	cfgm *ConfigManager
	deps PluginDeps
	reg  map[string]Plugin
	run  map[string]bool
	// inited tracks plugins that have successfully passed Init at least once.
	// Init is not re-called on every enable/disable cycle to prevent
	// double-initialization leaks; plugins that need to react to config
	// changes implement ConfigurablePlugin.
	inited map[string]bool
	// last config blob hash per running plugin (used to avoid redundant OnConfigChange calls)
	lastRawHash map[string]uint64
	// last hash of selected global config values that plugins may implicitly depend on
	lastGlobalHash uint64

	// Internal, long-lived base context for all plugin contexts.
	// baseCtx is NOT the app ctx passed to StartAll/OnConfigUpdate (which may
	// be call-scoped); the app ctx is bound only as a cancellation bridge.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool

	// per-plugin run context (cancelled on disable/stop)
	pctx    map[string]context.Context
	pcancel map[string]context.CancelFunc

	// quarantine tracks plugins that are intentionally kept disabled due to
	// invalid config until the config blob changes.
	quarantine map[string]quarantineState

	cmdm *CommandManager
}

type quarantineState struct {
	rawHash uint64
	err     string
	since   time.Time
	count   int
}

func NewPluginManager(log logx.Logger, cfgm *ConfigManager, deps PluginDeps, cmdm *CommandManager) *PluginManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &PluginManager{
		log:         log,
		cfgm:        cfgm,
		deps:        deps,
		reg:         map[string]Plugin{},
		run:         map[string]bool{},
		inited:      map[string]bool{},
		lastRawHash: map[string]uint64{},
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		pctx:        map[string]context.Context{},
		pcancel:     map[string]context.CancelFunc{},
		quarantine:  map[string]quarantineState{},
		cmdm:        cmdm,
	}
}

func (pm *PluginManager) emit(typ string, data pluginEvent) {
	bus := pm.deps.Bus
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (pm *PluginManager) depsForPlugin(name string) PluginDeps {
	pm.mu.Lock()
	d := pm.deps
	pm.mu.Unlock()
	d.Logger = d.Logger.With(logx.String("plugin", name))
	return d
}

func (pm *PluginManager) isQuarantined(name string, rawHash uint64) bool {
	pm.mu.Lock()
	st, ok := pm.quarantine[name]
	pm.mu.Unlock()
	return ok && st.rawHash == rawHash
}

func (pm *PluginManager) clearQuarantineOnChange(name string, rawHash uint64) {
	pm.mu.Lock()
	st, ok := pm.quarantine[name]
	if ok && st.rawHash != rawHash {
		delete(pm.quarantine, name)
		pm.mu.Unlock()
		pm.log.Info("plugin quarantine cleared (config changed)", logx.String("plugin", name))
		pm.emit("plugin.quarantine_cleared", pluginEvent{Plugin: name})
		return
	}
	pm.mu.Unlock()
}

func (pm *PluginManager) setQuarantine(name string, rawHash uint64, err error, stage string) {
	if err == nil {
		return
	}
	errStr := err.Error()
	pm.mu.Lock()
	prev, ok := pm.quarantine[name]
	// Avoid spamming logs when reconcile runs repeatedly with the same broken config.
	if ok && prev.rawHash == rawHash && prev.err == errStr {
		prev.count++
		pm.quarantine[name] = prev
		pm.mu.Unlock()
		return
	}
	count := 1
	if ok {
		count = prev.count + 1
	}
	pm.quarantine[name] = quarantineState{rawHash: rawHash, err: errStr, since: time.Now(), count: count}
	pm.mu.Unlock()

	pm.log.Error("plugin quarantined", logx.String("plugin", name), logx.String("stage", stage), logx.String("err", errStr))
	pm.emit("plugin.quarantined", pluginEvent{Plugin: name, Stage: stage, Err: errStr, Count: count})
}

// globalDepsHash captures the small subset of config that plugins implicitly
// depend on. Keeping this small avoids poking unrelated plugins on common
// service-level config changes.
func globalDepsHash(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	type deps struct {
		Discord struct {
			GuildID      string   `json:"guild_id"`
			OwnerUserIDs []string `json:"owner_user_ids"`
			AdminRoleIDs []string `json:"admin_role_ids"`
			LogChannel   string   `json:"log_channel"`
		} `json:"discord"`
	}
	var d deps
	d.Discord.GuildID = cfg.Discord.GuildID
	d.Discord.OwnerUserIDs = cfg.Discord.OwnerUserIDs
	d.Discord.AdminRoleIDs = cfg.Discord.AdminRoleIDs
	d.Discord.LogChannel = cfg.Discord.LogChannel
	b, _ := json.Marshal(d)
	return hashBytes(b)
}

// BindContext binds appCtx to baseCtx via cancellation bridge. First non-nil bind wins.
// This avoids plugins dying because caller passed a short-lived ctx into StartAll/OnConfigUpdate.
func (pm *PluginManager) BindContext(appCtx context.Context) {
	pm.mu.Lock()
	if pm.bound || appCtx == nil {
		pm.mu.Unlock()
		return
	}
	pm.bound = true
	baseCancel := pm.baseCancel
	pm.mu.Unlock()

	go func() {
		<-appCtx.Done()
		baseCancel()
	}()
}

func (pm *PluginManager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		pm.reg[pl.Name()] = pl
	}
	pm.refreshRegistryLocked(pm.cfgm.Get())
}

func (pm *PluginManager) StartAll(ctx context.Context) error {
	pm.BindContext(ctx)
	return pm.reconcile(pm.cfgm.Get())
}

func (pm *PluginManager) StopAll(ctx context.Context, reason StopReason) {
	pm.mu.Lock()
	names := make([]string, 0, len(pm.reg))
	for name := range pm.reg {
		names = append(names, name)
	}
	pm.mu.Unlock()

	for _, name := range names {
		pm.stopOne(ctx, name, reason)
	}

	pm.mu.Lock()
	pm.refreshRegistryLocked(pm.cfgm.Get())
	pm.mu.Unlock()
}

func (pm *PluginManager) OnConfigUpdate(ctx context.Context, cfg *Config) {
	pm.BindContext(ctx)
	_ = pm.reconcile(cfg)
}

// SetOwnerUserIDs updates the owner list in PluginDeps so plugins that rely
// on deps.OwnerUserIDs can observe changes after a hot-reload.
func (pm *PluginManager) SetOwnerUserIDs(ids []string) {
	cp := append([]string(nil), ids...)
	pm.mu.Lock()
	pm.deps.OwnerUserIDs = cp
	pm.mu.Unlock()
}

// Running returns the names of currently running plugins, sorted.
func (pm *PluginManager) Running() []string {
	pm.mu.Lock()
	out := make([]string, 0, len(pm.run))
	for name, r := range pm.run {
		if r {
			out = append(out, name)
		}
	}
	pm.mu.Unlock()
	sort.Strings(out)
	return out
}

func (pm *PluginManager) stopOne(stopCtx context.Context, name string, reason StopReason) {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	cancel := pm.pcancel[name]
	pctx := pm.pctx[name]
	pm.mu.Unlock()

	if !running || p == nil {
		return
	}

	start := time.Now()
	pm.log.Debug("stopping plugin", logx.String("plugin", name), logx.String("reason", string(reason)))

	// cancel plugin context first (stop background loops promptly)
	if cancel != nil {
		cancel()
	}

	// call Stop with stopCtx, but do not allow a misbehaving plugin to block shutdown forever.
	done := make(chan struct{})
	go func() {
		_ = pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
		// ok
	case <-stopCtx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.String("err", stopCtx.Err().Error()))
		pm.emit("plugin.stop_timeout", pluginEvent{Plugin: name, Reason: string(reason), Err: stopCtx.Err().Error()})
	}

	pm.mu.Lock()
	pm.run[name] = false
	delete(pm.pctx, name)
	delete(pm.pcancel, name)
	delete(pm.lastRawHash, name)
	pm.mu.Unlock()

	took := time.Since(start)
	pm.emit("plugin.stopped", pluginEvent{Plugin: name, Reason: string(reason), TookMS: took.Milliseconds()})
	if took >= 500*time.Millisecond {
		pm.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", took), logx.Bool("ctx_was_set", pctx != nil))
	} else {
		pm.log.Debug("plugin stopped", logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", took), logx.Bool("ctx_was_set", pctx != nil))
	}
}

func (pm *PluginManager) reconcile(cfg *Config) error {
	// compute global dependency hash once per reconcile (kept intentionally small)
	newGlobal := globalDepsHash(cfg)
	pm.mu.Lock()
	globalChanged := newGlobal != pm.lastGlobalHash
	pm.mu.Unlock()

	// snapshot desired actions without holding lock during plugin calls
	type op struct {
		name    string
		p       Plugin
		raw     PluginConfigRaw
		rawHash uint64
		enabled bool
		run     bool
	}
	pm.mu.Lock()
	ops := make([]op, 0, len(pm.reg))
	for name, p := range pm.reg {
		raw, ok := cfg.Plugins[name]
		enabled := ok && raw.Enabled
		running := pm.run[name]
		rh := effectivePluginHash(raw)
		ops = append(ops, op{name: name, p: p, raw: raw, rawHash: rh, enabled: enabled, run: running})
	}
	pm.mu.Unlock()

	const callTimeout = 10 * time.Second

	for _, o := range ops {
		switch {
		case o.enabled && !o.run:
			// If config changed since last quarantine, clear it so we can retry.
			pm.clearQuarantineOnChange(o.name, o.rawHash)
			if pm.isQuarantined(o.name, o.rawHash) {
				pm.log.Warn("plugin enable skipped (quarantined)", logx.String("plugin", o.name))
				continue
			}
			// Standardized timeout validation is enforced via quarantine (not global config rejection).
			if err := validateStandardTimeouts(o.name, o.raw.Config); err != nil {
				pm.setQuarantine(o.name, o.rawHash, err, "timeouts")
				continue
			}

			pm.log.Debug("plugin enable requested", logx.String("plugin", o.name))
			pm.emit("plugin.enable_requested", pluginEvent{Plugin: o.name})

			// start: create LONG-LIVED plugin ctx from internal base ctx
			pctx, cancel := context.WithCancel(pm.baseCtx)
			deps := pm.depsForPlugin(o.name)

			// init (bounded by timeout ctx)
			pm.mu.Lock()
			needInit := !pm.inited[o.name]
			pm.mu.Unlock()
			if needInit {
				ictx, icancel := context.WithTimeout(pctx, callTimeout)
				err := pm.safeCall("plugin.init."+o.name, func() error { return o.p.Init(ictx, deps) })
				icancel()
				if err != nil {
					pm.log.Error("plugin init failed", logx.String("plugin", o.name), logx.Any("err", err))
					pm.emit("plugin.init_failed", pluginEvent{Plugin: o.name, Err: err.Error()})
					cancel()
					continue
				}
				pm.mu.Lock()
				pm.inited[o.name] = true
				pm.mu.Unlock()
			} else {
				pm.log.Debug("plugin already initialized; skipping Init", logx.String("plugin", o.name))
			}

			// apply config before Start (bounded by timeout ctx)
			if v, ok := o.p.(ConfigValidator); ok {
				cctx, ccancel := context.WithTimeout(pctx, callTimeout)
				if err := v.ValidateConfig(cctx, o.raw.Config); err != nil {
					ccancel()
					pm.setQuarantine(o.name, o.rawHash, fmt.Errorf("config validate: %w", err), "validate")
					pm.emit("plugin.config_invalid", pluginEvent{Plugin: o.name, Err: err.Error()})
					cancel()
					continue
				}
				ccancel()
			}

			if cp, ok := o.p.(ConfigurablePlugin); ok {
				cctx, ccancel := context.WithTimeout(pctx, callTimeout)
				err := pm.safeCall("plugin.config."+o.name, func() error { return cp.OnConfigChange(cctx, o.raw.Config) })
				ccancel()
				if err != nil {
					pm.setQuarantine(o.name, o.rawHash, fmt.Errorf("config apply: %w", err), "config")
					pm.emit("plugin.config_failed", pluginEvent{Plugin: o.name, Err: err.Error()})
					cancel()
					continue
				}
				pm.emit("plugin.config_applied", pluginEvent{Plugin: o.name})
			}

			// Start receives pctx (long-lived); the deadline is enforced externally.
			if err := pm.startWithTimeout(o.name, o.p, pctx, cancel, callTimeout); err != nil {
				pm.log.Error("plugin start failed", logx.String("plugin", o.name), logx.Any("err", err))
				pm.emit("plugin.start_failed", pluginEvent{Plugin: o.name, Err: err.Error()})
				cancel()
				continue
			}

			pm.mu.Lock()
			pm.run[o.name] = true
			pm.pctx[o.name] = pctx
			pm.pcancel[o.name] = cancel
			pm.lastRawHash[o.name] = o.rawHash
			delete(pm.quarantine, o.name)
			pm.mu.Unlock()

			pm.log.Info("plugin started", logx.String("plugin", o.name))
			pm.emit("plugin.started", pluginEvent{Plugin: o.name})

		case !o.enabled && o.run:
			pm.log.Debug("plugin disable requested", logx.String("plugin", o.name))
			pm.emit("plugin.disable_requested", pluginEvent{Plugin: o.name})
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			pm.stopOne(stopCtx, o.name, StopPluginDisable)
			cancel()

		case o.enabled && o.run:
			if cp, ok := o.p.(ConfigurablePlugin); ok {
				newHash := o.rawHash
				pm.mu.Lock()
				oldHash := pm.lastRawHash[o.name]
				pctx := pm.pctx[o.name]
				pm.mu.Unlock()
				// If the raw config blob didn't change and global deps didn't change, skip OnConfigChange.
				// This prevents thrashing schedules/background loops on unrelated config reloads.
				if newHash == oldHash && !globalChanged {
					pm.log.Debug("plugin config unchanged; skipping", logx.String("plugin", o.name))
					break
				}
				// If raw config changed, enforce standardized timeout validation via quarantine.
				if newHash != oldHash {
					if err := validateStandardTimeouts(o.name, o.raw.Config); err != nil {
						pm.setQuarantine(o.name, newHash, err, "timeouts")
						stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
						pm.stopOne(stopCtx, o.name, StopPluginQuarantine)
						cancel()
						break
					}
				}
				if newHash == oldHash && globalChanged {
					pm.log.Debug("plugin config unchanged, but global deps changed; reapplying", logx.String("plugin", o.name))
				}
				if pctx == nil {
					pctx = pm.baseCtx
				}
				cctx, ccancel := context.WithTimeout(pctx, callTimeout)
				err := pm.safeCall("plugin.config."+o.name, func() error { return cp.OnConfigChange(cctx, o.raw.Config) })
				ccancel()
				if err != nil {
					pm.setQuarantine(o.name, newHash, fmt.Errorf("config apply: %w", err), "config")
					pm.emit("plugin.config_failed", pluginEvent{Plugin: o.name, Err: err.Error()})
					stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
					pm.stopOne(stopCtx, o.name, StopPluginQuarantine)
					cancel()
					break
				}
				pm.emit("plugin.config_applied", pluginEvent{Plugin: o.name})
				pm.mu.Lock()
				pm.lastRawHash[o.name] = newHash
				delete(pm.quarantine, o.name)
				pm.mu.Unlock()
			}
		}
	}

	pm.mu.Lock()
	pm.lastGlobalHash = newGlobal
	pm.refreshRegistryLocked(cfg)
	pm.mu.Unlock()
	return nil
}

// startWithTimeout calls Start(pctx) but enforces a deadline. If it times out, plugin ctx is cancelled.
func (pm *PluginManager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	if timeout <= 0 {
		return <-done
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-done:
		return err
	case <-t.C:
		// cancel plugin ctx and wait small grace for Start() to return
		cancel()

		grace := time.NewTimer(2 * time.Second)
		defer grace.Stop()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("start timeout (%s): %w", timeout, err)
			}
			return fmt.Errorf("start timeout (%s)", timeout)
		case <-grace.C:
			return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
		}
	}
}

func (pm *PluginManager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func (pm *PluginManager) refreshRegistryLocked(cfg *Config) {
	cmds := []Command{}
	for name, p := range pm.reg {
		if !pm.run[name] {
			continue
		}
		raw, ok := cfg.Plugins[name]
		if !ok || !raw.Enabled {
			continue
		}
		pto, has := pluginCommandTimeout(cfg, name)

		for _, c := range pm.safeCommands(name, p) {
			c.PluginName = name
			// If plugin timeout set and command doesn't override, apply it.
			if has && c.Timeout <= 0 {
				c.Timeout = pto
			}
			cmds = append(cmds, c)
		}
	}

	pm.cmdm.SetRegistry(cmds)
}

func (pm *PluginManager) safeCommands(name string, p Plugin) (out []Command) {
	if p == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin Commands()",
				logx.String("plugin", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			out = nil
		}
	}()
	return p.Commands()
}

func pluginCommandTimeout(cfg *Config, plugin string) (time.Duration, bool) {
	raw, ok := cfg.Plugins[plugin]
	if !ok || len(raw.Config) == 0 {
		return 0, false
	}
	// Standard schema: plugin.config.timeouts.command
	type wrap struct {
		Timeouts struct {
			Command string `json:"command"`
		} `json:"timeouts"`
	}
	var w wrap
	if err := json.Unmarshal(raw.Config, &w); err != nil {
		return 0, false
	}
	if w.Timeouts.Command == "" {
		return 0, false
	}
	d, err := time.ParseDuration(w.Timeouts.Command)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func validateStandardTimeouts(plugin string, raw json.RawMessage) error {
	// Only validate if "timeouts" is present; this keeps plugin schemas flexible.
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil
	}
	b, ok := top["timeouts"]
	if !ok || len(b) == 0 || string(b) == "null" {
		return nil
	}
	var tm map[string]json.RawMessage
	if err := json.Unmarshal(b, &tm); err != nil {
		return fmt.Errorf("plugin %s: timeouts must be an object", plugin)
	}
	for k, v := range tm {
		switch k {
		case "command", "task", "operation":
			// ok
		default:
			return fmt.Errorf("plugin %s: unknown timeouts field %q (supported: command, task, operation)", plugin, k)
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("plugin %s: invalid timeouts.%s: %w", plugin, k, err)
		}
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("plugin %s: invalid timeouts.%s: %w", plugin, k, err)
		}
	}
	return nil
}

// ValidateConfig performs per-plugin config validation BEFORE committing/applying a new config.
// It does not call Init/Start/Stop and should be fast.
func (pm *PluginManager) ValidateConfig(ctx context.Context, cfg *Config) error {
	pm.mu.Lock()
	type vop struct {
		name string
		p    Plugin
		raw  PluginConfigRaw
		en   bool
	}
	ops := make([]vop, 0, len(pm.reg))
	for name, p := range pm.reg {
		raw, ok := cfg.Plugins[name]
		enabled := ok && raw.Enabled
		ops = append(ops, vop{name: name, p: p, raw: raw, en: enabled})
	}
	pm.mu.Unlock()

	for _, o := range ops {
		if !o.en || o.p == nil {
			continue
		}
		if err := validateStandardTimeouts(o.name, o.raw.Config); err != nil {
			return err
		}
		if v, ok := o.p.(ConfigValidator); ok {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := v.ValidateConfig(cctx, o.raw.Config)
			cancel()
			if err != nil {
				return fmt.Errorf("plugin %s: config validate: %w", o.name, err)
			}
		}
	}
	return nil
}

func effectivePluginHash(raw PluginConfigRaw) uint64 {
	type eff struct {
		Enabled bool   `json:"enabled"`
		Config  uint64 `json:"config_hash"`
	}
	b, _ := json.Marshal(eff{Enabled: raw.Enabled, Config: canonicalHashJSON(raw.Config)})
	return hashBytes(b)
}
