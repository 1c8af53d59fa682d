package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"casebot/internal/eventbus"
	"casebot/internal/services/notify"
	"casebot/internal/services/scheduler"
	"casebot/internal/storage"
	kit "casebot/internal/transport"
	discord "casebot/internal/transport/discord/adapter"
	logx "casebot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	sched *scheduler.Service
	notif *notify.Service

	cmdm *CommandManager
	pm   *PluginManager

	serv *Services

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "discord"))
	ad, err := discord.New(discord.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Logging service mapping.
	// logx.New() calls Apply() immediately. If the Discord sink is enabled but
	// the log channel isn't set yet, Apply() would warn, so bootstrap with the
	// sink disabled, set the target, then Apply() the final config.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    false, // set target first, then enable via Apply()
			MinLevel:   cfg.Logging.Discord.MinLevel,
			RatePerSec: cfg.Logging.Discord.RatePerSec,
		},
	}
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	logSvc.SetDiscordTarget(strings.TrimSpace(cfg.Discord.LogChannel))

	finalLogCfg := baseLogCfg
	finalLogCfg.Discord.Enabled = cfg.Logging.Discord.Enabled
	logSvc.Apply(finalLogCfg)

	bus := eventbus.New()

	// Storage (optional, but verify and gamenotify refuse to start without it)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("path", sc.Path))
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notify.New(ncfg, ad, log.With(logx.String("comp", "notifier")))

	serv := &Services{
		Scheduler:          schedSvc,
		Notifier:           notifSvc,
		RuntimeSupervisors: NewSupervisorRegistry(),
	}

	cmdm := NewCommandManager(log.With(logx.String("comp", "commands")),
		ad, cfgm, serv, cfg.Discord.Prefix, cfg.Discord.OwnerUserIDs, cfg.Discord.AdminRoleIDs)

	pm := NewPluginManager(log.With(logx.String("comp", "plugins")),
		cfgm, PluginDeps{
			Logger:       log,
			Adapter:      ad,
			Config:       cfgm,
			Services:     serv,
			Bus:          bus,
			Store:        store,
			GuildID:      cfg.Discord.GuildID,
			OwnerUserIDs: cfg.Discord.OwnerUserIDs,
		}, cmdm)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		sched:   schedSvc,
		notif:   notifSvc,
		cmdm:    cmdm,
		pm:      pm,
		serv:    serv,
		updates: make(chan kit.Update, 256),
	}, nil
}

func (a *App) Plugins() *PluginManager { return a.pm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	if a.serv != nil {
		a.serv.AppSupervisor = a.sup
		if a.serv.RuntimeSupervisors == nil {
			a.serv.RuntimeSupervisors = NewSupervisorRegistry()
		}
	}

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
			if strings.TrimSpace(cfg.Discord.Token) == "" {
				return fmt.Errorf("discord.token is required")
			}
			if strings.TrimSpace(cfg.Discord.GuildID) == "" {
				return fmt.Errorf("discord.guild_id is required")
			}
			if _, err := mapSchedulerConfig(cfg); err != nil {
				return err
			}
			if _, err := mapNotifierConfig(cfg); err != nil {
				return err
			}
			if _, _, err := mapStorageConfig(cfg); err != nil {
				return err
			}
			// per-plugin validation
			if a.pm != nil {
				return a.pm.ValidateConfig(c, cfg)
			}
			return nil
		})
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	// Expose adapter supervisor for operational visibility.
	if a.serv != nil {
		if sp, ok := a.adapter.(interface{ Supervisor() *Supervisor }); ok {
			if sup := sp.Supervisor(); sup != nil {
				a.serv.RuntimeSupervisors.Set("discord.adapter", sup)
			}
		}
	}

	if a.notif != nil && a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	// Debug-level event log; components can also subscribe themselves.
	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs, pluginChanged := SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
					if len(pluginChanged) > 0 {
						a.log.Debug("plugin config changes detected", logx.Any("plugins", pluginChanged))
					}
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				for _, s := range sections {
					if s == "storage" {
						a.log.Warn("storage config changed; restart required for changes to take effect")
						break
					}
				}

				// update log target first so Apply() doesn't warn when the
				// Discord sink is enabled
				a.logs.SetDiscordTarget(strings.TrimSpace(newCfg.Discord.LogChannel))
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
					Discord: logx.DiscordConfig{
						Enabled:    newCfg.Logging.Discord.Enabled,
						MinLevel:   newCfg.Logging.Discord.MinLevel,
						RatePerSec: newCfg.Logging.Discord.RatePerSec,
					},
				})

				// Access lists and prefix used by the router.
				a.cmdm.SetAccessLists(newCfg.Discord.OwnerUserIDs, newCfg.Discord.AdminRoleIDs)
				a.cmdm.SetPrefix(newCfg.Discord.Prefix)
				a.pm.SetOwnerUserIDs(newCfg.Discord.OwnerUserIDs)

				// apply scheduler updates (live)
				prevSchedEnabled := a.sched.Enabled()
				newSchedCfg, err := mapSchedulerConfig(newCfg)
				if err != nil {
					a.log.Warn("invalid scheduler config; keeping previous", logx.Any("err", err))
				} else {
					a.sched.Apply(newSchedCfg)
					if prevSchedEnabled && !newSchedCfg.Enabled {
						a.log.Info("scheduler disabled via config")
						stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
						a.sched.Stop(stopCtx)
						cancel()
					} else if !prevSchedEnabled && newSchedCfg.Enabled {
						a.log.Info("scheduler enabled via config")
						a.sched.Start(c)
					}
				}

				// apply notifier updates (live)
				if a.notif != nil {
					prevNotifEnabled := a.notif.Enabled()
					ncfg, err := mapNotifierConfig(newCfg)
					if err != nil {
						a.log.Warn("invalid notifier config; keeping previous", logx.Any("err", err))
					} else {
						a.notif.Apply(ncfg)
						if prevNotifEnabled && !ncfg.Enabled {
							a.log.Info("notifier disabled via config")
							stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
							a.notif.Stop(stopCtx)
							cancel()
						} else if !prevNotifEnabled && ncfg.Enabled {
							a.log.Info("notifier enabled via config")
							a.notif.Start(c)
						}
					}
				}

				// apply plugin enable/disable + per-plugin config
				a.pm.OnConfigUpdate(c, newCfg)

				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Stop plugins first (they may depend on services). StopAll is timeout-safe per-plugin.
	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 1*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
