package plugin

import (
	"casebot/internal/config"
	"casebot/internal/runtime/supervisor"
	"casebot/internal/transport/discord/router"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

// PluginConfigRaw is the raw per-plugin config blob inside config.Config.
// It lives in the config package to keep the schema centralized.
type PluginConfigRaw = config.PluginConfigRaw

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

type SupervisorOption = supervisor.SupervisorOption

var NewSupervisor = supervisor.NewSupervisor

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError

// ---- Router API (commands) ----

type Access = router.Access

const (
	AccessEveryone  = router.AccessEveryone
	AccessAdmin     = router.AccessAdmin
	AccessOwnerOnly = router.AccessOwnerOnly
)

type Command = router.Command

type Request = router.Request

type HandlerFunc = router.HandlerFunc

type Services = router.Services

type CommandManager = router.CommandManager

// ---- Service ports (scheduler/notifier) ----

type SchedulerPort = router.SchedulerPort

type NotifierPort = router.NotifierPort

// ---- Scheduler option types ----

type TaskOptions = router.TaskOptions

type Snapshot = router.Snapshot

type OverlapPolicy = router.OverlapPolicy

const (
	OverlapAllow         = router.OverlapAllow
	OverlapSkipIfRunning = router.OverlapSkipIfRunning
)
