package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	kit "casebot/internal/transport"
	logx "casebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g.:
	//   "ping"
	//   "verify email"
	Route       string
	Aliases     []string // root-level aliases, e.g. ["fixroles"]
	Description string
	Usage       string
	Access      Access

	// DMOnly restricts the command to direct messages; GuildOnly to guild
	// channels. Both unset means the command runs anywhere.
	DMOnly    bool
	GuildOnly bool

	// Cooldown is a per-user minimum interval between invocations.
	Cooldown time.Duration

	PluginName string
	Timeout    time.Duration // optional per-command override
	Handle     HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	GuildID string // empty in DMs
	FromID  string
	IsDM    bool
	Path    []string // matched command path tokens
	Command string
	Args    []string

	// Parsed arguments
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter  kit.Adapter
	Config   *Config
	Logger   logx.Logger
	Services *Services
	Owners   []string
}

type Services struct {
	Scheduler SchedulerPort
	Notifier  NotifierPort

	// AppSupervisor is set by the app once started.
	// It can be nil in minimal/test environments.
	AppSupervisor *Supervisor

	// RuntimeSupervisors exposes additional subsystem supervisors (adapter,
	// plugin runtime) for operational commands. Entries may be nil in
	// minimal/test environments.
	RuntimeSupervisors *SupervisorRegistry
}

type SchedulerPort interface {
	Enabled() bool
	Location() *time.Location
	Snapshot() Snapshot

	AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddCronOpt(name, spec string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error)

	AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error)

	AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddWeekly(name string, weekday time.Weekday, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error)

	Remove(name string) bool
}

type NotifierPort interface {
	Notify(ctx context.Context, n kit.Notification) error
}

type CommandManager struct {
	mu sync.RWMutex

	root  *cmdNode
	alias map[string]*cmdNode // alias -> leaf node

	prefix     string
	owners     []string
	adminRoles []string

	cdMu      sync.Mutex
	cooldowns map[string]time.Time // route+user -> last run

	log     logx.Logger
	adapter kit.Adapter
	cfgm    *ConfigManager
	serv    *Services

	runMu   sync.Mutex
	running bool
	sup     *Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, cfgm *ConfigManager, serv *Services, prefix string, owners, adminRoles []string) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = "!"
	}
	// copy to avoid callers mutating the slices after construction
	ownCopy := append([]string(nil), owners...)
	admCopy := append([]string(nil), adminRoles...)
	return &CommandManager{
		root:       newRoot(),
		alias:      map[string]*cmdNode{},
		cooldowns:  map[string]time.Time{},
		log:        log,
		adapter:    adapter,
		cfgm:       cfgm,
		serv:       serv,
		prefix:     prefix,
		owners:     ownCopy,
		adminRoles: admCopy,
		jobs:       make(chan func(), 256),
	}
}

// Supervisor returns the command manager's internal supervisor (nil if not running).
func (m *CommandManager) Supervisor() *Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetAccessLists updates the owner/admin-role lists used for access checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetAccessLists(owners, adminRoles []string) {
	ownCopy := append([]string(nil), owners...)
	admCopy := append([]string(nil), adminRoles...)
	m.mu.Lock()
	m.owners = ownCopy
	m.adminRoles = admCopy
	m.mu.Unlock()
}

// SetPrefix updates the command prefix. Safe to call during hot-reload.
func (m *CommandManager) SetPrefix(prefix string) {
	if strings.TrimSpace(prefix) == "" {
		return
	}
	m.mu.Lock()
	m.prefix = prefix
	m.mu.Unlock()
}

func (m *CommandManager) accessSnapshot() (prefix string, owners, adminRoles []string) {
	m.mu.RLock()
	prefix = m.prefix
	owners = append([]string(nil), m.owners...)
	adminRoles = append([]string(nil), m.adminRoles...)
	m.mu.RUnlock()
	return prefix, owners, adminRoles
}

func (m *CommandManager) SetRegistry(cmds []Command) {
	// always inject help
	helper := Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show command help",
		Usage:       "help [cmd] [sub...]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			text := m.helpText(req.Args)
			_, _ = req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{SuppressMention: true})
			return nil
		},
	}
	cmds = append(cmds, helper)

	root := newRoot()
	alias := map[string]*cmdNode{}

	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		cc := c // copy
		root.add(route, cc)

		leaf := root.find(route)
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			// An alias equal to the base token of a multi-token route would
			// short-circuit subcommand traversal; skip it.
			if len(route) > 1 && a == route[0] {
				continue
			}
			alias[a] = leaf
		}
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.mu.Unlock()
}

func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	// bounded worker pool
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	// Internal supervisor keeps the worker pool resilient and observable.
	sup := NewSupervisor(ctx,
		WithLogger(m.log.With(logx.String("comp", "discord.router"))),
		WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	if m.serv != nil && m.serv.RuntimeSupervisors != nil {
		m.serv.RuntimeSupervisors.Set("discord.router", sup)
	}

	if !m.log.IsZero() {
		m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))
	}

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			// Mark as not running before closing so enqueue can degrade gracefully.
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		name := "command.worker." + strconv.Itoa(idx)
		sup.GoRestart(name, func(c context.Context) error {
			if !m.log.IsZero() {
				m.log.Debug("command worker started", logx.Int("worker", idx))
			}
			defer func() {
				if !m.log.IsZero() {
					m.log.Debug("command worker stopped", logx.Int("worker", idx))
				}
			}()
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					// A job should never panic (middleware already catches),
					// but keep workers alive if it happens.
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			WithPublishFirstError(true),
			WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		// Wait briefly for workers to drain.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		if m.serv != nil && m.serv.RuntimeSupervisors != nil {
			m.serv.RuntimeSupervisors.Delete("discord.router")
		}
		m.setSupervisor(nil, false)
		if !m.log.IsZero() {
			m.log.Info("command dispatcher stopped")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if !m.log.IsZero() {
				m.log.Info("command dispatcher stopped", logx.Any("err", ctx.Err()))
			}
			return nil
		case up, ok := <-updates:
			if !ok {
				if !m.log.IsZero() {
					m.log.Info("command dispatcher stopped (updates channel closed)")
				}
				return nil
			}
			if up.Kind == kit.UpdateMessage {
				m.routeMessage(ctx, up)
			}
		}
	}
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	prefix, _, _ := m.accessSnapshot()

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, prefix) {
		return
	}
	text = text[len(prefix):]

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(parts[0])
	args := []string{}
	if len(parts) > 1 {
		args = parts[1:]
	}

	// snapshot registry
	m.mu.RLock()
	rootNode := m.root
	aliasMap := m.alias
	m.mu.RUnlock()

	// alias as root-level shortcut
	if leaf, ok := aliasMap[word]; ok && leaf != nil && leaf.cmd != nil {
		cmd := *leaf.cmd
		pos, flags, bools := parseFlags(args)
		m.enqueueCommand(root, up, cmd, splitRoute(cmd.Route), pos, args, flags, bools)
		return
	}

	// traverse subcommand tree
	cur, ok := rootNode.child(word)
	if !ok {
		// Unknown words in chat are common; only respond in DMs where the
		// bot is clearly being addressed.
		if msg.IsDM {
			_, _ = m.adapter.SendText(root, kit.ChatTarget{ChannelID: msg.ChannelID}, "unknown command, try "+prefix+"help", nil)
		}
		return
	}
	path := []string{word}
	for len(args) > 0 {
		nxt := strings.ToLower(args[0])
		if strings.HasPrefix(nxt, "-") { // flags start, stop subcommand traversal
			break
		}
		child, ok := cur.child(nxt)
		if !ok {
			break
		}
		cur = child
		path = append(path, nxt)
		args = args[1:]
	}

	// If container node without handler: show help for that path
	if cur.cmd == nil {
		txt := m.helpText(path)
		_, _ = m.adapter.SendText(root, kit.ChatTarget{ChannelID: msg.ChannelID}, txt, &kit.SendOptions{SuppressMention: true})
		return
	}

	cmd := *cur.cmd
	pos, flags, bools := parseFlags(args)
	m.enqueueCommand(root, up, cmd, path, pos, args, flags, bools)
}

func (m *CommandManager) enqueueCommand(root context.Context, up kit.Update, cmd Command, path []string, args []string, raw []string, flags map[string]string, bools map[string]bool) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChannelID: msg.ChannelID}

	_, owners, adminRoles := m.accessSnapshot()

	if cmd.DMOnly && !msg.IsDM {
		_, _ = m.adapter.SendText(root, chat, "this command only works in a DM", nil)
		return
	}
	if cmd.GuildOnly && msg.IsDM {
		_, _ = m.adapter.SendText(root, chat, "this command only works in the server", nil)
		return
	}

	switch cmd.Access {
	case AccessOwnerOnly:
		if !contains(owners, msg.FromID) {
			_, _ = m.adapter.SendText(root, chat, "unauthorized", nil)
			return
		}
	case AccessAdmin:
		if !contains(owners, msg.FromID) && !hasAnyRole(msg.FromRoleIDs, adminRoles) {
			_, _ = m.adapter.SendText(root, chat, "unauthorized", nil)
			return
		}
	}

	if cmd.Cooldown > 0 {
		if wait, hot := m.onCooldown(cmd.Route, msg.FromID, cmd.Cooldown); hot {
			_, _ = m.adapter.SendText(root, chat, "slow down, try again in "+wait.Round(time.Second).String(), nil)
			return
		}
	}

	rid := newReqID()
	reqLog := m.log.With(
		logx.String("rid", rid),
		logx.String("channel_id", msg.ChannelID),
		logx.String("from_id", msg.FromID),
		logx.String("cmd", cmd.Route),
	)

	req := &Request{
		Update:    up,
		Chat:      chat,
		GuildID:   msg.GuildID,
		FromID:    msg.FromID,
		IsDM:      msg.IsDM,
		Path:      path,
		Command:   cmd.Route,
		Args:      args,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Adapter:   m.adapter,
		Config:    m.cfgm.Get(),
		Logger:    reqLog,
		Services:  m.serv,
		Owners:    owners,
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)

	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, req.Chat, "busy, try again", nil)
	}
}

// onCooldown reports whether route+user is still inside the cooldown window
// and arms it otherwise.
func (m *CommandManager) onCooldown(route, userID string, d time.Duration) (time.Duration, bool) {
	key := route + "\x00" + userID
	now := time.Now()
	m.cdMu.Lock()
	defer m.cdMu.Unlock()
	if last, ok := m.cooldowns[key]; ok {
		if rem := d - now.Sub(last); rem > 0 {
			return rem, true
		}
	}
	m.cooldowns[key] = now
	// Bound the map on a long-running bot.
	if len(m.cooldowns) > 4096 {
		for k, t := range m.cooldowns {
			if now.Sub(t) > time.Hour {
				delete(m.cooldowns, k)
			}
		}
	}
	return 0, false
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func hasAnyRole(held, wanted []string) bool {
	for _, w := range wanted {
		if contains(held, w) {
			return true
		}
	}
	return false
}
