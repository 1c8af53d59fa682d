// Package adapter wraps a discordgo session behind the platform-neutral
// transport.Adapter interface.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	rtsup "casebot/internal/runtime/supervisor"
	kit "casebot/internal/transport"
	logx "casebot/pkg/logx"
)

type Config struct {
	Token string
	// GuildID scopes the adapter: messages from other guilds are dropped.
	// Empty means accept everything (tests, single-guild bots rely on config).
	GuildID string
}

type Adapter struct {
	cfg Config
	log logx.Logger

	session *discordgo.Session
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (drop logger, close watcher).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the gateway. Logged periodically to avoid per-update spam.
	droppedUpdates uint64

	dmMu    sync.Mutex
	dmCache map[string]string // userID -> DM channel ID
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentMessageContent

	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, session: s, dmCache: map[string]string{}}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		isDM := m.GuildID == ""
		if !isDM && a.cfg.GuildID != "" && m.GuildID != a.cfg.GuildID {
			return
		}

		msg := &kit.Message{
			ID:           m.ID,
			ChannelID:    m.ChannelID,
			GuildID:      m.GuildID,
			FromID:       m.Author.ID,
			FromUsername: m.Author.Username,
			FromDisplay:  m.Author.Username,
			Text:         m.Content,
			IsDM:         isDM,
		}
		if m.Member != nil {
			msg.FromRoleIDs = append([]string(nil), m.Member.Roles...)
			if m.Member.Nick != "" {
				msg.FromDisplay = m.Member.Nick
			}
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	})

	a.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		a.log.Info("gateway ready",
			logx.String("user", r.User.Username),
			logx.Int("guilds", len(r.Guilds)),
		)
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "discord.adapter"))),
		// adapter errors should not take down the whole app
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// discordgo maintains its own gateway goroutines with reconnects;
	// Open just establishes the websocket.
	if err := a.session.Open(); err != nil {
		a.runMu.Lock()
		a.running = false
		a.sup = nil
		a.runMu.Unlock()
		sup.Cancel()
		return err
	}

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				// Final flush.
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	// Close the gateway when the adapter context is cancelled.
	sup.Go0("gateway.close_on_cancel", func(c context.Context) {
		<-c.Done()
		_ = a.session.Close()
	})

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", atomic.LoadUint64(&a.droppedUpdates)))
	if !wasRunning {
		a.log.Debug("discord stop called but not running")
		return nil
	}

	if sup != nil {
		sup.Cancel()
	}
	if err := a.session.Close(); err != nil {
		a.log.Warn("gateway close error", logx.Err(err))
	}

	if sup == nil {
		return nil
	}

	// Grace window: keep shutdown snappy even if the websocket lingers.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("discord stop timed out", logx.Err(err))
			return nil
		}
		if sup.Context().Err() != nil {
			a.log.Debug("discord stopped with supervisor error", logx.Err(err))
			return nil
		}
		a.log.Warn("discord stop error", logx.Err(err))
	}
	return nil
}

// Discord caps a message body at 2000 characters.
const discordTextLimit = 2000

// splitDiscordText splits long messages into chunks that are safe to send.
// It prefers newline boundaries to avoid breaking formatted blocks mid-line.
func splitDiscordText(s string, limit int) []string {
	if limit <= 0 {
		limit = discordTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid extremely small chunks.
					if i-start >= limit/3 {
						cut = i + 1
						break
					}
				}
			}
			if cut != -1 {
				end = cut
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func noMentions(opt *kit.SendOptions) *discordgo.MessageAllowedMentions {
	if opt != nil && opt.SuppressMention {
		return &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
	}
	return nil
}

func toDiscordEmbed(e *kit.Embed) *discordgo.MessageEmbed {
	if e == nil {
		return nil
	}
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	if opt.Embed != nil {
		send := &discordgo.MessageSend{
			Content:         text,
			Embeds:          []*discordgo.MessageEmbed{toDiscordEmbed(opt.Embed)},
			AllowedMentions: noMentions(opt),
		}
		msg, err := a.session.ChannelMessageSendComplex(to.ChannelID, send, discordgo.WithContext(ctx))
		if err != nil {
			return kit.MessageRef{}, err
		}
		return kit.MessageRef{ChannelID: to.ChannelID, MessageID: msg.ID}, nil
	}

	chunks := splitDiscordText(text, discordTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			if first.MessageID != "" {
				return first, err
			}
			return kit.MessageRef{}, err
		}
		send := &discordgo.MessageSend{Content: chunk, AllowedMentions: noMentions(opt)}
		msg, err := a.session.ChannelMessageSendComplex(to.ChannelID, send, discordgo.WithContext(ctx))
		if err != nil {
			if first.MessageID != "" {
				return first, err
			}
			return kit.MessageRef{}, err
		}
		if i == 0 {
			first = kit.MessageRef{ChannelID: to.ChannelID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	edit := discordgo.NewMessageEdit(ref.ChannelID, ref.MessageID)
	if opt.Embed != nil {
		edit.SetEmbed(toDiscordEmbed(opt.Embed))
		if text != "" {
			edit.SetContent(text)
		}
	} else {
		edit.SetContent(text)
	}
	_, err := a.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return err
}

func (a *Adapter) OpenDM(ctx context.Context, userID string) (kit.ChatTarget, error) {
	a.dmMu.Lock()
	if id, ok := a.dmCache[userID]; ok {
		a.dmMu.Unlock()
		return kit.ChatTarget{ChannelID: id}, nil
	}
	a.dmMu.Unlock()

	ch, err := a.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return kit.ChatTarget{}, err
	}

	a.dmMu.Lock()
	a.dmCache[userID] = ch.ID
	a.dmMu.Unlock()
	return kit.ChatTarget{ChannelID: ch.ID}, nil
}

func (a *Adapter) Member(ctx context.Context, guildID, userID string) (kit.Member, error) {
	m, err := a.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return kit.Member{}, err
	}
	return toMember(m), nil
}

func (a *Adapter) Members(ctx context.Context, guildID string) ([]kit.Member, error) {
	var out []kit.Member
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		page, err := a.session.GuildMembers(guildID, after, 1000, discordgo.WithContext(ctx))
		if err != nil {
			return out, err
		}
		if len(page) == 0 {
			return out, nil
		}
		for _, m := range page {
			out = append(out, toMember(m))
		}
		after = page[len(page)-1].User.ID
		if len(page) < 1000 {
			return out, nil
		}
	}
}

func toMember(m *discordgo.Member) kit.Member {
	km := kit.Member{
		RoleIDs: append([]string(nil), m.Roles...),
	}
	if m.User != nil {
		km.UserID = m.User.ID
		km.Username = m.User.Username
		km.DisplayName = m.User.Username
		km.IsBot = m.User.Bot
	}
	if m.Nick != "" {
		km.DisplayName = m.Nick
	}
	return km
}

func (a *Adapter) AddRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error {
	for _, r := range roleIDs {
		if r == "" {
			continue
		}
		opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
		if reason != "" {
			opts = append(opts, discordgo.WithAuditLogReason(reason))
		}
		if err := a.session.GuildMemberRoleAdd(guildID, userID, r, opts...); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) RemoveRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error {
	for _, r := range roleIDs {
		if r == "" {
			continue
		}
		opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
		if reason != "" {
			opts = append(opts, discordgo.WithAuditLogReason(reason))
		}
		if err := a.session.GuildMemberRoleRemove(guildID, userID, r, opts...); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) SetNickname(ctx context.Context, guildID, userID, nick string) error {
	return a.session.GuildMemberNickname(guildID, userID, nick, discordgo.WithContext(ctx))
}
