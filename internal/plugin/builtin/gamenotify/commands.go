package gamenotify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	core "casebot/internal/plugin"
	kit "casebot/internal/transport"
	logx "casebot/pkg/logx"
)

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "addping",
			Description: "toggle your ping subscription for a game",
			Usage:       "addping <game>",
			GuildOnly:   true,
			Handle:      p.handleAddPing,
		},
		{
			Route:       "notify",
			Description: "ping everyone subscribed to a game",
			Usage:       "notify <game>",
			GuildOnly:   true,
			Handle:      p.handleNotify,
		},
		{
			Route:       "listgames",
			Description: "list games with ping lists",
			Usage:       "listgames",
			GuildOnly:   true,
			Handle:      p.handleListGames,
		},
		{
			Route:       "listpings",
			Description: "list subscribers of a game",
			Usage:       "listpings <game>",
			GuildOnly:   true,
			Handle:      p.handleListPings,
		},
		{
			Route:       "delgame",
			Description: "delete a game and its ping list",
			Usage:       "delgame <game>",
			Access:      core.AccessAdmin,
			GuildOnly:   true,
			Handle:      p.handleDelGame,
		},
	}
}

// gameArg normalizes the game name: multi-word names are allowed and matching
// is case-insensitive.
func gameArg(args []string) string {
	return strings.ToLower(strings.TrimSpace(strings.Join(args, " ")))
}

func (p *Plugin) handleAddPing(ctx context.Context, req *core.Request) error {
	game := gameArg(req.Args)
	if game == "" {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Usage: `addping <game>`", nil)
		return nil
	}
	subscribed, err := p.Deps.Store.TogglePing(ctx, req.GuildID, game, req.FromID)
	if err != nil {
		return fmt.Errorf("toggle ping: %w", err)
	}
	msg := fmt.Sprintf("You will no longer be notified for %s.", game)
	if subscribed {
		msg = fmt.Sprintf("You will now be notified for %s.", game)
	}
	_, _ = req.Adapter.SendText(ctx, req.Chat, msg, nil)
	return nil
}

// handleNotify pings all subscribers of a game that are still in the guild.
// A per-user cooldown (persisted, so restarts do not reset it) limits abuse.
func (p *Plugin) handleNotify(ctx context.Context, req *core.Request) error {
	cfg := p.snapshot()
	st := p.Deps.Store

	game := gameArg(req.Args)
	if game == "" {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Usage: `notify <game>`", nil)
		return nil
	}

	cdKey := "gamenotify:cooldown:" + req.FromID
	if until, ok, err := st.GetDedup(ctx, cdKey); err == nil && ok && time.Now().Before(until) {
		wait := time.Until(until).Round(time.Second)
		_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("Please wait %s before notifying again.", wait), nil)
		return nil
	}

	subs, ok, err := st.GameSubscribers(ctx, req.GuildID, game)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}
	if !ok {
		_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("No ping list exists for %s. Create one with `addping %s`.", game, game), nil)
		return nil
	}

	var mentions []string
	for _, userID := range subs {
		if userID == req.FromID {
			continue
		}
		// Members who left the guild keep their subscription row but must
		// not produce dead mentions.
		if _, err := req.Adapter.Member(ctx, req.GuildID, userID); err != nil {
			p.Log.Debug("skip departed subscriber", logx.String("user_id", userID), logx.String("game", game))
			continue
		}
		mentions = append(mentions, fmt.Sprintf("<@%s>", userID))
	}
	if len(mentions) == 0 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("Nobody else is subscribed to %s.", game), nil)
		return nil
	}

	if err := st.PutDedup(ctx, cdKey, time.Now().Add(cfg.cooldown)); err != nil {
		p.Log.Warn("arm notify cooldown", logx.Any("err", err))
	}

	text := fmt.Sprintf("<@%s> wants to play %s!\n%s", req.FromID, game, strings.Join(mentions, " "))
	_, _ = req.Adapter.SendText(ctx, req.Chat, text, nil)
	return nil
}

func (p *Plugin) handleListGames(ctx context.Context, req *core.Request) error {
	games, err := p.Deps.Store.Games(ctx, req.GuildID)
	if err != nil {
		return fmt.Errorf("list games: %w", err)
	}
	if len(games) == 0 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "No ping lists exist yet. Create one with `addping <game>`.", nil)
		return nil
	}
	sort.Strings(games)
	_, _ = req.Adapter.SendText(ctx, req.Chat, "Games with ping lists:\n"+strings.Join(games, "\n"), &kit.SendOptions{SuppressMention: true})
	return nil
}

func (p *Plugin) handleListPings(ctx context.Context, req *core.Request) error {
	game := gameArg(req.Args)
	if game == "" {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Usage: `listpings <game>`", nil)
		return nil
	}
	subs, ok, err := p.Deps.Store.GameSubscribers(ctx, req.GuildID, game)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}
	if !ok {
		_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("No ping list exists for %s.", game), nil)
		return nil
	}
	if len(subs) == 0 {
		_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("Nobody is subscribed to %s.", game), nil)
		return nil
	}
	mentions := make([]string, 0, len(subs))
	for _, userID := range subs {
		mentions = append(mentions, fmt.Sprintf("<@%s>", userID))
	}
	text := fmt.Sprintf("%d subscribed to %s: %s", len(subs), game, strings.Join(mentions, " "))
	_, _ = req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{SuppressMention: true})
	return nil
}

func (p *Plugin) handleDelGame(ctx context.Context, req *core.Request) error {
	game := gameArg(req.Args)
	if game == "" {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Usage: `delgame <game>`", nil)
		return nil
	}
	existed, err := p.Deps.Store.DeleteGame(ctx, req.GuildID, game)
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	if !existed {
		_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("No ping list exists for %s.", game), nil)
		return nil
	}
	_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("Deleted the ping list for %s.", game), nil)
	return nil
}
