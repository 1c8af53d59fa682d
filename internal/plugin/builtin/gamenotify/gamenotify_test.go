package gamenotify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	core "casebot/internal/plugin"
	"casebot/internal/storage"
	kit "casebot/internal/transport"
	logx "casebot/pkg/logx"
)

type fakeStore struct {
	mu    sync.Mutex
	games map[string][]string // game -> subscribers, single guild
	dedup map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{games: map[string][]string{}, dedup: map[string]time.Time{}}
}

func (s *fakeStore) Games(_ context.Context, _ string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.games))
	for g := range s.games {
		out = append(out, g)
	}
	return out, nil
}

func (s *fakeStore) GameSubscribers(_ context.Context, _, game string) ([]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, ok := s.games[game]
	return append([]string(nil), subs...), ok, nil
}

func (s *fakeStore) TogglePing(_ context.Context, _, game, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, ok := s.games[game]
	if !ok {
		s.games[game] = []string{userID}
		return true, nil
	}
	for i, u := range subs {
		if u == userID {
			s.games[game] = append(subs[:i], subs[i+1:]...)
			return false, nil
		}
	}
	s.games[game] = append(subs, userID)
	return true, nil
}

func (s *fakeStore) DeleteGame(_ context.Context, _, game string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.games[game]
	delete(s.games, game)
	return ok, nil
}

func (s *fakeStore) PutDedup(_ context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[key] = until
	return nil
}

func (s *fakeStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.dedup[key]
	return t, ok, nil
}

func (s *fakeStore) UserVerification(_ context.Context, userID string) (storage.VerificationRecord, error) {
	return storage.VerificationRecord{UserID: userID}, nil
}
func (s *fakeStore) UpdateUserVerification(context.Context, string, func(*storage.VerificationRecord) error) error {
	return nil
}
func (s *fakeStore) IsEmailVerified(context.Context, string) (bool, error)  { return false, nil }
func (s *fakeStore) AddVerifiedEmail(context.Context, string) error         { return nil }
func (s *fakeStore) RemoveVerifiedEmail(context.Context, string) error      { return nil }
func (s *fakeStore) WelcomeMessages(context.Context) ([]string, error)      { return nil, nil }
func (s *fakeStore) AddWelcomeMessage(context.Context, string) error        { return nil }
func (s *fakeStore) RemoveWelcomeMessage(context.Context, int) (string, error) {
	return "", fmt.Errorf("not implemented")
}
func (s *fakeStore) Setting(context.Context, string) (string, bool, error) { return "", false, nil }
func (s *fakeStore) PutSetting(context.Context, string, string) error      { return nil }
func (s *fakeStore) AppendAudit(context.Context, storage.AuditEntry) error { return nil }
func (s *fakeStore) Close() error                                          { return nil }

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []string
	members map[string]bool // userID -> present in guild
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return kit.MessageRef{}, nil
}

func (a *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (a *fakeAdapter) OpenDM(context.Context, string) (kit.ChatTarget, error) {
	return kit.ChatTarget{}, nil
}

func (a *fakeAdapter) Member(_ context.Context, _, userID string) (kit.Member, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.members[userID] {
		return kit.Member{}, fmt.Errorf("member %s not found", userID)
	}
	return kit.Member{UserID: userID}, nil
}

func (a *fakeAdapter) Members(context.Context, string) ([]kit.Member, error) { return nil, nil }
func (a *fakeAdapter) AddRoles(context.Context, string, string, []string, string) error {
	return nil
}
func (a *fakeAdapter) RemoveRoles(context.Context, string, string, []string, string) error {
	return nil
}
func (a *fakeAdapter) SetNickname(context.Context, string, string, string) error { return nil }

func (a *fakeAdapter) lastSent(t *testing.T) string {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return a.sent[len(a.sent)-1]
}

func newTestEnv(t *testing.T) (*Plugin, *fakeStore, *fakeAdapter) {
	t.Helper()
	store := newFakeStore()
	adapter := &fakeAdapter{members: map[string]bool{}}

	p := New()
	deps := core.PluginDeps{Logger: logx.Nop(), Adapter: adapter, Store: store, GuildID: "g1"}
	if err := p.Init(context.Background(), deps); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := p.OnConfigChange(context.Background(), nil); err != nil {
		t.Fatalf("config: %v", err)
	}
	return p, store, adapter
}

func request(adapter *fakeAdapter, fromID string, args ...string) *core.Request {
	return &core.Request{
		Update: kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
			FromID: fromID, GuildID: "g1", ChannelID: "c1",
		}},
		Chat:    kit.ChatTarget{ChannelID: "c1"},
		GuildID: "g1",
		FromID:  fromID,
		Args:    args,
		Adapter: adapter,
		Logger:  logx.Nop(),
	}
}

func TestAddPingTogglesSubscription(t *testing.T) {
	t.Parallel()
	p, store, adapter := newTestEnv(t)

	if err := p.handleAddPing(context.Background(), request(adapter, "u1", "Rocket", "League")); err != nil {
		t.Fatalf("handleAddPing: %v", err)
	}
	if got := adapter.lastSent(t); !strings.Contains(got, "now be notified for rocket league") {
		t.Fatalf("reply = %q", got)
	}
	if subs, ok, _ := store.GameSubscribers(context.Background(), "g1", "rocket league"); !ok || len(subs) != 1 {
		t.Fatalf("subscribers = (%v, %v)", subs, ok)
	}

	// Second call flips it off.
	if err := p.handleAddPing(context.Background(), request(adapter, "u1", "rocket", "league")); err != nil {
		t.Fatalf("handleAddPing: %v", err)
	}
	if got := adapter.lastSent(t); !strings.Contains(got, "no longer be notified") {
		t.Fatalf("reply = %q", got)
	}
}

func TestNotifyMentionsPresentSubscribersOnly(t *testing.T) {
	t.Parallel()
	p, store, adapter := newTestEnv(t)
	for _, u := range []string{"u1", "u2", "u3"} {
		_, _ = store.TogglePing(context.Background(), "g1", "chess", u)
	}
	adapter.members["u1"] = true
	adapter.members["u2"] = true
	// u3 has left the guild.

	if err := p.handleNotify(context.Background(), request(adapter, "u1", "chess")); err != nil {
		t.Fatalf("handleNotify: %v", err)
	}
	got := adapter.lastSent(t)
	if !strings.Contains(got, "<@u1> wants to play chess!") {
		t.Fatalf("text = %q", got)
	}
	if !strings.Contains(got, "<@u2>") {
		t.Fatalf("text = %q, want mention of u2", got)
	}
	if strings.Contains(got, "<@u3>") {
		t.Fatalf("text = %q, departed member mentioned", got)
	}
	// The caller is the announcer, not a mention target.
	if strings.Count(got, "<@u1>") != 1 {
		t.Fatalf("text = %q, caller mentioned twice", got)
	}
}

func TestNotifyCooldownBlocksRepeat(t *testing.T) {
	t.Parallel()
	p, store, adapter := newTestEnv(t)
	_, _ = store.TogglePing(context.Background(), "g1", "chess", "u1")
	_, _ = store.TogglePing(context.Background(), "g1", "chess", "u2")
	adapter.members["u2"] = true

	if err := p.handleNotify(context.Background(), request(adapter, "u1", "chess")); err != nil {
		t.Fatalf("first notify: %v", err)
	}
	first := adapter.lastSent(t)

	if err := p.handleNotify(context.Background(), request(adapter, "u1", "chess")); err != nil {
		t.Fatalf("second notify: %v", err)
	}
	second := adapter.lastSent(t)
	if second == first || !strings.Contains(second, "Please wait") {
		t.Fatalf("second reply = %q, want cooldown message", second)
	}
}

func TestNotifyUnknownGame(t *testing.T) {
	t.Parallel()
	p, _, adapter := newTestEnv(t)
	if err := p.handleNotify(context.Background(), request(adapter, "u1", "go")); err != nil {
		t.Fatalf("handleNotify: %v", err)
	}
	if got := adapter.lastSent(t); !strings.Contains(got, "No ping list exists") {
		t.Fatalf("reply = %q", got)
	}
}

func TestDelGame(t *testing.T) {
	t.Parallel()
	p, store, adapter := newTestEnv(t)
	_, _ = store.TogglePing(context.Background(), "g1", "chess", "u1")

	if err := p.handleDelGame(context.Background(), request(adapter, "admin", "chess")); err != nil {
		t.Fatalf("handleDelGame: %v", err)
	}
	if _, ok, _ := store.GameSubscribers(context.Background(), "g1", "chess"); ok {
		t.Fatal("game still exists")
	}

	if err := p.handleDelGame(context.Background(), request(adapter, "admin", "chess")); err != nil {
		t.Fatalf("handleDelGame: %v", err)
	}
	if got := adapter.lastSent(t); !strings.Contains(got, "No ping list exists") {
		t.Fatalf("reply = %q", got)
	}
}
