package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	core "casebot/internal/plugin"
	"casebot/internal/storage"
	kit "casebot/internal/transport"
	logx "casebot/pkg/logx"
)

// fakeStore is an in-memory storage.Store.
type fakeStore struct {
	mu       sync.Mutex
	records  map[string]storage.VerificationRecord
	emails   map[string]bool
	welcome  []string
	settings map[string]string
	audits   []storage.AuditEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:  map[string]storage.VerificationRecord{},
		emails:   map[string]bool{},
		settings: map[string]string{},
	}
}

func (s *fakeStore) UserVerification(_ context.Context, userID string) (storage.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		rec = storage.VerificationRecord{UserID: userID}
	}
	return rec, nil
}

func (s *fakeStore) UpdateUserVerification(_ context.Context, userID string, fn func(*storage.VerificationRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		rec = storage.VerificationRecord{UserID: userID}
	}
	if err := fn(&rec); err != nil {
		return err
	}
	s.records[userID] = rec
	return nil
}

func (s *fakeStore) IsEmailVerified(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emails[email], nil
}

func (s *fakeStore) AddVerifiedEmail(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[email] = true
	return nil
}

func (s *fakeStore) RemoveVerifiedEmail(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.emails, email)
	return nil
}

func (s *fakeStore) WelcomeMessages(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.welcome...), nil
}

func (s *fakeStore) AddWelcomeMessage(_ context.Context, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.welcome = append(s.welcome, body)
	return nil
}

func (s *fakeStore) RemoveWelcomeMessage(_ context.Context, index int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.welcome) {
		return "", fmt.Errorf("no welcome message at index %d", index)
	}
	removed := s.welcome[index]
	s.welcome = append(s.welcome[:index], s.welcome[index+1:]...)
	return removed, nil
}

func (s *fakeStore) Setting(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *fakeStore) PutSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *fakeStore) Games(context.Context, string) ([]string, error) { return nil, nil }
func (s *fakeStore) GameSubscribers(context.Context, string, string) ([]string, bool, error) {
	return nil, false, nil
}
func (s *fakeStore) TogglePing(context.Context, string, string, string) (bool, error) {
	return false, nil
}
func (s *fakeStore) DeleteGame(context.Context, string, string) (bool, error) { return false, nil }

func (s *fakeStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, e)
	return nil
}

func (s *fakeStore) PutDedup(context.Context, string, time.Time) error { return nil }
func (s *fakeStore) GetDedup(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (s *fakeStore) Close() error { return nil }

type sentMsg struct {
	Channel string
	Text    string
	Opt     *kit.SendOptions
}

type roleCall struct {
	UserID string
	Roles  []string
	Reason string
}

// fakeAdapter records every outbound call.
type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sentMsg
	added   []roleCall
	removed []roleCall
	nicks   map[string]string
	members map[string]kit.Member
	roster  []kit.Member
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{nicks: map[string]string{}, members: map[string]kit.Member{}}
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sentMsg{Channel: to.ChannelID, Text: text, Opt: opt})
	return kit.MessageRef{ChannelID: to.ChannelID, MessageID: "m1"}, nil
}

func (a *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (a *fakeAdapter) OpenDM(_ context.Context, userID string) (kit.ChatTarget, error) {
	return kit.ChatTarget{ChannelID: "dm:" + userID}, nil
}

func (a *fakeAdapter) Member(_ context.Context, _, userID string) (kit.Member, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.members[userID]
	if !ok {
		return kit.Member{}, fmt.Errorf("member %s not found", userID)
	}
	return m, nil
}

func (a *fakeAdapter) Members(context.Context, string) ([]kit.Member, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kit.Member(nil), a.roster...), nil
}

func (a *fakeAdapter) AddRoles(_ context.Context, _, userID string, roleIDs []string, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.added = append(a.added, roleCall{UserID: userID, Roles: append([]string(nil), roleIDs...), Reason: reason})
	return nil
}

func (a *fakeAdapter) RemoveRoles(_ context.Context, _, userID string, roleIDs []string, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, roleCall{UserID: userID, Roles: append([]string(nil), roleIDs...), Reason: reason})
	return nil
}

func (a *fakeAdapter) SetNickname(_ context.Context, _, userID, nick string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nicks[userID] = nick
	return nil
}

func (a *fakeAdapter) lastSent(t *testing.T) sentMsg {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return a.sent[len(a.sent)-1]
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []kit.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, note kit.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

// registryServer serves the course registry endpoint with a fixed course per
// email (or an HTTP 500 when the course is empty).
func registryServer(t *testing.T, course string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if course == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"course": course})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	plugin   *Plugin
	store    *fakeStore
	adapter  *fakeAdapter
	notifier *fakeNotifier
}

func newTestEnv(t *testing.T, registryURL string) *testEnv {
	t.Helper()
	store := newFakeStore()
	adapter := newFakeAdapter()
	notifier := &fakeNotifier{}

	p := New()
	deps := core.PluginDeps{
		Logger:   logx.Nop(),
		Adapter:  adapter,
		Services: &core.Services{Notifier: notifier},
		Store:    store,
		GuildID:  "g1",
	}
	if err := p.Init(context.Background(), deps); err != nil {
		t.Fatalf("init: %v", err)
	}

	raw := fmt.Sprintf(`{
		"roles": {
			"verified": "r-verified", "comsci1": "r-comsci1", "comsci2": "r-comsci2",
			"case3": "r-case3", "case4": "r-case4", "umbrella": "r-case",
			"alumni": "r-alumni", "external": "r-external"
		},
		"channels": {"mod": "c-mod", "general": "c-gen"},
		"registry": {"base_url": %q, "api_key": "k"}
	}`, registryURL)
	if err := p.OnConfigChange(context.Background(), json.RawMessage(raw)); err != nil {
		t.Fatalf("config: %v", err)
	}
	return &testEnv{plugin: p, store: store, adapter: adapter, notifier: notifier}
}

func dmRequest(env *testEnv, fromID string, args ...string) *core.Request {
	return &core.Request{
		Update: kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
			FromID: fromID, FromUsername: "user-" + fromID, IsDM: true, ChannelID: "dm:" + fromID,
		}},
		Chat:    kit.ChatTarget{ChannelID: "dm:" + fromID},
		FromID:  fromID,
		IsDM:    true,
		Args:    args,
		Adapter: env.adapter,
		Logger:  logx.Nop(),
	}
}

func guildRequest(env *testEnv, fromID string, args ...string) *core.Request {
	req := dmRequest(env, fromID, args...)
	req.IsDM = false
	req.GuildID = "g1"
	req.Chat = kit.ChatTarget{ChannelID: "c-general"}
	req.Update.Message.IsDM = false
	req.Update.Message.GuildID = "g1"
	return req
}

func TestNewCodeIsSixHexChars(t *testing.T) {
	t.Parallel()
	code, err := newCode()
	if err != nil {
		t.Fatalf("newCode: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("len(code) = %d, want 6", len(code))
	}
	for _, r := range code {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("non-hex rune %q in %q", r, code)
		}
	}
}

func TestFirstNameFromEmail(t *testing.T) {
	t.Parallel()
	tests := []struct{ email, want string }{
		{"jane.doe2@mail.dcu.ie", "jane"},
		{"solo@mail.dcu.ie", "solo"},
		{"not-an-email", ""},
	}
	for _, tt := range tests {
		if got := firstNameFromEmail(tt.email); got != tt.want {
			t.Errorf("firstNameFromEmail(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
}

func TestNicknameWithFirst(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		display string
		first   string
		want    string
		ok      bool
	}{
		{name: "appends first name", display: "xXGamerXx", first: "jane", want: "xXGamerXx (Jane)", ok: true},
		{name: "already present", display: "Jane Doe", first: "jane", ok: false},
		{name: "clamped to 32", display: strings.Repeat("a", 32), first: "jane", want: strings.Repeat("a", 25) + " (Jane)", ok: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := nicknameWithFirst(tt.display, tt.first)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("nick = %q, want %q", got, tt.want)
			}
			if ok && len(got) > 32 {
				t.Fatalf("nick %q exceeds 32 chars", got)
			}
		})
	}
}

func TestVerifyEmailRejectsStaffAddress(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, registryServer(t, "CASE3").URL)

	req := dmRequest(env, "u1", "prof@dcu.ie")
	if err := env.plugin.handleVerifyEmail(context.Background(), req); err != nil {
		t.Fatalf("handleVerifyEmail: %v", err)
	}

	if got := env.adapter.lastSent(t).Text; !strings.Contains(got, "contact an admin") {
		t.Fatalf("reply = %q, want generic admin-contact error", got)
	}
	rec, _ := env.store.UserVerification(context.Background(), "u1")
	if rec.Code != "" || rec.Email != "" {
		t.Fatalf("record mutated on staff rejection: %+v", rec)
	}
	env.notifier.mu.Lock()
	defer env.notifier.mu.Unlock()
	if len(env.notifier.notes) != 1 || env.notifier.notes[0].Target.ChannelID != "c-mod" {
		t.Fatalf("expected one mod-channel notice, got %+v", env.notifier.notes)
	}
}

func TestVerifyEmailRejectsWrongDomain(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, registryServer(t, "CASE3").URL)

	req := dmRequest(env, "u1", "someone@gmail.com")
	if err := env.plugin.handleVerifyEmail(context.Background(), req); err != nil {
		t.Fatalf("handleVerifyEmail: %v", err)
	}
	if got := env.adapter.lastSent(t).Text; !strings.Contains(got, "@mail.dcu.ie") {
		t.Fatalf("reply = %q, want student-domain hint", got)
	}
}

func TestVerifyEmailRejectsClaimedEmail(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, registryServer(t, "CASE3").URL)
	_ = env.store.AddVerifiedEmail(context.Background(), "jane.doe2@mail.dcu.ie")

	req := dmRequest(env, "u1", "jane.doe2@mail.dcu.ie")
	if err := env.plugin.handleVerifyEmail(context.Background(), req); err != nil {
		t.Fatalf("handleVerifyEmail: %v", err)
	}
	if got := env.adapter.lastSent(t).Text; !strings.Contains(got, "already been used") {
		t.Fatalf("reply = %q, want duplicate-email rejection", got)
	}
	rec, _ := env.store.UserVerification(context.Background(), "u1")
	if rec.Code != "" {
		t.Fatalf("code issued for claimed email: %+v", rec)
	}
}

func TestVerifyEmailStoresCodeBeforeSend(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, registryServer(t, "CASE3").URL)

	// No SMTP credentials are configured, so the send fails, but the code
	// and email are already persisted and a retry can reuse the flow.
	req := dmRequest(env, "u1", "Jane.Doe2@mail.dcu.ie")
	if err := env.plugin.handleVerifyEmail(context.Background(), req); err != nil {
		t.Fatalf("handleVerifyEmail: %v", err)
	}
	rec, _ := env.store.UserVerification(context.Background(), "u1")
	if len(rec.Code) != 6 {
		t.Fatalf("code = %q, want 6 hex chars", rec.Code)
	}
	if rec.Email != "jane.doe2@mail.dcu.ie" {
		t.Fatalf("email = %q, want lowercased address", rec.Email)
	}
	if rec.Verified {
		t.Fatal("record must not be verified before code submission")
	}
}

func TestVerifyCodeMismatchKeepsState(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, registryServer(t, "CASE3").URL)
	_ = env.store.UpdateUserVerification(context.Background(), "u1", func(r *storage.VerificationRecord) error {
		r.Code = "abc123"
		r.Email = "jane.doe2@mail.dcu.ie"
		return nil
	})

	req := dmRequest(env, "u1", "ffffff")
	if err := env.plugin.handleVerifyCode(context.Background(), req); err != nil {
		t.Fatalf("handleVerifyCode: %v", err)
	}

	if got := env.adapter.lastSent(t).Text; !strings.Contains(got, "does not match") {
		t.Fatalf("reply = %q, want mismatch message", got)
	}
	rec, _ := env.store.UserVerification(context.Background(), "u1")
	if rec.Code != "abc123" || rec.Verified {
		t.Fatalf("mismatch mutated state: %+v", rec)
	}
	if len(env.adapter.added) != 0 {
		t.Fatalf("mismatch granted roles: %+v", env.adapter.added)
	}
}

func TestVerifyCodeGrantsCourseRoles(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, registryServer(t, "CASE3").URL)
	env.adapter.members["u1"] = kit.Member{UserID: "u1", Username: "gamer", DisplayName: "xXGamerXx"}
	_ = env.store.UpdateUserVerification(context.Background(), "u1", func(r *storage.VerificationRecord) error {
		r.Code = "abc123"
		r.Email = "jane.doe2@mail.dcu.ie"
		return nil
	})

	req := dmRequest(env, "u1", "ABC123")
	if err := env.plugin.handleVerifyCode(context.Background(), req); err != nil {
		t.Fatalf("handleVerifyCode: %v", err)
	}

	rec, _ := env.store.UserVerification(context.Background(), "u1")
	if !rec.Verified || rec.VerifiedBy != "System" || rec.Code != "" {
		t.Fatalf("record = %+v, want verified by System with cleared code", rec)
	}
	if taken, _ := env.store.IsEmailVerified(context.Background(), "jane.doe2@mail.dcu.ie"); !taken {
		t.Fatal("email not claimed")
	}

	if len(env.adapter.added) != 1 {
		t.Fatalf("role grants = %+v, want one call", env.adapter.added)
	}
	call := env.adapter.added[0]
	wantRoles := map[string]bool{"r-verified": true, "r-case3": true, "r-case": true}
	if len(call.Roles) != len(wantRoles) {
		t.Fatalf("roles = %v, want %v", call.Roles, wantRoles)
	}
	for _, r := range call.Roles {
		if !wantRoles[r] {
			t.Fatalf("unexpected role %q in %v", r, call.Roles)
		}
	}
	if call.Reason != "Automatically verified - Email: jane.doe2@mail.dcu.ie" {
		t.Fatalf("reason = %q", call.Reason)
	}
	if nick := env.adapter.nicks["u1"]; nick != "xXGamerXx (Jane)" {
		t.Fatalf("nickname = %q", nick)
	}
	if got := env.adapter.lastSent(t).Text; !strings.Contains(got, "has been verified") {
		t.Fatalf("reply = %q", got)
	}
}

func TestVerifyCodeUnknownCourseStillVerifies(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, registryServer(t, "").URL) // registry down
	env.adapter.members["u1"] = kit.Member{UserID: "u1", Username: "gamer", DisplayName: "xXGamerXx"}
	_ = env.store.UpdateUserVerification(context.Background(), "u1", func(r *storage.VerificationRecord) error {
		r.Code = "abc123"
		r.Email = "jane.doe2@mail.dcu.ie"
		return nil
	})

	req := dmRequest(env, "u1", "abc123")
	if err := env.plugin.handleVerifyCode(context.Background(), req); err != nil {
		t.Fatalf("handleVerifyCode: %v", err)
	}

	rec, _ := env.store.UserVerification(context.Background(), "u1")
	if !rec.Verified {
		t.Fatalf("record = %+v, want verified despite registry outage", rec)
	}
	if len(env.adapter.added) != 1 || len(env.adapter.added[0].Roles) != 1 || env.adapter.added[0].Roles[0] != "r-verified" {
		t.Fatalf("role grants = %+v, want base role only", env.adapter.added)
	}
	if got := env.adapter.lastSent(t).Text; !strings.Contains(got, "contact an admin") {
		t.Fatalf("reply = %q, want admin-contact notice", got)
	}
}

func TestUnverifyLeavesRolesUntouched(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, registryServer(t, "CASE3").URL)
	_ = env.store.UpdateUserVerification(context.Background(), "u1", func(r *storage.VerificationRecord) error {
		r.Verified = true
		r.VerifiedBy = "System"
		r.Email = "jane.doe2@mail.dcu.ie"
		return nil
	})
	_ = env.store.AddVerifiedEmail(context.Background(), "jane.doe2@mail.dcu.ie")

	req := dmRequest(env, "u1")
	if err := env.plugin.handleUnverifyMe(context.Background(), req); err != nil {
		t.Fatalf("handleUnverifyMe: %v", err)
	}

	rec, _ := env.store.UserVerification(context.Background(), "u1")
	if rec.Verified || rec.Email != "" || rec.Code != "" || rec.VerifiedBy != "" {
		t.Fatalf("record = %+v, want fully reset", rec)
	}
	if taken, _ := env.store.IsEmailVerified(context.Background(), "jane.doe2@mail.dcu.ie"); taken {
		t.Fatal("email not released")
	}
	if len(env.adapter.removed) != 0 || len(env.adapter.added) != 0 {
		t.Fatalf("unverify touched roles: removed=%+v added=%+v", env.adapter.removed, env.adapter.added)
	}
}

func TestReconcileMemberConvergesRoles(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, registryServer(t, "COMSCI2").URL)
	_ = env.store.UpdateUserVerification(context.Background(), "u1", func(r *storage.VerificationRecord) error {
		r.Verified = true
		r.Email = "jane.doe2@mail.dcu.ie"
		return nil
	})
	member := kit.Member{
		UserID:   "u1",
		Username: "jane",
		RoleIDs:  []string{"r-verified", "r-comsci1", "r-case", "r-unrelated"},
	}

	cfg, registry := env.plugin.snapshot()
	summary, err := env.plugin.reconcileMember(context.Background(), cfg, registry, member)
	if err != nil {
		t.Fatalf("reconcileMember: %v", err)
	}
	if !strings.HasPrefix(summary, "Updated janes roles") {
		t.Fatalf("summary = %q", summary)
	}

	if len(env.adapter.removed) != 1 || len(env.adapter.removed[0].Roles) != 1 || env.adapter.removed[0].Roles[0] != "r-comsci1" {
		t.Fatalf("removed = %+v, want only the stale year role", env.adapter.removed)
	}
	if len(env.adapter.added) != 1 || len(env.adapter.added[0].Roles) != 1 || env.adapter.added[0].Roles[0] != "r-comsci2" {
		t.Fatalf("added = %+v, want only the new year role", env.adapter.added)
	}
}

func TestReconcileSkipsUnverifiedAndUnknown(t *testing.T) {
	t.Parallel()

	t.Run("unverified member", func(t *testing.T) {
		env := newTestEnv(t, registryServer(t, "CASE3").URL)
		cfg, registry := env.plugin.snapshot()
		summary, err := env.plugin.reconcileMember(context.Background(), cfg, registry,
			kit.Member{UserID: "u9", Username: "ghost", RoleIDs: []string{"r-comsci1"}})
		if err != nil || summary != "" {
			t.Fatalf("got (%q, %v), want no-op", summary, err)
		}
		if len(env.adapter.removed) != 0 {
			t.Fatalf("unverified member lost roles: %+v", env.adapter.removed)
		}
	})

	t.Run("registry outage", func(t *testing.T) {
		env := newTestEnv(t, registryServer(t, "").URL)
		_ = env.store.UpdateUserVerification(context.Background(), "u1", func(r *storage.VerificationRecord) error {
			r.Verified = true
			r.Email = "jane.doe2@mail.dcu.ie"
			return nil
		})
		cfg, registry := env.plugin.snapshot()
		summary, err := env.plugin.reconcileMember(context.Background(), cfg, registry,
			kit.Member{UserID: "u1", Username: "jane", RoleIDs: []string{"r-comsci1"}})
		if err != nil || summary != "" {
			t.Fatalf("got (%q, %v), want no-op on outage", summary, err)
		}
		if len(env.adapter.removed) != 0 || len(env.adapter.added) != 0 {
			t.Fatalf("outage changed roles: removed=%+v added=%+v", env.adapter.removed, env.adapter.added)
		}
	})
}

func TestManualVerifyStoresTypeAndReason(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, registryServer(t, "CASE3").URL)

	req := guildRequest(env, "admin1", "alumni", "<@42>")
	if err := env.plugin.handleVerifyUser(context.Background(), req); err != nil {
		t.Fatalf("handleVerifyUser: %v", err)
	}

	rec, _ := env.store.UserVerification(context.Background(), "42")
	if !rec.Verified || rec.Email != "Alumni" || rec.VerifiedBy != "user-admin1" {
		t.Fatalf("record = %+v", rec)
	}
	if len(env.adapter.added) != 1 {
		t.Fatalf("role grants = %+v", env.adapter.added)
	}
	if got := env.adapter.added[0].Reason; got != "Manually verified by: user-admin1" {
		t.Fatalf("reason = %q", got)
	}
}

func TestParseUserArg(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"<@42>", "42", true},
		{"<@!42>", "42", true},
		{"42", "42", true},
		{"@jane", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := parseUserArg(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseUserArg(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestAddWelcomeRequiresNamePlaceholder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, registryServer(t, "CASE3").URL)

	req := guildRequest(env, "admin1", "Hello", "there!")
	if err := env.plugin.handleAddWelcome(context.Background(), req); err != nil {
		t.Fatalf("handleAddWelcome: %v", err)
	}
	if msgs, _ := env.store.WelcomeMessages(context.Background()); len(msgs) != 0 {
		t.Fatalf("message without {name} was stored: %v", msgs)
	}

	req = guildRequest(env, "admin1", "Welcome", "{name}!")
	if err := env.plugin.handleAddWelcome(context.Background(), req); err != nil {
		t.Fatalf("handleAddWelcome: %v", err)
	}
	if msgs, _ := env.store.WelcomeMessages(context.Background()); len(msgs) != 1 || msgs[0] != "Welcome {name}!" {
		t.Fatalf("messages = %v", msgs)
	}
}
