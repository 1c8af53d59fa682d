package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "casebot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestVerificationRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec, err := st.UserVerification(ctx, "u1")
	if err != nil {
		t.Fatalf("unseen user: %v", err)
	}
	if rec.UserID != "u1" || rec.Verified || rec.Code != "" {
		t.Fatalf("unseen record = %+v, want zero-valued", rec)
	}

	err = st.UpdateUserVerification(ctx, "u1", func(r *VerificationRecord) error {
		r.Code = "abc123"
		r.Email = "jane.doe2@mail.dcu.ie"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	err = st.UpdateUserVerification(ctx, "u1", func(r *VerificationRecord) error {
		if r.Code != "abc123" {
			t.Fatalf("fn saw stale record: %+v", r)
		}
		r.Verified = true
		r.VerifiedBy = "System"
		r.Code = ""
		return nil
	})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}

	rec, _ = st.UserVerification(ctx, "u1")
	if !rec.Verified || rec.VerifiedBy != "System" || rec.Code != "" || rec.Email != "jane.doe2@mail.dcu.ie" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestUpdateAbortsOnFnError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_ = st.UpdateUserVerification(ctx, "u1", func(r *VerificationRecord) error {
		r.Code = "abc123"
		return nil
	})
	err := st.UpdateUserVerification(ctx, "u1", func(r *VerificationRecord) error {
		r.Code = "zzzzzz"
		return context.Canceled
	})
	if err == nil {
		t.Fatal("expected error from fn to propagate")
	}
	rec, _ := st.UserVerification(ctx, "u1")
	if rec.Code != "abc123" {
		t.Fatalf("aborted update mutated record: %+v", rec)
	}
}

func TestVerifiedEmailsCaseInsensitive(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.AddVerifiedEmail(ctx, "Jane.Doe2@mail.dcu.ie"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if ok, _ := st.IsEmailVerified(ctx, "jane.doe2@MAIL.dcu.ie"); !ok {
		t.Fatal("lookup should be case-insensitive")
	}
	if err := st.RemoveVerifiedEmail(ctx, "JANE.DOE2@mail.dcu.ie"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok, _ := st.IsEmailVerified(ctx, "jane.doe2@mail.dcu.ie"); ok {
		t.Fatal("email still verified after removal")
	}
}

func TestWelcomeMessagesOrderedRemoval(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, m := range []string{"Hello {name}", "Welcome {name}", "Hi {name}"} {
		if err := st.AddWelcomeMessage(ctx, m); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	removed, err := st.RemoveWelcomeMessage(ctx, 1)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed != "Welcome {name}" {
		t.Fatalf("removed = %q", removed)
	}
	msgs, _ := st.WelcomeMessages(ctx)
	if len(msgs) != 2 || msgs[0] != "Hello {name}" || msgs[1] != "Hi {name}" {
		t.Fatalf("messages = %v", msgs)
	}
	if _, err := st.RemoveWelcomeMessage(ctx, 5); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestGamePingLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// First toggle creates the game.
	on, err := st.TogglePing(ctx, "g1", "chess", "u1")
	if err != nil || !on {
		t.Fatalf("toggle = (%v, %v), want subscribed", on, err)
	}
	subs, ok, _ := st.GameSubscribers(ctx, "g1", "chess")
	if !ok || len(subs) != 1 || subs[0] != "u1" {
		t.Fatalf("subscribers = (%v, %v)", subs, ok)
	}

	// Second toggle unsubscribes but keeps the game.
	on, _ = st.TogglePing(ctx, "g1", "chess", "u1")
	if on {
		t.Fatal("second toggle should unsubscribe")
	}
	if subs, ok, _ := st.GameSubscribers(ctx, "g1", "chess"); !ok || len(subs) != 0 {
		t.Fatalf("subscribers = (%v, %v), want empty existing list", subs, ok)
	}

	// Guild isolation.
	if _, ok, _ := st.GameSubscribers(ctx, "g2", "chess"); ok {
		t.Fatal("game leaked across guilds")
	}

	existed, _ := st.DeleteGame(ctx, "g1", "chess")
	if !existed {
		t.Fatal("delete should report existing game")
	}
	if _, ok, _ := st.GameSubscribers(ctx, "g1", "chess"); ok {
		t.Fatal("game still exists after delete")
	}
	if existed, _ := st.DeleteGame(ctx, "g1", "chess"); existed {
		t.Fatal("second delete should report missing game")
	}
}

func TestSettingsAndDedup(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, ok, _ := st.Setting(ctx, "k"); ok {
		t.Fatal("unset key reported present")
	}
	_ = st.PutSetting(ctx, "k", "v1")
	_ = st.PutSetting(ctx, "k", "v2")
	if v, ok, _ := st.Setting(ctx, "k"); !ok || v != "v2" {
		t.Fatalf("setting = (%q, %v)", v, ok)
	}

	until := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	if err := st.PutDedup(ctx, "cd", until); err != nil {
		t.Fatalf("put dedup: %v", err)
	}
	got, ok, err := st.GetDedup(ctx, "cd")
	if err != nil || !ok {
		t.Fatalf("get dedup = (%v, %v, %v)", got, ok, err)
	}
	if !got.Equal(until) {
		t.Fatalf("until = %v, want %v", got, until)
	}
}

func TestAppendAudit(t *testing.T) {
	st := openTestStore(t)
	err := st.AppendAudit(context.Background(), AuditEntry{
		ActorID: "System",
		GuildID: "g1",
		Plugin:  "verify",
		Action:  "verify",
		Target:  "u1",
		OK:      1,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}
