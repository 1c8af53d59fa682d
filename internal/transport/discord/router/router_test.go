package router

import (
	"context"
	"testing"
	"time"

	logx "casebot/pkg/logx"
)

func TestSplitRouteAndTreeLookup(t *testing.T) {
	t.Parallel()
	root := newRoot()
	root.add(splitRoute("verify email"), Command{Route: "verify email"})
	root.add(splitRoute("verify code"), Command{Route: "verify code"})
	root.add(splitRoute("fixroles"), Command{Route: "fixroles"})

	if n := root.find([]string{"verify", "email"}); n == nil || n.cmd == nil || n.cmd.Route != "verify email" {
		t.Fatalf("find(verify email) = %+v", n)
	}
	if n := root.find([]string{"verify"}); n == nil || n.cmd != nil {
		t.Fatalf("container node should have no handler, got %+v", n)
	}
	if n := root.find([]string{"nosuch"}); n != nil {
		t.Fatalf("find(nosuch) = %+v, want nil", n)
	}

	verify, _ := root.child("verify")
	names := verify.childNames()
	if len(names) != 2 || names[0] != "code" || names[1] != "email" {
		t.Fatalf("childNames = %v, want sorted [code email]", names)
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{`verify email jane.doe2@mail.dcu.ie`, []string{"verify", "email", "jane.doe2@mail.dcu.ie"}},
		{`addwelcomemsg "Welcome {name}!"`, []string{"addwelcomemsg", "Welcome {name}!"}},
		{`  spaced   out  `, []string{"spaced", "out"}},
		{``, nil},
	}
	for _, tt := range tests {
		got := tokenizeCommandLine(tt.in)
		if len(got) != len(tt.want) {
			t.Fatalf("tokenize(%q) = %v, want %v", tt.in, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("tokenize(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"arg1", "--key=val", "--verbose", "arg2"})
	if len(pos) != 2 || pos[0] != "arg1" || pos[1] != "arg2" {
		t.Fatalf("pos = %v", pos)
	}
	if flags["key"] != "val" {
		t.Fatalf("flags = %v", flags)
	}
	if !bools["verbose"] {
		t.Fatalf("bools = %v", bools)
	}
}

func TestOnCooldownArmsAndBlocks(t *testing.T) {
	t.Parallel()
	m := NewCommandManager(logx.Nop(), nil, nil, nil, "!", nil, nil)

	if _, hot := m.onCooldown("notify", "u1", time.Minute); hot {
		t.Fatal("first call must not be on cooldown")
	}
	wait, hot := m.onCooldown("notify", "u1", time.Minute)
	if !hot || wait <= 0 {
		t.Fatalf("second call = (%v, %v), want active cooldown", wait, hot)
	}
	// Different user and different route are independent.
	if _, hot := m.onCooldown("notify", "u2", time.Minute); hot {
		t.Fatal("cooldown leaked across users")
	}
	if _, hot := m.onCooldown("fixroles", "u1", time.Minute); hot {
		t.Fatal("cooldown leaked across routes")
	}
}

func TestAccessHelpers(t *testing.T) {
	t.Parallel()
	if !contains([]string{"a", "b"}, "b") || contains([]string{"a"}, "x") {
		t.Fatal("contains misbehaves")
	}
	if !hasAnyRole([]string{"r1", "r2"}, []string{"r2", "r9"}) {
		t.Fatal("hasAnyRole missed an intersection")
	}
	if hasAnyRole([]string{"r1"}, []string{"r9"}) {
		t.Fatal("hasAnyRole false positive")
	}
}

func TestNewReqIDUnique(t *testing.T) {
	t.Parallel()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := newReqID()
		if id == "" || seen[id] {
			t.Fatalf("duplicate or empty request id %q", id)
		}
		seen[id] = true
	}
}

func TestMWTimeoutCancelsHandler(t *testing.T) {
	t.Parallel()
	h := func(ctx context.Context, _ *Request) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}
	wrapped := MWTimeout(20 * time.Millisecond)(h)
	start := time.Now()
	err := wrapped(context.Background(), &Request{Logger: logx.Nop()})
	if err == nil {
		t.Fatal("expected context deadline error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not applied, took %v", time.Since(start))
	}
}
