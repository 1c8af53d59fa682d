package storage

import (
	"context"
	"time"

	logx "casebot/pkg/logx"
)

// Store is the persistence API used by plugins and the router.
type Store interface {
	// Verification state. UserVerification returns a zero-valued record
	// (with UserID set) when the user has never been seen.
	UserVerification(ctx context.Context, userID string) (VerificationRecord, error)
	// UpdateUserVerification applies fn to the current record inside a write
	// transaction and persists the result. Returning an error from fn aborts
	// without mutation.
	UpdateUserVerification(ctx context.Context, userID string, fn func(*VerificationRecord) error) error

	IsEmailVerified(ctx context.Context, email string) (bool, error)
	AddVerifiedEmail(ctx context.Context, email string) error
	RemoveVerifiedEmail(ctx context.Context, email string) error

	WelcomeMessages(ctx context.Context) ([]string, error)
	AddWelcomeMessage(ctx context.Context, body string) error
	// RemoveWelcomeMessage removes by position (0-based) in the listed order
	// and returns the removed body.
	RemoveWelcomeMessage(ctx context.Context, index int) (string, error)

	Setting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error

	Games(ctx context.Context, guildID string) ([]string, error)
	// GameSubscribers reports ok=false when the game does not exist.
	GameSubscribers(ctx context.Context, guildID, game string) ([]string, bool, error)
	// TogglePing flips a user's membership, creating the game on first use.
	// It reports the resulting membership.
	TogglePing(ctx context.Context, guildID, game, userID string) (bool, error)
	DeleteGame(ctx context.Context, guildID, game string) (bool, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
