package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// VerificationRecord is the per-user verification state.
//
// Invariant: Verified implies Email != "". Code is the outstanding challenge
// ("" when none is pending).
type VerificationRecord struct {
	UserID     string
	Code       string
	Verified   bool
	Email      string
	VerifiedBy string
}

// AuditEntry records a member-state mutation (role grant/removal, manual
// verification). Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time
	ActorID  string
	GuildID  string
	Plugin   string
	Action   string
	Target   string
	OK       int
	Fail     int
	Error    string
	MetaJSON string
}
