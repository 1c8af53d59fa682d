package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "casebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- verification ----

func (s *sqliteStore) UserVerification(ctx context.Context, userID string) (VerificationRecord, error) {
	rec := VerificationRecord{UserID: userID}
	if s == nil || s.db == nil {
		return rec, ErrDisabled
	}
	var verified int
	err := s.db.QueryRowContext(ctx,
		`SELECT code, verified, email, verified_by FROM verification WHERE user_id = ?`, userID,
	).Scan(&rec.Code, &verified, &rec.Email, &rec.VerifiedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return rec, err
	}
	rec.Verified = verified != 0
	return rec, nil
}

func (s *sqliteStore) UpdateUserVerification(ctx context.Context, userID string, fn func(*VerificationRecord) error) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if fn == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rec := VerificationRecord{UserID: userID}
	var verified int
	err = tx.QueryRowContext(ctx,
		`SELECT code, verified, email, verified_by FROM verification WHERE user_id = ?`, userID,
	).Scan(&rec.Code, &verified, &rec.Email, &rec.VerifiedBy)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	rec.Verified = verified != 0

	if err := fn(&rec); err != nil {
		return err
	}

	v := 0
	if rec.Verified {
		v = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO verification(user_id, code, verified, email, verified_by, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   code=excluded.code, verified=excluded.verified, email=excluded.email,
		   verified_by=excluded.verified_by, updated_at=excluded.updated_at`,
		userID, rec.Code, v, rec.Email, rec.VerifiedBy, time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) IsEmailVerified(ctx context.Context, email string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM verified_emails WHERE email = ?`, normEmail(email)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) AddVerifiedEmail(ctx context.Context, email string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verified_emails(email, added_at) VALUES(?,?)
		 ON CONFLICT(email) DO NOTHING`,
		normEmail(email), time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) RemoveVerifiedEmail(ctx context.Context, email string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM verified_emails WHERE email = ?`, normEmail(email))
	return err
}

// ---- welcome messages ----

func (s *sqliteStore) WelcomeMessages(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM welcome_messages ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddWelcomeMessage(ctx context.Context, body string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO welcome_messages(body) VALUES(?)`, body)
	return err
}

func (s *sqliteStore) RemoveWelcomeMessage(ctx context.Context, index int) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrDisabled
	}
	if index < 0 {
		return "", errors.New("index out of range")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	var body string
	err = tx.QueryRowContext(ctx,
		`SELECT id, body FROM welcome_messages ORDER BY id LIMIT 1 OFFSET ?`, index,
	).Scan(&id, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("index out of range")
	}
	if err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM welcome_messages WHERE id = ?`, id); err != nil {
		return "", err
	}
	return body, tx.Commit()
}

// ---- settings ----

func (s *sqliteStore) Setting(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrDisabled
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) PutSetting(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// ---- game pings ----

func (s *sqliteStore) Games(ctx context.Context, guildID string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT game FROM games WHERE guild_id = ? ORDER BY game`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GameSubscribers(ctx context.Context, guildID, game string) ([]string, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM games WHERE guild_id = ? AND game = ?`, guildID, game,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM game_subs WHERE guild_id = ? AND game = ? ORDER BY user_id`, guildID, game)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, false, err
		}
		out = append(out, u)
	}
	return out, true, rows.Err()
}

func (s *sqliteStore) TogglePing(ctx context.Context, guildID, game, userID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO games(guild_id, game) VALUES(?,?) ON CONFLICT DO NOTHING`, guildID, game); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM game_subs WHERE guild_id = ? AND game = ? AND user_id = ?`, guildID, game, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	subscribed := false
	if n == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO game_subs(guild_id, game, user_id) VALUES(?,?,?)`, guildID, game, userID); err != nil {
			return false, err
		}
		subscribed = true
	}
	return subscribed, tx.Commit()
}

func (s *sqliteStore) DeleteGame(ctx context.Context, guildID, game string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM games WHERE guild_id = ? AND game = ?`, guildID, game)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM game_subs WHERE guild_id = ? AND game = ?`, guildID, game); err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

// ---- audit / dedup ----

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, guild_id, plugin, action, target, ok, fail, err, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, e.GuildID,
		e.Plugin, e.Action, e.Target, e.OK, e.Fail, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}

func normEmail(v string) string { return strings.ToLower(strings.TrimSpace(v)) }

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
