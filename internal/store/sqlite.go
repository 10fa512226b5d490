package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"deskbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		key              TEXT PRIMARY KEY,
		state            TEXT NOT NULL,
		context          TEXT NOT NULL DEFAULT '{}',
		transcript       TEXT NOT NULL DEFAULT '[]',
		no_match_count   INTEGER DEFAULT 0,
		sentiment        REAL DEFAULT 0,
		slot_retries     INTEGER DEFAULT 0,
		pending_intent   TEXT DEFAULT '',
		pending_slot     TEXT DEFAULT '',
		handoff_reason   TEXT DEFAULT '',
		version          INTEGER NOT NULL,
		created_at       DATETIME,
		last_activity_at DATETIME,
		expires_at       DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*domain.Session, error) {
	var (
		sess          domain.Session
		contextJSON   string
		transcriptRaw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, state, context, transcript, no_match_count, sentiment,
		        slot_retries, pending_intent, pending_slot, handoff_reason, version,
		        created_at, last_activity_at, expires_at
		 FROM sessions WHERE key = ?`, key,
	).Scan(&sess.Key, &sess.State, &contextJSON, &transcriptRaw,
		&sess.ConsecutiveNoMatch, &sess.LastSentiment,
		&sess.SlotRetries, &sess.PendingIntent, &sess.PendingSlot, &sess.HandoffReason, &sess.Version,
		&sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(contextJSON), &sess.Context); err != nil {
		return nil, fmt.Errorf("corrupt session context for %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(transcriptRaw), &sess.Transcript); err != nil {
		return nil, fmt.Errorf("corrupt session transcript for %s: %w", key, err)
	}
	if sess.Context == nil {
		sess.Context = make(map[string]string)
	}
	return &sess, nil
}

func (s *SQLiteStore) Put(ctx context.Context, sess *domain.Session) error {
	contextJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	transcriptJSON, err := json.Marshal(sess.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	if sess.Version == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (key, state, context, transcript, no_match_count,
			                       sentiment, slot_retries, pending_intent, pending_slot,
			                       handoff_reason, version, created_at, last_activity_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
			sess.Key, string(sess.State), string(contextJSON), string(transcriptJSON),
			sess.ConsecutiveNoMatch, sess.LastSentiment,
			sess.SlotRetries, sess.PendingIntent, sess.PendingSlot, sess.HandoffReason,
			sess.CreatedAt, sess.LastActivityAt, sess.ExpiresAt,
		)
		if err != nil {
			// A concurrent insert of the same key surfaces as a conflict.
			return domain.ErrVersionConflict
		}
		sess.Version = 1
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET state=?, context=?, transcript=?, no_match_count=?, sentiment=?,
		     slot_retries=?, pending_intent=?, pending_slot=?, handoff_reason=?,
		     version=version+1, last_activity_at=?, expires_at=?
		 WHERE key=? AND version=?`,
		string(sess.State), string(contextJSON), string(transcriptJSON),
		sess.ConsecutiveNoMatch, sess.LastSentiment,
		sess.SlotRetries, sess.PendingIntent, sess.PendingSlot, sess.HandoffReason,
		sess.LastActivityAt, sess.ExpiresAt,
		sess.Key, sess.Version,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrVersionConflict
	}
	sess.Version++
	return nil
}

func (s *SQLiteStore) EvictExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state=?, version=version+1
		 WHERE expires_at <= ? AND state NOT IN (?, ?)`,
		string(domain.StateExpired), now,
		string(domain.StateClosed), string(domain.StateExpired),
	)
	if err != nil {
		return 0, err
	}
	evicted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if evicted > 0 {
		s.logger.Info("expired sessions evicted", "count", evicted)
	}
	return evicted, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
