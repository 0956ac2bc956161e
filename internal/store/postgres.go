// Package store provides durable storage backends for DialogDesk sessions.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum lifetime of a connection.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists session records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on the provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("PostgresStore failed to open connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore migrations applied")

	return &PostgresStore{db: db}, nil
}

// GetSession retrieves the record for a session, or nil when absent.
func (s *PostgresStore) GetSession(sessionID string) (*SessionRecord, error) {
	query := `SELECT session_id, state, expires_at, created_at, updated_at
			  FROM conversation_sessions WHERE session_id = $1`

	var rec SessionRecord
	err := s.db.QueryRow(query, sessionID).Scan(
		&rec.SessionID, &rec.StateJSON, &rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetSession not found", "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	slog.Debug("PostgresStore GetSession found", "sessionID", sessionID, "expiresAt", rec.ExpiresAt)
	return &rec, nil
}

// UpsertSession stores the full session record, replacing any existing row.
func (s *PostgresStore) UpsertSession(rec SessionRecord) error {
	query := `
		INSERT INTO conversation_sessions (session_id, state, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id)
		DO UPDATE SET
			state = EXCLUDED.state,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.Exec(query, rec.SessionID, rec.StateJSON, rec.ExpiresAt, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore UpsertSession failed", "error", err, "sessionID", rec.SessionID)
		return fmt.Errorf("failed to upsert session %s: %w", rec.SessionID, err)
	}
	slog.Debug("PostgresStore UpsertSession succeeded", "sessionID", rec.SessionID, "expiresAt", rec.ExpiresAt)
	return nil
}

// DeleteSession removes a session row; missing rows are treated as success.
func (s *PostgresStore) DeleteSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	slog.Debug("PostgresStore DeleteSession succeeded", "sessionID", sessionID)
	return nil
}

// DeleteExpiredSessions batch-deletes rows whose expiry has passed.
func (s *PostgresStore) DeleteExpiredSessions(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM conversation_sessions WHERE expires_at < $1`, before)
	if err != nil {
		slog.Error("PostgresStore DeleteExpiredSessions failed", "error", err)
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	slog.Debug("PostgresStore DeleteExpiredSessions succeeded", "deleted", n)
	return n, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("PostgresStore failed to close database", "error", err)
	}
	return err
}
