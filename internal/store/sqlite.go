// Package store provides durable storage backends for DialogDesk sessions.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists session records in a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path to the database file; missing directories are created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("SQLiteStore failed to open connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore migrations applied")

	return &SQLiteStore{db: db}, nil
}

// GetSession retrieves the record for a session, or nil when absent.
func (s *SQLiteStore) GetSession(sessionID string) (*SessionRecord, error) {
	query := `SELECT session_id, state, expires_at, created_at, updated_at
			  FROM conversation_sessions WHERE session_id = ?`

	var rec SessionRecord
	var stateJSON string
	err := s.db.QueryRow(query, sessionID).Scan(
		&rec.SessionID, &stateJSON, &rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSession not found", "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	rec.StateJSON = []byte(stateJSON)
	slog.Debug("SQLiteStore GetSession found", "sessionID", sessionID, "expiresAt", rec.ExpiresAt)
	return &rec, nil
}

// UpsertSession stores the full session record, replacing any existing row.
func (s *SQLiteStore) UpsertSession(rec SessionRecord) error {
	query := `
		INSERT OR REPLACE INTO conversation_sessions (session_id, state, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, rec.SessionID, string(rec.StateJSON), rec.ExpiresAt, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore UpsertSession failed", "error", err, "sessionID", rec.SessionID)
		return fmt.Errorf("failed to upsert session %s: %w", rec.SessionID, err)
	}
	slog.Debug("SQLiteStore UpsertSession succeeded", "sessionID", rec.SessionID, "expiresAt", rec.ExpiresAt)
	return nil
}

// DeleteSession removes a session row; missing rows are treated as success.
func (s *SQLiteStore) DeleteSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore DeleteSession succeeded", "sessionID", sessionID)
	return nil
}

// DeleteExpiredSessions batch-deletes rows whose expiry has passed.
func (s *SQLiteStore) DeleteExpiredSessions(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM conversation_sessions WHERE expires_at < ?`, before)
	if err != nil {
		slog.Error("SQLiteStore DeleteExpiredSessions failed", "error", err)
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	slog.Debug("SQLiteStore DeleteExpiredSessions succeeded", "deleted", n)
	return n, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("SQLiteStore failed to close database", "error", err)
	}
	return err
}
