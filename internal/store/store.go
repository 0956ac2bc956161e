// Package store provides durable storage backends for DialogDesk sessions.
//
// It includes an in-memory store for tests plus SQLite- and PostgreSQL-backed
// implementations. The durable store holds one JSON-serialized conversation
// state blob per session with an expiry timestamp; it is the source of truth
// across process restarts.
package store

import (
	"strings"
	"sync"
	"time"
)

// SessionRecord is one durable row: the serialized conversation state plus
// its expiry bookkeeping.
type SessionRecord struct {
	SessionID string
	StateJSON []byte
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the durable session backend contract.
type Store interface {
	// GetSession returns the record for a session, or nil when absent.
	// Expiry is not evaluated here; the session manager validates it.
	GetSession(sessionID string) (*SessionRecord, error)
	// UpsertSession stores the full record, replacing any existing row.
	UpsertSession(rec SessionRecord) error
	// DeleteSession removes a session row; missing rows are not an error.
	DeleteSession(sessionID string) error
	// DeleteExpiredSessions batch-deletes rows whose expiry has passed.
	DeleteExpiredSessions(before time.Time) (int64, error)
	// Close releases the backend.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithDSN sets the database connection string (file path for SQLite).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a map-backed Store used in tests and single-process
// development setups.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]SessionRecord)}
}

// GetSession returns a copy of the stored record, or nil when absent.
func (s *InMemoryStore) GetSession(sessionID string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := rec
	cp.StateJSON = append([]byte(nil), rec.StateJSON...)
	return &cp, nil
}

// UpsertSession stores the full record.
func (s *InMemoryStore) UpsertSession(rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.StateJSON = append([]byte(nil), rec.StateJSON...)
	s.sessions[rec.SessionID] = rec
	return nil
}

// DeleteSession removes a session; missing sessions are tolerated.
func (s *InMemoryStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// DeleteExpiredSessions removes every record expired before the given time.
func (s *InMemoryStore) DeleteExpiredSessions(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.sessions {
		if rec.ExpiresAt.Before(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// Len reports the number of stored sessions (for tests).
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
