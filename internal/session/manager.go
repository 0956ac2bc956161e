// Package session implements the conversation state store: a TTL-bound,
// per-session state with an in-process hot cache in front of a durable
// backend. The durable store is authoritative; the cache exists for
// sub-millisecond reads of active sessions within one process.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dialogdesk/dialogdesk/internal/models"
	"github.com/dialogdesk/dialogdesk/internal/store"
)

// DefaultTTL is how long a session survives without activity.
const DefaultTTL = 30 * time.Minute

type cacheEntry struct {
	state     *models.ConversationState
	expiresAt time.Time
}

// Manager provides read-modify-write access to conversation state with at
// most one durable write per turn. It owns the hot cache; callers must not
// share one session across concurrent turns without external serialization.
type Manager struct {
	mu    sync.RWMutex
	cache map[string]cacheEntry
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager creates a session manager over the given durable store.
func NewManager(st store.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	slog.Debug("session.NewManager: creating manager", "ttl", ttl)
	return &Manager{
		cache: make(map[string]cacheEntry),
		store: st,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns the state for a session. Cache hits are validated against
// their expiry; durable records past expiry are deleted and replaced with a
// freshly-initialized state. A session with no record at all also yields a
// fresh state. Every returned state is placed in the cache.
func (m *Manager) Get(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	now := m.now()

	m.mu.RLock()
	entry, ok := m.cache[sessionID]
	m.mu.RUnlock()
	if ok {
		if now.Before(entry.expiresAt) {
			return entry.state, nil
		}
		// Cached session expired; drop it everywhere and start over.
		slog.Debug("session.Get: cached session expired", "sessionID", sessionID)
		m.invalidate(sessionID)
		if err := m.store.DeleteSession(sessionID); err != nil {
			slog.Warn("session.Get: failed to delete expired session", "error", err, "sessionID", sessionID)
		}
		return m.fresh(sessionID, now), nil
	}

	rec, err := m.store.GetSession(sessionID)
	if err != nil {
		// A read failure must not be mistaken for a fresh session.
		slog.Error("session.Get: durable read failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	if rec == nil {
		slog.Debug("session.Get: no record, initializing", "sessionID", sessionID)
		return m.fresh(sessionID, now), nil
	}
	if rec.ExpiresAt.Before(now) {
		slog.Debug("session.Get: durable record expired", "sessionID", sessionID, "expiredAt", rec.ExpiresAt)
		if err := m.store.DeleteSession(sessionID); err != nil {
			slog.Warn("session.Get: failed to delete expired session", "error", err, "sessionID", sessionID)
		}
		return m.fresh(sessionID, now), nil
	}

	var state models.ConversationState
	if err := json.Unmarshal(rec.StateJSON, &state); err != nil {
		slog.Error("session.Get: corrupt state record", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	m.put(sessionID, &state, rec.ExpiresAt)
	slog.Debug("session.Get: loaded from durable store", "sessionID", sessionID, "messageCount", state.MessageCount)
	return &state, nil
}

// Update deep-merges a partial update into the current state, stamps
// activity, and persists the entire merged state with a refreshed expiry.
// By convention this is called exactly once per conversational turn with
// the consolidated turn delta.
//
// The cache is updated optimistically before the durable write. On a write
// failure the write is retried once; if it still fails the cache entry is
// evicted so the next Get re-reads durable state, and the error propagates.
func (m *Manager) Update(ctx context.Context, sessionID string, update models.StateUpdate) (*models.ConversationState, error) {
	current, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	merged, err := applyUpdate(current, update, now)
	if err != nil {
		slog.Error("session.Update: merge failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("merge session %s: %w", sessionID, err)
	}

	expiresAt := now.Add(m.ttl)
	m.put(sessionID, merged, expiresAt)

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", sessionID, err)
	}
	rec := store.SessionRecord{
		SessionID: sessionID,
		StateJSON: raw,
		ExpiresAt: expiresAt,
		CreatedAt: merged.CreatedAt,
		UpdatedAt: now,
	}

	if err := m.store.UpsertSession(rec); err != nil {
		slog.Warn("session.Update: durable write failed, retrying once", "error", err, "sessionID", sessionID)
		if err := m.store.UpsertSession(rec); err != nil {
			// Cache is now ahead of the durable store; evict so the next
			// access re-reads the authoritative record.
			m.invalidate(sessionID)
			slog.Error("session.Update: durable write failed after retry", "error", err, "sessionID", sessionID)
			return merged, fmt.Errorf("persist session %s: %w", sessionID, err)
		}
	}

	slog.Debug("session.Update: committed", "sessionID", sessionID, "messageCount", merged.MessageCount, "expiresAt", expiresAt)
	return merged, nil
}

// Delete removes a session from the cache and the durable store.
// Missing sessions are treated as success.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	m.invalidate(sessionID)
	if err := m.store.DeleteSession(sessionID); err != nil {
		slog.Error("session.Delete: durable delete failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	slog.Debug("session.Delete: succeeded", "sessionID", sessionID)
	return nil
}

// SweepExpired batch-deletes expired durable records and prunes expired
// cache entries. It is meant to run on a periodic trigger, off the request
// path.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	now := m.now()

	m.mu.Lock()
	for id, entry := range m.cache {
		if !now.Before(entry.expiresAt) {
			delete(m.cache, id)
		}
	}
	m.mu.Unlock()

	n, err := m.store.DeleteExpiredSessions(now)
	if err != nil {
		slog.Error("session.SweepExpired: durable sweep failed", "error", err)
		return 0, fmt.Errorf("sweep expired sessions: %w", err)
	}
	if n > 0 {
		slog.Info("session.SweepExpired: removed expired sessions", "count", n)
	}
	return n, nil
}

// fresh initializes a new state and caches it.
func (m *Manager) fresh(sessionID string, now time.Time) *models.ConversationState {
	state := models.NewConversationState(sessionID, now)
	m.put(sessionID, state, now.Add(m.ttl))
	return state
}

func (m *Manager) put(sessionID string, state *models.ConversationState, expiresAt time.Time) {
	m.mu.Lock()
	m.cache[sessionID] = cacheEntry{state: state, expiresAt: expiresAt}
	m.mu.Unlock()
}

func (m *Manager) invalidate(sessionID string) {
	m.mu.Lock()
	delete(m.cache, sessionID)
	m.mu.Unlock()
}
