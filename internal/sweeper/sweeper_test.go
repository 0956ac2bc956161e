package sweeper

import (
	"testing"

	"github.com/dialogdesk/dialogdesk/internal/session"
	"github.com/dialogdesk/dialogdesk/internal/store"
)

func newTestSweeper() *Sweeper {
	return New(session.NewManager(store.NewInMemoryStore(), session.DefaultTTL))
}

func TestStartWithDefaultSchedule(t *testing.T) {
	s := newTestSweeper()
	if err := s.Start(""); err != nil {
		t.Fatalf("Start with default schedule failed: %v", err)
	}
	s.Stop()
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	s := newTestSweeper()
	if err := s.Start("every five minutes"); err == nil {
		t.Error("invalid cron expression must be rejected")
	}
}

func TestStartRejectsSixFieldSchedule(t *testing.T) {
	// The parser is the standard 5-field variant; seconds are not accepted.
	s := newTestSweeper()
	if err := s.Start("0 */5 * * * *"); err == nil {
		t.Error("6-field cron expression must be rejected")
	}
}
