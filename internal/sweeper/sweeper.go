// Package sweeper runs the periodic expired-session sweep off the request
// path, on a cron schedule.
package sweeper

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/dialogdesk/dialogdesk/internal/session"
)

// DefaultSchedule sweeps every five minutes.
const DefaultSchedule = "*/5 * * * *"

// Sweeper owns the cron scheduler driving session expiry.
type Sweeper struct {
	cron     *cron.Cron
	sessions *session.Manager
}

// New creates a sweeper over the given session manager. The scheduler is
// not started until Start is called.
func New(sessions *session.Manager) *Sweeper {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic
	// recovery on jobs.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Sweeper{cron: c, sessions: sessions}
}

// Start schedules the sweep with the given cron expression and starts the
// scheduler. An empty expression uses DefaultSchedule.
func (s *Sweeper) Start(expr string) error {
	if expr == "" {
		expr = DefaultSchedule
	}
	if _, err := s.cron.AddFunc(expr, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("Sweeper.Start: sweep scheduled", "schedule", expr)
	return nil
}

func (s *Sweeper) sweep() {
	if _, err := s.sessions.SweepExpired(context.Background()); err != nil {
		slog.Error("Sweeper.sweep: sweep failed", "error", err)
	}
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Sweeper.Stop: stopped")
}
