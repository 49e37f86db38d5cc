// Package reminder runs the periodic reminder sweep.
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sender publishes reminders for appointments starting within window and
// reports how many it sent.
type Sender interface {
	SendReminders(ctx context.Context, window time.Duration) (int, error)
}

type Scheduler struct {
	cron    *cron.Cron
	sender  Sender
	window  time.Duration
	timeout time.Duration
	logger  zerolog.Logger
}

// New parses spec (standard five-field cron syntax) and registers the sweep.
// The scheduler does nothing until Start.
func New(sender Sender, spec string, window time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	if window <= 0 {
		return nil, fmt.Errorf("reminder window must be positive, got %s", window)
	}
	s := &Scheduler{
		cron:    cron.New(),
		sender:  sender,
		window:  window,
		timeout: time.Minute,
		logger:  logger.With().Str("component", "reminder").Logger(),
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("parse reminder schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Dur("window", s.window).Msg("reminder scheduler started")
}

// Stop stops scheduling and waits for a running sweep to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce performs a single sweep.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	sent, err := s.sender.SendReminders(ctx, s.window)
	if err != nil {
		s.logger.Error().Err(err).Int("sent", sent).Msg("reminder sweep failed")
		return sent, err
	}
	s.logger.Info().Int("sent", sent).Msg("reminder sweep complete")
	return sent, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.RunOnce(ctx)
}
