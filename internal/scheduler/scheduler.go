// Package scheduler runs the notification dispatcher on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"newsletter/internal/notify"
)

// Runner is one dispatch pass.
type Runner interface {
	Run(ctx context.Context) (notify.RunReport, error)
}

// Scheduler triggers a Runner on a cron spec. Overlapping passes within
// one process are skipped; other processes are serialized by row locks.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	timeout time.Duration

	// base parents every pass; Stop cancels it.
	base   context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler for the given standard 5-field cron spec. Each
// pass is bounded by timeout when it is positive.
func New(spec string, runner Runner, timeout time.Duration) (*Scheduler, error) {
	logger := slogLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runner:  runner,
		timeout: timeout,
	}
	s.base, s.cancel = context.WithCancel(context.Background())
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		s.cancel()
		return nil, fmt.Errorf("schedule dispatcher %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	ctx := s.base
	if ctx.Err() != nil {
		return
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := s.runner.Run(ctx); err != nil {
		slog.Error("scheduled dispatch failed", "error", err)
	}
}

// Start begins running passes in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("dispatch scheduler started")
}

// Stop halts scheduling, cancels a running pass and waits for it to
// return or for ctx, whichever is first. Sends already recorded stay
// recorded; the rest are picked up by the next pass.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("dispatch scheduler stop timed out")
	}
	slog.Info("dispatch scheduler stopped")
}

// slogLogger adapts slog to cron.Logger.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
