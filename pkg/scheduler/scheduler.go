// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the job once per hour
const DefaultSchedule = "@every 1h"

// Job is a unit of periodic work
type Job func(ctx context.Context) error

// Scheduler runs a single job on a cron schedule. Runs never overlap: a
// tick arriving while the previous run is still busy is skipped.
type Scheduler struct {
	cron    *cron.Cron
	job     Job
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	runs   int
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the logger used for run results
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeout bounds every run. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// NewScheduler creates a scheduler running job on spec. spec accepts the
// standard five field cron syntax and descriptors such as "@every 30m".
func NewScheduler(spec string, job Job, opts ...Option) (*Scheduler, error) {
	if job == nil {
		return nil, goerr.New("scheduler job is nil")
	}
	if spec == "" {
		spec = DefaultSchedule
	}

	s := &Scheduler{
		job:    job,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, goerr.Wrap(err, "invalid schedule", goerr.V("schedule", spec))
	}
	return s, nil
}

// Start begins running the job in the background. Runs receive a context
// derived from ctx, which is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts the schedule, cancels a running job and waits for it to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Runs returns how many times the job has been invoked
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// RunNow invokes the job synchronously, outside the schedule
func (s *Scheduler) RunNow(ctx context.Context) error {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.job(ctx); err != nil {
		s.logger.Warn("scheduled job failed", "error", err, "duration", time.Since(start))
		return err
	}
	s.logger.Debug("scheduled job finished", "duration", time.Since(start))
	return nil
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	_ = s.RunNow(ctx)
}
