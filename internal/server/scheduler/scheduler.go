// Package scheduler runs the server's recurring maintenance jobs on cron
// specs. A job never overlaps with a still-running instance of itself.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/nikilm-offx/TNEA-Insight/internal/logging"
	"github.com/robfig/cron/v3"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	logger logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger logging.Logger) *Scheduler {
	l := logger.With("component", "scheduler")
	cl := cronLogger{l: l}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: l,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under name. spec accepts the standard five-field
// format and descriptors such as "@hourly" or "@every 6h".
func (s *Scheduler) Add(name, spec string, job Job) error {
	if _, err := s.cron.AddJob(spec, s.wrap(name, job)); err != nil {
		return fmt.Errorf("error scheduling %s: %w", name, err)
	}
	s.logger.Info(s.ctx, "job scheduled", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) wrap(name string, job Job) cron.Job {
	return cron.FuncJob(func() {
		start := time.Now()
		s.logger.Info(s.ctx, "job started", "job", name)
		if err := job(s.ctx); err != nil {
			s.logger.Error(s.ctx, "job failed", "job", name, "duration", time.Since(start), "error", err)
			return
		}
		s.logger.Info(s.ctx, "job finished", "job", name, "duration", time.Since(start))
	})
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the context of running jobs and waits for them to return
// or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn(ctx, "scheduler stop timed out")
	}
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	l logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(context.Background(), "cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(context.Background(), "cron: "+msg, append(keysAndValues, "error", err)...)
}
