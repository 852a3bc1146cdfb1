// Package scheduler invokes the ETL job repeatedly until the context is cancelled.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Job is one unit of scheduled work. The context passed to it is never
// cancelled by shutdown, so a started cycle runs to completion.
type Job func(ctx context.Context)

// Scheduler runs a Job until ctx is done and returns ctx.Err().
type Scheduler interface {
	Run(ctx context.Context, job Job) error
}

// Loop runs the job, sleeps a fixed interval measured from the end of the
// run, and repeats. Runs never overlap.
type Loop struct {
	interval time.Duration
	logger   *zap.Logger
}

func NewLoop(interval time.Duration, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{interval: interval, logger: logger}
}

func (l *Loop) Run(ctx context.Context, job Job) error {
	jobCtx := context.WithoutCancel(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job(jobCtx)

		l.logger.Info("sleeping until next cycle", zap.Duration("interval", l.interval))
		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Cron runs the job once immediately and then on a cron schedule. A run that
// is still going when the next tick fires causes that tick to be skipped.
type Cron struct {
	expr      string
	scheduler *gocron.Scheduler
	logger    *zap.Logger
}

// NewCron validates expr and returns a Cron in UTC.
func NewCron(expr string, logger *zap.Logger) (*Cron, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	// Parse up front so a bad expression fails at startup, not at Run.
	if _, err := s.Cron(expr).Do(func() {}); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	s.Clear()
	return &Cron{expr: expr, scheduler: s, logger: logger}, nil
}

func (c *Cron) Run(ctx context.Context, job Job) error {
	jobCtx := context.WithoutCancel(ctx)
	// running is held for the duration of a job so Run can wait it out on shutdown.
	var running sync.Mutex

	_, err := c.scheduler.Cron(c.expr).StartImmediately().Do(func() {
		running.Lock()
		defer running.Unlock()
		job(jobCtx)
		c.logger.Info("sleeping until next cycle", zap.String("schedule", c.expr))
	})
	if err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}

	c.scheduler.StartAsync()
	<-ctx.Done()
	c.scheduler.Stop()
	running.Lock()
	running.Unlock()
	return ctx.Err()
}
