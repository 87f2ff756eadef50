// Package scheduler drives the periodic out-of-band ranking recompute.
// A single active run is assumed but not enforced: scoring is idempotent
// and upserts are keyed, so an overlapping run self-corrects.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/stackway/stackrank/pkg/ranking"
)

// Scheduler triggers the batch worker on a fixed interval.
type Scheduler struct {
	worker   *ranking.Worker
	interval time.Duration
	logger   *log.Logger
}

// New creates a scheduler. Intervals at or below zero default to 30m.
func New(worker *ranking.Worker, interval time.Duration, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Scheduler{worker: worker, interval: interval, logger: logger}
}

// Run recomputes once immediately, then on every interval tick. Blocks
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("initial recompute")
	s.recompute(ctx)

	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.recompute(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule recompute: %w", err)
	}

	c.Start()
	s.logger.Info("scheduler running", "interval", s.interval)

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) recompute(ctx context.Context) {
	start := time.Now()
	res, err := s.worker.Recompute(ctx, ranking.Scope{})
	if err != nil {
		s.logger.Error("recompute failed", "err", err)
		return
	}
	s.logger.Info("recompute done",
		"cards", res.CardsProcessed,
		"collections", res.CollectionsProcessed,
		"normalized", res.Normalized,
		"errors", len(res.Errors),
		"took", time.Since(start).Round(time.Millisecond))
}
