package chathub

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// IdleSweeper periodically finishes active rooms nobody has written to
// within the idle timeout.
type IdleSweeper struct {
	cron       *cron.Cron
	controller *Controller
	timeout    time.Duration
	now        func() time.Time
}

func NewIdleSweeper(controller *Controller, timeout time.Duration) *IdleSweeper {
	return &IdleSweeper{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		controller: controller,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Start registers the sweep on schedule (cron expression or "@every 1m").
func (s *IdleSweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	zap.S().Infow("idle room sweeper started", "schedule", schedule, "timeout", s.timeout)
	return nil
}

// Stop waits for a running sweep to complete.
func (s *IdleSweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep runs one pass and returns the number of rooms it finished.
func (s *IdleSweeper) Sweep(ctx context.Context) int {
	n := s.controller.FinishIdle(ctx, s.now().Add(-s.timeout))
	if n > 0 {
		zap.S().Infow("finished idle rooms", "count", n)
	}
	return n
}
