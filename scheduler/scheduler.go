// Package scheduler provides unattended operation for the staging pipeline.
// It wraps gocron to run the full pipeline once at startup and then refresh
// the staged datasets on a daily schedule, for deployments that keep the
// conflation inputs current without an operator.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/eticaai/osm-dados-abertos/interfaces"
	"github.com/eticaai/osm-dados-abertos/logging"
	"github.com/go-co-op/gocron"
)

// Compile-time check to ensure Scheduler implements Scheduler interface
var _ interfaces.Scheduler = (*Scheduler)(nil)

// refreshAt is early morning local time, when the upstream mirrors publish
// their daily extracts and are least loaded
const refreshAt = "04:00"

// Scheduler runs the injected pipeline on a recurring schedule
type Scheduler struct {
	pipeline  interfaces.Pipeline
	scheduler *gocron.Scheduler
}

// NewScheduler creates a scheduler instance with injected dependencies
func NewScheduler(pipeline interfaces.Pipeline) *Scheduler {
	return &Scheduler{
		pipeline:  pipeline,
		scheduler: gocron.NewScheduler(time.Local),
	}
}

// Start performs the initial pipeline run, then schedules the daily
// refresh. A failed initial run is fatal; a failed scheduled run is logged
// and retried at the next tick. ctx flows into every pipeline run, so an
// interrupt reaches in-flight downloads and tool invocations.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.pipeline.Run(ctx); err != nil {
		logging.Error("Initial staging run failed", "error", err)
		return fmt.Errorf("initial staging run failed: %w", err)
	}

	_, err := s.scheduler.Every(1).Days().At(refreshAt).Do(func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := s.pipeline.Run(ctx); err != nil {
			logging.Error("Scheduled staging run failed", "error", err)
			return
		}
		logging.Info("Scheduled staging run finished", "duration", time.Since(start).Round(time.Second).String())
	})
	if err != nil {
		logging.Error("Failed to schedule staging runs", "error", err)
		return fmt.Errorf("failed to schedule staging runs: %w", err)
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
