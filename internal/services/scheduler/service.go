// -----------------------------------------------------------------------
// Scheduler service - background maintenance on cron schedules: the
// stale-job reaper and Badger value-log GC.
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/common"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
)

// Service runs the periodic maintenance tasks
type Service struct {
	config    *common.Config
	jobStore  interfaces.JobStore
	storage   interfaces.StorageManager
	events    interfaces.EventService
	telemetry interfaces.TelemetryService
	cron      *cron.Cron
	logger    arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewService creates a scheduler service
func NewService(config *common.Config, jobStore interfaces.JobStore, storage interfaces.StorageManager, events interfaces.EventService, telemetry interfaces.TelemetryService, logger arbor.ILogger) *Service {
	return &Service{
		config:    config,
		jobStore:  jobStore,
		storage:   storage,
		events:    events,
		telemetry: telemetry,
		cron:      cron.New(),
		logger:    logger,
	}
}

// Start registers the maintenance jobs and starts the cron loop
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if !s.config.Scheduler.Enabled {
		s.logger.Info().Msg("Scheduler disabled by configuration")
		return nil
	}

	if _, err := s.cron.AddFunc(s.config.Scheduler.StaleJobSchedule, s.reapStaleJobs); err != nil {
		return fmt.Errorf("failed to schedule stale-job reaper: %w", err)
	}
	if _, err := s.cron.AddFunc(s.config.Scheduler.GCSchedule, s.runStorageGC); err != nil {
		return fmt.Errorf("failed to schedule storage GC: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("stale_job_schedule", s.config.Scheduler.StaleJobSchedule).
		Str("gc_schedule", s.config.Scheduler.GCSchedule).
		Msg("Scheduler started")

	return nil
}

// Stop halts the cron loop, waiting for in-flight runs to finish
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn().Msg("Scheduler stop timed out waiting for running tasks")
	}

	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// reapStaleJobs fails RUNNING jobs whose worker stopped heartbeating.
// A reaped job is indistinguishable from a failed one to clients; the
// telemetry event carries the distinction.
func (s *Service) reapStaleJobs() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timeout := s.config.StaleJobTimeout()
	cutoff := time.Now().UTC().Add(-timeout)

	running, err := s.jobStore.ListByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Stale-job scan failed")
		return
	}

	for _, job := range running {
		last := job.StartedAt
		if job.LastHeartbeat != nil {
			last = job.LastHeartbeat
		}
		if last == nil || last.After(cutoff) {
			continue
		}

		if err := s.jobStore.SetError(ctx, job.ID, "worker lost"); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to reap stale job")
			continue
		}

		s.logger.Warn().
			Str("job_id", job.ID).
			Str("stage", job.CurrentStage).
			Str("last_heartbeat", last.Format(time.RFC3339)).
			Msg("Stale job reaped")

		if s.telemetry != nil {
			s.telemetry.Record("stale_job_reaped", map[string]interface{}{
				"job_id": job.ID,
				"stage":  job.CurrentStage,
			})
		}
		if s.events != nil {
			s.events.Publish(ctx, interfaces.Event{
				Type:    interfaces.EventStaleJobReaped,
				Payload: map[string]interface{}{"job_id": job.ID},
			})
		}
	}
}

// runStorageGC triggers Badger value-log garbage collection
func (s *Service) runStorageGC() {
	if s.storage == nil {
		return
	}
	if err := s.storage.RunGC(); err != nil {
		s.logger.Warn().Err(err).Msg("Storage GC pass failed")
		return
	}
	s.logger.Debug().Msg("Storage GC pass completed")
}
