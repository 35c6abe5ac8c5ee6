// -----------------------------------------------------------------------
// Stage runtime - drives one job through the fixed stage sequence,
// owning deadlines, cancellation, progress and ingestion updates.
// -----------------------------------------------------------------------

package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/clients"
	"github.com/ternarybob/scribo/internal/common"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
)

// Runtime executes jobs stage by stage. Stages are strictly sequential
// within a job; the job store is the only place status lives.
type Runtime struct {
	config     *common.Config
	store      interfaces.JobStore
	bundle     *clients.Bundle
	policy     models.TonePolicy
	telemetry  interfaces.TelemetryService
	ingestions interfaces.IngestionStorage
	stages     map[string]Stage
	logger     arbor.ILogger
}

// NewRuntime creates a stage runtime. Stages are registered afterwards.
func NewRuntime(config *common.Config, store interfaces.JobStore, bundle *clients.Bundle, policy models.TonePolicy, telemetry interfaces.TelemetryService, ingestions interfaces.IngestionStorage, logger arbor.ILogger) *Runtime {
	return &Runtime{
		config:     config,
		store:      store,
		bundle:     bundle,
		policy:     policy,
		telemetry:  telemetry,
		ingestions: ingestions,
		stages:     make(map[string]Stage),
		logger:     logger,
	}
}

// Register adds a stage implementation
func (r *Runtime) Register(stage Stage) {
	r.stages[stage.Name()] = stage
}

// sequenceFor returns the stage names this job runs, in order
func sequenceFor(job *models.Job) []string {
	names := []string{CartographerStage, VerifierStage, CriticStage, DrafterStage, SaverStage}
	if job.InitialState.HasUpload || job.InitialState.PDFPath != "" {
		return append([]string{IngestStage}, names...)
	}
	return names
}

// Execute runs one job to a terminal status. It never returns an error
// for job-level failures; those are recorded on the job itself.
func (r *Runtime) Execute(ctx context.Context, jobID string) {
	logger := r.logger.WithCorrelationId(jobID)

	job, err := r.store.Read(ctx, jobID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load job for execution")
		return
	}
	if job.IsTerminal() {
		return
	}
	if job.CancelRequested {
		r.finishCancelled(ctx, job, logger)
		return
	}

	if err := r.store.Transition(ctx, jobID, models.JobStatusQueued, models.JobStatusRunning, nil); err != nil {
		logger.Error().Err(err).Msg("Failed to start job")
		return
	}

	deadline := job.Deadline(r.config.JobDeadline())
	runCtx, cancelRun := context.WithTimeout(ctx, deadline)
	defer cancelRun()

	// Client cancellation cancels the running stage at its next
	// suspension point.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-r.store.CancelChannel(jobID):
			cancelRun()
		case <-stopWatch:
		}
	}()

	go r.heartbeatLoop(runCtx, jobID)

	state := &State{IngestionID: job.IngestionID}
	reporter := newProgressReporter(r.store, jobID, logger)

	sc := &StageContext{
		JobID:   jobID,
		Project: job.InitialState.ProjectContext,
		Rigor:   job.InitialState.RigorLevel,
		Initial: job.InitialState,
		State:   state,
		Clients: r.bundle,
		Policy:  r.policy,
		Logger:  logger,
	}

	for _, name := range sequenceFor(job) {
		if r.store.CancelRequested(jobID) {
			r.finishCancelled(ctx, job, logger)
			return
		}

		stage, ok := r.stages[name]
		if !ok {
			r.failJob(ctx, job, &StageError{Stage: name, Err: fmt.Errorf("stage not registered")}, logger)
			return
		}

		window := WindowFor(name)
		reporter.report(ctx, name, window.Lo, true)
		r.updateIngestion(ctx, state.IngestionID, name, window.Lo)

		sc.Progress = func(sub float64) {
			reporter.report(ctx, name, window.Pct(sub), false)
		}

		started := time.Now()
		logger.Info().Str("stage", name).Msg("Stage started")

		err := r.runStage(runCtx, stage, sc)
		if err != nil {
			if name == CriticStage {
				// The critic observes; it never fails the job
				logger.Warn().Err(err).Msg("Critic pass failed, continuing")
				r.record("critic_pass_failed", map[string]interface{}{"job_id": jobID, "error": err.Error()})
				continue
			}

			if r.store.CancelRequested(jobID) {
				r.finishCancelled(ctx, job, logger)
				return
			}

			r.failJob(ctx, job, &StageError{Stage: name, Err: err}, logger)
			return
		}

		logger.Info().
			Str("stage", name).
			Str("duration", time.Since(started).Round(time.Millisecond).String()).
			Msg("Stage completed")
	}

	result := &models.JobResult{ArtifactManifest: state.Manifest}
	result.ExtractedJSON.Triples = make([]models.Claim, 0, len(state.Claims))
	for _, claim := range state.Claims {
		result.ExtractedJSON.Triples = append(result.ExtractedJSON.Triples, *claim)
	}

	if err := r.store.SetResult(ctx, jobID, result); err != nil {
		logger.Error().Err(err).Msg("Failed to record job result")
		return
	}

	r.completeIngestion(ctx, state.IngestionID)
	logger.Info().
		Int("claims", len(state.Claims)).
		Int("blocks", len(state.Blocks)).
		Msg("Job succeeded")
}

// runStage applies the per-stage deadline override, bounded by the
// remaining job deadline.
func (r *Runtime) runStage(runCtx context.Context, stage Stage, sc *StageContext) error {
	stageCtx := runCtx
	if d, ok := r.config.StageDeadline(stage.Name()); ok {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(runCtx, d)
		defer cancel()
	}
	return stage.Run(stageCtx, sc)
}

func (r *Runtime) heartbeatLoop(ctx context.Context, jobID string) {
	ticker := time.NewTicker(r.config.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Heartbeat(context.Background(), jobID); err != nil {
				return
			}
		}
	}
}

func (r *Runtime) failJob(ctx context.Context, job *models.Job, serr *StageError, logger arbor.ILogger) {
	logger.Error().
		Str("stage", serr.Stage).
		Str("class", string(serr.Class())).
		Err(serr.Err).
		Msg("Job failed")

	if err := r.store.SetError(ctx, job.ID, serr.Error()); err != nil {
		logger.Error().Err(err).Msg("Failed to record job failure")
	}
	r.record("stage_failed", map[string]interface{}{
		"job_id": job.ID,
		"stage":  serr.Stage,
		"class":  string(serr.Class()),
	})
	r.failIngestion(ctx, job.IngestionID, serr.Error())
}

func (r *Runtime) finishCancelled(ctx context.Context, job *models.Job, logger arbor.ILogger) {
	if err := r.store.SetCancelled(ctx, job.ID); err != nil {
		logger.Warn().Err(err).Msg("Failed to record job cancellation")
		return
	}
	logger.Info().Msg("Job cancelled")
	r.failIngestion(ctx, job.IngestionID, "cancelled")
}

// updateIngestion maps the stage onto the coarse ingestion state
func (r *Runtime) updateIngestion(ctx context.Context, ingestionID, stage string, progress float64) {
	if ingestionID == "" || r.ingestions == nil {
		return
	}
	ingestion, err := r.ingestions.GetIngestion(ctx, ingestionID)
	if err != nil {
		return
	}
	ingestion.SetState(models.IngestionStateForStage(stage), progress)
	if err := r.ingestions.SaveIngestion(ctx, ingestion); err != nil {
		r.logger.Debug().Err(err).Str("ingestion_id", ingestionID).Msg("Ingestion update skipped")
	}
}

func (r *Runtime) completeIngestion(ctx context.Context, ingestionID string) {
	if ingestionID == "" || r.ingestions == nil {
		return
	}
	if ingestion, err := r.ingestions.GetIngestion(ctx, ingestionID); err == nil {
		ingestion.MarkCompleted()
		r.ingestions.SaveIngestion(ctx, ingestion)
	}
}

func (r *Runtime) failIngestion(ctx context.Context, ingestionID, message string) {
	if ingestionID == "" || r.ingestions == nil {
		return
	}
	if ingestion, err := r.ingestions.GetIngestion(ctx, ingestionID); err == nil {
		ingestion.MarkFailed(message)
		r.ingestions.SaveIngestion(ctx, ingestion)
	}
}

func (r *Runtime) record(name string, fields map[string]interface{}) {
	if r.telemetry != nil {
		r.telemetry.Record(name, fields)
	}
}
