package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob() *Job {
	return NewJob("proj_1", InitialState{
		Text:       "document text",
		RigorLevel: RigorExploratory,
	})
}

func TestJobLifecycleHappyPath(t *testing.T) {
	job := newTestJob()
	assert.Equal(t, JobStatusPending, job.Status)

	require.NoError(t, job.MarkQueued())
	assert.Equal(t, JobStatusQueued, job.Status)

	require.NoError(t, job.MarkStarted())
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.NotNil(t, job.StartedAt)

	result := NewJobResult()
	require.NoError(t, job.MarkSucceeded(result))
	assert.Equal(t, JobStatusSucceeded, job.Status)
	assert.Equal(t, float64(100), job.Progress)
	assert.NotNil(t, job.FinishedAt)
}

func TestJobInvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(j *Job)
		move  func(j *Job) error
	}{
		{
			name:  "pending cannot start directly",
			setup: func(j *Job) {},
			move:  func(j *Job) error { return j.MarkStarted() },
		},
		{
			name:  "queued cannot succeed",
			setup: func(j *Job) { _ = j.MarkQueued() },
			move:  func(j *Job) error { return j.MarkSucceeded(nil) },
		},
		{
			name: "succeeded is immutable",
			setup: func(j *Job) {
				_ = j.MarkQueued()
				_ = j.MarkStarted()
				_ = j.MarkSucceeded(nil)
			},
			move: func(j *Job) error { return j.MarkFailed("boom") },
		},
		{
			name: "failed cannot be cancelled",
			setup: func(j *Job) {
				_ = j.MarkQueued()
				_ = j.MarkStarted()
				_ = j.MarkFailed("boom")
			},
			move: func(j *Job) error { return j.MarkCancelled() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newTestJob()
			tt.setup(job)
			assert.Error(t, tt.move(job))
		})
	}
}

func TestMarkSucceededNormalizesResult(t *testing.T) {
	job := newTestJob()
	require.NoError(t, job.MarkQueued())
	require.NoError(t, job.MarkStarted())

	require.NoError(t, job.MarkSucceeded(nil))

	require.NotNil(t, job.Result)
	assert.NotNil(t, job.Result.ExtractedJSON.Triples, "triples must always be present")
	assert.Len(t, job.Result.ExtractedJSON.Triples, 0)
}

func TestMarkCancelledSetsCancelledError(t *testing.T) {
	job := newTestJob()
	require.NoError(t, job.MarkQueued())
	require.NoError(t, job.MarkStarted())

	require.NoError(t, job.MarkCancelled())

	assert.Equal(t, JobStatusCancelled, job.Status)
	assert.Equal(t, "cancelled", job.Error)
}

func TestSetProgressNeverDecreases(t *testing.T) {
	job := newTestJob()
	require.NoError(t, job.MarkQueued())
	require.NoError(t, job.MarkStarted())

	job.SetProgress("cartographer", 40)
	assert.Equal(t, float64(40), job.Progress)

	job.SetProgress("cartographer", 25)
	assert.Equal(t, float64(40), job.Progress, "progress must be non-decreasing")

	job.SetProgress("verifier", 55)
	assert.Equal(t, float64(55), job.Progress)
	assert.Equal(t, "verifier", job.CurrentStage)

	job.SetProgress("saver", 250)
	assert.Equal(t, float64(100), job.Progress, "progress is capped at 100")
}

func TestStatusMonotonicOrdering(t *testing.T) {
	assert.True(t, JobStatusRunning.AtLeast(JobStatusQueued))
	assert.True(t, JobStatusSucceeded.AtLeast(JobStatusRunning))
	assert.True(t, JobStatusFailed.AtLeast(JobStatusSucceeded), "terminal states share a rank")
	assert.False(t, JobStatusPending.AtLeast(JobStatusQueued))
}

func TestJobJSONRoundTrip(t *testing.T) {
	job := newTestJob()
	require.NoError(t, job.MarkQueued())

	data, err := job.ToJSON()
	require.NoError(t, err)

	restored, err := JobFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, job.ID, restored.ID)
	assert.Equal(t, JobStatusQueued, restored.Status)
	assert.Equal(t, "proj_1", restored.ProjectID)
	assert.NoError(t, restored.Validate())
}

func TestJobDeadlineFromSubmission(t *testing.T) {
	job := NewJob("proj_1", InitialState{DeadlineMinutes: 5})
	assert.Equal(t, 5*time.Minute, job.Deadline(30*time.Minute))

	fallback := NewJob("proj_1", InitialState{})
	assert.Equal(t, 30*time.Minute, fallback.Deadline(30*time.Minute))
}
