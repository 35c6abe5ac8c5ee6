package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/common"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{
		Path: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestJob(projectID string) *models.Job {
	return models.NewJob(projectID, models.InitialState{
		Text: "sample document text",
		ProjectContext: models.Project{
			ID:     projectID,
			Title:  "Test Project",
			Thesis: "A thesis",
		},
	})
}

func TestJobStorage_SaveAndGet(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := newTestJob("proj_1")
	require.NoError(t, storage.SaveJob(ctx, job))

	loaded, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, loaded.ID)
	assert.Equal(t, models.JobStatusPending, loaded.Status)
	assert.Equal(t, "proj_1", loaded.ProjectID)
	assert.Equal(t, "sample document text", loaded.InitialState.Text)
}

func TestJobStorage_GetMissing(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())

	_, err := storage.GetJob(context.Background(), "job_missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobStorage_ListByProjectAndStatus(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	jobA := newTestJob("proj_a")
	jobB := newTestJob("proj_b")
	require.NoError(t, jobB.MarkQueued())

	require.NoError(t, storage.SaveJob(ctx, jobA))
	require.NoError(t, storage.SaveJob(ctx, jobB))

	byProject, err := storage.ListJobs(ctx, &interfaces.JobListOptions{ProjectID: "proj_a"})
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	assert.Equal(t, jobA.ID, byProject[0].ID)

	byStatus, err := storage.ListJobs(ctx, &interfaces.JobListOptions{Status: models.JobStatusQueued})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, jobB.ID, byStatus[0].ID)
}

func TestJobStorage_UpdateSurvivesReload(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := newTestJob("proj_1")
	require.NoError(t, storage.SaveJob(ctx, job))

	require.NoError(t, job.MarkQueued())
	require.NoError(t, job.MarkStarted())
	job.SetProgress("cartographer", 35)
	require.NoError(t, storage.SaveJob(ctx, job))

	loaded, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, loaded.Status)
	assert.Equal(t, "cartographer", loaded.CurrentStage)
	assert.InDelta(t, 35.0, loaded.Progress, 0.001)
	assert.NotNil(t, loaded.StartedAt)
}

func TestIngestionStorage_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	storage := NewIngestionStorage(db, arbor.NewLogger())
	ctx := context.Background()

	ingestion := models.NewIngestion("proj_1", "paper.pdf", "abc123")
	require.NoError(t, storage.SaveIngestion(ctx, ingestion))

	loaded, err := storage.GetIngestion(ctx, ingestion.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IngestionQueued, loaded.State)
	assert.Equal(t, "paper.pdf", loaded.Filename)

	loaded.SetState(models.IngestionExtracting, 10)
	require.NoError(t, storage.SaveIngestion(ctx, loaded))

	list, err := storage.ListIngestions(ctx, "proj_1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.IngestionExtracting, list[0].State)
}
