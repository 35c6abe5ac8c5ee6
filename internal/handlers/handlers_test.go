package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/common"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
	"github.com/ternarybob/scribo/internal/storage/badger"
	"github.com/ternarybob/scribo/internal/workflow"
)

// fakeJobStore is an in-memory JobStore for handler tests. Stream
// channels are seeded by the test and handed out verbatim.
type fakeJobStore struct {
	mu      sync.Mutex
	jobs    map[string]*models.Job
	streams map[string]chan models.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:    make(map[string]*models.Job),
		streams: make(map[string]chan models.Job),
	}
}

func (f *fakeJobStore) CreateJob(ctx context.Context, projectID string, initial models.InitialState) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job := models.NewJob(projectID, initial)
	f.jobs[job.ID] = job
	return job.ID, nil
}

func (f *fakeJobStore) Transition(ctx context.Context, jobID string, from, to models.JobStatus, patch *interfaces.JobPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return badger.ErrJobNotFound
	}
	if job.Status != from {
		return common.NewValidationError("job %s is %s, expected %s", jobID, job.Status, from)
	}
	job.Status = to
	if patch != nil {
		if patch.CurrentStage != "" {
			job.CurrentStage = patch.CurrentStage
		}
		if patch.Progress != nil {
			job.Progress = *patch.Progress
		}
	}
	return nil
}

func (f *fakeJobStore) SetProgress(ctx context.Context, jobID, stage string, pct float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return badger.ErrJobNotFound
	}
	job.CurrentStage = stage
	job.Progress = pct
	return nil
}

func (f *fakeJobStore) Heartbeat(ctx context.Context, jobID string) error { return nil }

func (f *fakeJobStore) SetResult(ctx context.Context, jobID string, result *models.JobResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return badger.ErrJobNotFound
	}
	job.Status = models.JobStatusSucceeded
	job.Result = result
	job.Progress = 100
	return nil
}

func (f *fakeJobStore) SetError(ctx context.Context, jobID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return badger.ErrJobNotFound
	}
	job.Status = models.JobStatusFailed
	job.Error = message
	return nil
}

func (f *fakeJobStore) SetCancelled(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return badger.ErrJobNotFound
	}
	job.Status = models.JobStatusCancelled
	return nil
}

func (f *fakeJobStore) RequestCancel(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return badger.ErrJobNotFound
	}
	job.CancelRequested = true
	return nil
}

func (f *fakeJobStore) CancelRequested(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	return ok && job.CancelRequested
}

func (f *fakeJobStore) CancelChannel(jobID string) <-chan struct{} {
	return make(chan struct{})
}

func (f *fakeJobStore) Read(ctx context.Context, jobID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return nil, badger.ErrJobNotFound
	}
	snapshot := *job
	return &snapshot, nil
}

func (f *fakeJobStore) StreamUpdates(ctx context.Context, jobID string) (<-chan models.Job, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.jobs[jobID]; !ok {
		return nil, nil, badger.ErrJobNotFound
	}
	stream, ok := f.streams[jobID]
	if !ok {
		stream = make(chan models.Job)
		close(stream)
	}
	return stream, func() {}, nil
}

func (f *fakeJobStore) LatestJobForProject(ctx context.Context, projectID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest *models.Job
	for _, job := range f.jobs {
		if job.ProjectID != projectID {
			continue
		}
		if latest == nil || job.CreatedAt.After(latest.CreatedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, nil
	}
	snapshot := *latest
	return &snapshot, nil
}

func (f *fakeJobStore) CountJobsForProject(ctx context.Context, projectID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, job := range f.jobs {
		if job.ProjectID == projectID {
			count++
		}
	}
	return count, nil
}

func (f *fakeJobStore) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.Job
	for _, job := range f.jobs {
		if job.Status == status {
			snapshot := *job
			out = append(out, &snapshot)
		}
	}
	return out, nil
}

// job returns the stored job without copying, for assertions
func (f *fakeJobStore) job(t *testing.T, jobID string) *models.Job {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		t.Fatalf("job %s not in store", jobID)
	}
	return job
}

// fakeRegistry is an in-memory ProjectRegistry
type fakeRegistry struct {
	mu       sync.Mutex
	projects map[string]*models.Project
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{projects: make(map[string]*models.Project)}
}

func (f *fakeRegistry) add(project *models.Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[project.ID] = project
}

func (f *fakeRegistry) Create(ctx context.Context, payload models.ProjectPayload) (*models.Project, error) {
	project, err := models.NewProject(payload, models.RigorConservative)
	if err != nil {
		return nil, common.NewValidationError("%v", err)
	}
	f.add(project)
	return project, nil
}

func (f *fakeRegistry) Get(ctx context.Context, id string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	project, ok := f.projects[id]
	if !ok {
		return nil, common.NewNotFoundError("project %s not found", id)
	}
	snapshot := project.Snapshot()
	return &snapshot, nil
}

func (f *fakeRegistry) List(ctx context.Context, filter interfaces.ProjectFilter) ([]*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.Project
	for _, project := range f.projects {
		if filter.Query != "" &&
			!strings.Contains(strings.ToLower(project.Title), strings.ToLower(filter.Query)) &&
			!strings.Contains(strings.ToLower(project.Thesis), strings.ToLower(filter.Query)) {
			continue
		}
		if filter.Rigor != "" && project.RigorLevel != filter.Rigor {
			continue
		}
		snapshot := project.Snapshot()
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRegistry) Hub(ctx context.Context, filter interfaces.ProjectFilter) (*models.ProjectHubView, error) {
	projects, err := f.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	hub := &models.ProjectHubView{Active: []models.ProjectSummary{}, Archived: []models.ProjectSummary{}}
	for _, project := range projects {
		hub.Active = append(hub.Active, models.ProjectSummary{
			ID:         project.ID,
			Title:      project.Title,
			RigorLevel: project.RigorLevel,
			Status:     "Idle",
			CreatedAt:  project.CreatedAt,
			UpdatedAt:  project.UpdatedAt,
		})
	}
	return hub, nil
}

func (f *fakeRegistry) AddSeedFile(ctx context.Context, id, filename, hash string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	project, ok := f.projects[id]
	if !ok {
		return nil, common.NewNotFoundError("project %s not found", id)
	}
	project.AddSeedFile(filename, hash)
	snapshot := project.Snapshot()
	return &snapshot, nil
}

func (f *fakeRegistry) UpdateRigor(ctx context.Context, id string, level models.RigorLevel) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	project, ok := f.projects[id]
	if !ok {
		return nil, common.NewNotFoundError("project %s not found", id)
	}
	if err := project.SetRigor(level); err != nil {
		return nil, common.NewValidationError("%v", err)
	}
	snapshot := project.Snapshot()
	return &snapshot, nil
}

func (f *fakeRegistry) SetTags(ctx context.Context, id string, tags []string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	project, ok := f.projects[id]
	if !ok {
		return nil, common.NewNotFoundError("project %s not found", id)
	}
	project.Tags = tags
	snapshot := project.Snapshot()
	return &snapshot, nil
}

// fakeIngestions is an in-memory IngestionStorage
type fakeIngestions struct {
	mu         sync.Mutex
	ingestions map[string]*models.Ingestion
}

func newFakeIngestions() *fakeIngestions {
	return &fakeIngestions{ingestions: make(map[string]*models.Ingestion)}
}

func (f *fakeIngestions) SaveIngestion(ctx context.Context, ingestion *models.Ingestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := *ingestion
	f.ingestions[ingestion.ID] = &snapshot
	return nil
}

func (f *fakeIngestions) GetIngestion(ctx context.Context, ingestionID string) (*models.Ingestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ingestion, ok := f.ingestions[ingestionID]
	if !ok {
		return nil, badger.ErrIngestionNotFound
	}
	snapshot := *ingestion
	return &snapshot, nil
}

func (f *fakeIngestions) ListIngestions(ctx context.Context, projectID string) ([]*models.Ingestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.Ingestion
	for _, ingestion := range f.ingestions {
		if ingestion.ProjectID == projectID {
			snapshot := *ingestion
			out = append(out, &snapshot)
		}
	}
	return out, nil
}

// handlerEnv assembles a workflow handler over in-memory fakes. The pool
// is never started, so accepted jobs stay QUEUED for inspection.
type handlerEnv struct {
	store      *fakeJobStore
	registry   *fakeRegistry
	ingestions *fakeIngestions
	uploadDir  string
	handler    *WorkflowHandler
}

func newHandlerEnv(t *testing.T, queueSize int) *handlerEnv {
	t.Helper()
	logger := arbor.NewLogger()
	store := newFakeJobStore()
	registry := newFakeRegistry()
	ingestions := newFakeIngestions()

	runtime := workflow.NewRuntime(common.NewDefaultConfig(), store, nil, models.DefaultTonePolicy(), nil, ingestions, logger)
	pool := workflow.NewPool(store, runtime, 1, queueSize, logger)

	uploadDir := t.TempDir()
	return &handlerEnv{
		store:      store,
		registry:   registry,
		ingestions: ingestions,
		uploadDir:  uploadDir,
		handler:    NewWorkflowHandler(pool, store, registry, ingestions, uploadDir, logger),
	}
}

// seedProject registers a ready-to-use project
func (e *handlerEnv) seedProject(t *testing.T) *models.Project {
	t.Helper()
	project, err := models.NewProject(models.ProjectPayload{
		Title:             "Cadmium uptake in rice",
		Thesis:            "Soil amendments reduce grain cadmium",
		ResearchQuestions: []string{"Which amendments are most effective?"},
	}, models.RigorConservative)
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	e.registry.add(project)
	return project
}
