// -----------------------------------------------------------------------
// Project registry - project CRUD over the graph store projects
// collection, with derived status from the job store.
// -----------------------------------------------------------------------

package registry

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/clients"
	"github.com/ternarybob/scribo/internal/common"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
)

// activityWindow is how recently a project needs a job to count as
// active in the hub view
const activityWindow = 30 * 24 * time.Hour

// projectsCollection is the graph store collection holding projects
const projectsCollection = "projects"

// Service implements interfaces.ProjectRegistry
type Service struct {
	graph        *clients.GraphClient
	jobStore     interfaces.JobStore
	defaultRigor models.RigorLevel
	logger       arbor.ILogger
}

// NewService creates a project registry. jobStore may be nil; derived
// statuses then report Idle.
func NewService(graph *clients.GraphClient, jobStore interfaces.JobStore, defaultRigor models.RigorLevel, logger arbor.ILogger) *Service {
	if !models.ValidRigorLevel(defaultRigor) {
		defaultRigor = models.RigorExploratory
	}
	return &Service{
		graph:        graph,
		jobStore:     jobStore,
		defaultRigor: defaultRigor,
		logger:       logger,
	}
}

// Compile-time assertion
var _ interfaces.ProjectRegistry = (*Service)(nil)

// Create validates the payload and persists a new project
func (s *Service) Create(ctx context.Context, payload models.ProjectPayload) (*models.Project, error) {
	project, err := models.NewProject(payload, s.defaultRigor)
	if err != nil {
		return nil, common.NewValidationError("%s", err.Error())
	}

	if err := s.put(ctx, project); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("project_id", project.ID).
		Str("title", project.Title).
		Str("rigor", string(project.RigorLevel)).
		Msg("Project created")

	return project, nil
}

// Get loads a project by id
func (s *Service) Get(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project
	if err := s.graph.GetDocument(ctx, projectsCollection, id, &project); err != nil {
		return nil, s.translate(err, id)
	}
	return &project, nil
}

// List returns projects matching the filter, newest first
func (s *Service) List(ctx context.Context, filter interfaces.ProjectFilter) ([]*models.Project, error) {
	docs, err := s.graph.QueryDocuments(ctx, projectsCollection, clients.GraphQuery{})
	if err != nil {
		return nil, s.translate(err, "")
	}

	projects := make([]*models.Project, 0, len(docs))
	for _, raw := range docs {
		var project models.Project
		if err := json.Unmarshal(raw, &project); err != nil {
			s.logger.Warn().Err(err).Msg("Skipping undecodable project document")
			continue
		}
		match, err := s.matches(ctx, &project, filter)
		if err != nil {
			return nil, err
		}
		if match {
			projects = append(projects, &project)
		}
	}

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

// Hub partitions the filtered projects into active and archived. Active
// means a job within the activity window or one currently processing.
func (s *Service) Hub(ctx context.Context, filter interfaces.ProjectFilter) (*models.ProjectHubView, error) {
	projects, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	view := &models.ProjectHubView{
		Active:   []models.ProjectSummary{},
		Archived: []models.ProjectSummary{},
	}

	now := time.Now().UTC()
	for _, project := range projects {
		summary, latest := s.summarize(ctx, project)
		active := false
		if latest != nil {
			if !latest.Status.IsTerminal() {
				active = true
			} else if now.Sub(latest.CreatedAt) <= activityWindow {
				active = true
			}
		}
		if active {
			view.Active = append(view.Active, summary)
		} else {
			view.Archived = append(view.Archived, summary)
		}
	}

	return view, nil
}

// AddSeedFile appends a seed file, idempotent on content hash
func (s *Service) AddSeedFile(ctx context.Context, id, filename, hash string) (*models.Project, error) {
	if hash == "" {
		return nil, common.NewValidationError("seed file hash is required")
	}

	project, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !project.AddSeedFile(filename, hash) {
		// Already present; nothing to persist
		return project, nil
	}

	if err := s.put(ctx, project); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("project_id", id).
		Str("filename", filename).
		Msg("Seed file added")

	return project, nil
}

// UpdateRigor sets the rigor level. Jobs already in flight keep the
// snapshot captured at their submission.
func (s *Service) UpdateRigor(ctx context.Context, id string, level models.RigorLevel) (*models.Project, error) {
	project, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := project.SetRigor(level); err != nil {
		return nil, common.NewValidationError("%s", err.Error())
	}

	if err := s.put(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// SetTags replaces the project's tag list
func (s *Service) SetTags(ctx context.Context, id string, tags []string) (*models.Project, error) {
	project, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	project.Tags = tags
	project.UpdatedAt = time.Now().UTC()

	if err := s.put(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

func (s *Service) put(ctx context.Context, project *models.Project) error {
	if err := s.graph.PutDocument(ctx, projectsCollection, project.ID, project); err != nil {
		return s.translate(err, project.ID)
	}
	return nil
}

// matches applies the filter to one project. Derived status is only
// resolved when the filter asks for it.
func (s *Service) matches(ctx context.Context, project *models.Project, filter interfaces.ProjectFilter) (bool, error) {
	if filter.Query != "" {
		q := strings.ToLower(filter.Query)
		if !strings.Contains(strings.ToLower(project.Title), q) &&
			!strings.Contains(strings.ToLower(project.Thesis), q) {
			return false, nil
		}
	}

	for _, tag := range filter.Tags {
		found := false
		for _, existing := range project.Tags {
			if strings.EqualFold(existing, tag) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}

	if filter.Rigor != "" && project.RigorLevel != filter.Rigor {
		return false, nil
	}

	if filter.CreatedAfter != nil && project.CreatedAt.Before(*filter.CreatedAfter) {
		return false, nil
	}
	if filter.CreatedBefore != nil && project.CreatedAt.After(*filter.CreatedBefore) {
		return false, nil
	}

	if filter.Status != "" {
		status := s.derivedStatus(ctx, project.ID)
		if !strings.EqualFold(status, filter.Status) {
			return false, nil
		}
	}

	return true, nil
}

// derivedStatus maps the latest job onto a coarse project status
func (s *Service) derivedStatus(ctx context.Context, projectID string) string {
	if s.jobStore == nil {
		return "Idle"
	}
	latest, err := s.jobStore.LatestJobForProject(ctx, projectID)
	if err != nil || latest == nil {
		return "Idle"
	}
	switch latest.Status {
	case models.JobStatusSucceeded:
		return "Completed"
	case models.JobStatusFailed:
		return "Failed"
	case models.JobStatusCancelled:
		return "Cancelled"
	default:
		return "Processing"
	}
}

func (s *Service) summarize(ctx context.Context, project *models.Project) (models.ProjectSummary, *models.Job) {
	summary := models.ProjectSummary{
		ID:            project.ID,
		Title:         project.Title,
		RigorLevel:    project.RigorLevel,
		Tags:          project.Tags,
		Status:        "Idle",
		SeedFileCount: len(project.SeedFiles),
		CreatedAt:     project.CreatedAt,
		UpdatedAt:     project.UpdatedAt,
	}

	var latest *models.Job
	if s.jobStore != nil {
		latest, _ = s.jobStore.LatestJobForProject(ctx, project.ID)
	}
	if latest != nil {
		summary.Status = s.derivedStatus(ctx, project.ID)
		created := latest.CreatedAt
		summary.LastJobAt = &created
	}
	return summary, latest
}

// translate maps a graph client error onto the API taxonomy
func (s *Service) translate(err error, id string) error {
	if clients.IsNotFound(err) {
		return common.NewNotFoundError("project not found: %s", id)
	}
	if clients.IsRemoteUnavailable(err) {
		return common.NewUnavailableError("project registry is unavailable", err)
	}
	return common.NewInternalError(err)
}
