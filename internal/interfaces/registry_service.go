package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/scribo/internal/models"
)

// ProjectFilter narrows a project listing. Zero fields do not filter.
type ProjectFilter struct {
	Query         string            // Substring match on title and thesis
	Tags          []string          // Tag intersection: every tag must be present
	Rigor         models.RigorLevel // Rigor equality
	Status        string            // Derived status equality (Idle, Processing, Completed, Failed)
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// ProjectRegistry owns project CRUD and seed-file maintenance. Projects
// persist in the graph store; a RemoteUnavailable graph failure surfaces
// as ServiceUnavailable.
type ProjectRegistry interface {
	Create(ctx context.Context, payload models.ProjectPayload) (*models.Project, error)
	Get(ctx context.Context, id string) (*models.Project, error)
	List(ctx context.Context, filter ProjectFilter) ([]*models.Project, error)

	// Hub partitions the filtered projects into active and archived
	Hub(ctx context.Context, filter ProjectFilter) (*models.ProjectHubView, error)

	// AddSeedFile appends to the seed-file list, idempotent on hash
	AddSeedFile(ctx context.Context, id, filename, hash string) (*models.Project, error)

	// UpdateRigor sets the rigor level; in-flight jobs are unaffected
	UpdateRigor(ctx context.Context, id string, level models.RigorLevel) (*models.Project, error)

	// SetTags replaces the project's tag list
	SetTags(ctx context.Context, id string, tags []string) (*models.Project, error)
}
