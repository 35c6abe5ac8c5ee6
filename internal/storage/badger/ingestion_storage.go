package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ErrIngestionNotFound is returned when an ingestion id has no stored row
var ErrIngestionNotFound = errors.New("ingestion not found")

// IngestionStorage implements the IngestionStorage interface for Badger
type IngestionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewIngestionStorage creates a new IngestionStorage instance
func NewIngestionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.IngestionStorage {
	return &IngestionStorage{
		db:     db,
		logger: logger,
	}
}

// SaveIngestion upserts an ingestion row
func (s *IngestionStorage) SaveIngestion(ctx context.Context, ingestion *models.Ingestion) error {
	if ingestion == nil || ingestion.ID == "" {
		return fmt.Errorf("ingestion ID is required")
	}

	if err := s.db.Store().Upsert(ingestion.ID, ingestion); err != nil {
		return fmt.Errorf("failed to save ingestion %s: %w", ingestion.ID, err)
	}
	return nil
}

// GetIngestion loads an ingestion by id
func (s *IngestionStorage) GetIngestion(ctx context.Context, ingestionID string) (*models.Ingestion, error) {
	var ingestion models.Ingestion
	if err := s.db.Store().Get(ingestionID, &ingestion); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrIngestionNotFound, ingestionID)
		}
		return nil, fmt.Errorf("failed to get ingestion %s: %w", ingestionID, err)
	}
	return &ingestion, nil
}

// ListIngestions returns a project's ingestions, newest first
func (s *IngestionStorage) ListIngestions(ctx context.Context, projectID string) ([]*models.Ingestion, error) {
	var ingestions []models.Ingestion
	query := badgerhold.Where("ProjectID").Eq(projectID).SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&ingestions, query); err != nil {
		return nil, fmt.Errorf("failed to list ingestions: %w", err)
	}

	result := make([]*models.Ingestion, len(ingestions))
	for i := range ingestions {
		result[i] = &ingestions[i]
	}
	return result, nil
}
