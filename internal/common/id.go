package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewProjectID generates a unique project ID with the "proj_" prefix
func NewProjectID() string {
	return "proj_" + uuid.New().String()
}

// NewIngestionID generates a unique ingestion ID with the "ing_" prefix
func NewIngestionID() string {
	return "ing_" + uuid.New().String()
}

// NewBlockID generates a unique manuscript block ID with the "blk_" prefix
func NewBlockID() string {
	return "blk_" + uuid.New().String()
}

// NewManifestID generates a unique artifact manifest ID with the "man_" prefix
func NewManifestID() string {
	return "man_" + uuid.New().String()
}
