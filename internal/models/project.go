package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/scribo/internal/common"
)

// SeedFile records one uploaded source document on a project.
// Hash is the SHA-256 of the file content; AddSeedFile is idempotent on it.
type SeedFile struct {
	Filename string    `json:"filename"`
	Hash     string    `json:"hash"`
	AddedAt  time.Time `json:"added_at"`
}

// Project is the research context every job snapshots at submission time.
// ID is stable for the project's lifetime; rigor mutations only affect
// subsequently submitted jobs.
type Project struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Thesis            string     `json:"thesis"`
	ResearchQuestions []string   `json:"research_questions"`
	AntiScope         []string   `json:"anti_scope,omitempty"`
	TargetJournal     string     `json:"target_journal,omitempty"`
	SeedFiles         []SeedFile `json:"seed_files"`
	RigorLevel        RigorLevel `json:"rigor_level"`
	Tags              []string   `json:"tags,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ProjectPayload is the create/update request shape
type ProjectPayload struct {
	Title             string     `json:"title"`
	Thesis            string     `json:"thesis"`
	ResearchQuestions []string   `json:"research_questions"`
	AntiScope         []string   `json:"anti_scope"`
	TargetJournal     string     `json:"target_journal"`
	RigorLevel        RigorLevel `json:"rigor_level"`
	Tags              []string   `json:"tags"`
}

// NewProject creates a project, enforcing the creation invariants
func NewProject(payload ProjectPayload, defaultRigor RigorLevel) (*Project, error) {
	if strings.TrimSpace(payload.Title) == "" {
		return nil, fmt.Errorf("project title is required")
	}
	if strings.TrimSpace(payload.Thesis) == "" {
		return nil, fmt.Errorf("project thesis is required")
	}
	questions := make([]string, 0, len(payload.ResearchQuestions))
	for _, q := range payload.ResearchQuestions {
		if trimmed := strings.TrimSpace(q); trimmed != "" {
			questions = append(questions, trimmed)
		}
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("project requires at least one research question")
	}

	rigor := payload.RigorLevel
	if rigor == "" {
		rigor = defaultRigor
	}
	if !ValidRigorLevel(rigor) {
		return nil, fmt.Errorf("unknown rigor level %q", rigor)
	}

	now := time.Now().UTC()
	return &Project{
		ID:                common.NewProjectID(),
		Title:             strings.TrimSpace(payload.Title),
		Thesis:            strings.TrimSpace(payload.Thesis),
		ResearchQuestions: questions,
		AntiScope:         payload.AntiScope,
		TargetJournal:     payload.TargetJournal,
		SeedFiles:         []SeedFile{},
		RigorLevel:        rigor,
		Tags:              payload.Tags,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// AddSeedFile appends a seed-file entry, idempotent on content hash.
// Returns true when a new entry was added.
func (p *Project) AddSeedFile(filename, hash string) bool {
	for _, sf := range p.SeedFiles {
		if sf.Hash == hash {
			return false
		}
	}
	p.SeedFiles = append(p.SeedFiles, SeedFile{
		Filename: filename,
		Hash:     hash,
		AddedAt:  time.Now().UTC(),
	})
	p.UpdatedAt = time.Now().UTC()
	return true
}

// SetRigor updates the rigor level. In-flight jobs keep the snapshot
// taken at their submission.
func (p *Project) SetRigor(level RigorLevel) error {
	if !ValidRigorLevel(level) {
		return fmt.Errorf("unknown rigor level %q", level)
	}
	p.RigorLevel = level
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// HasSeedFile reports whether a seed file with the given hash exists
func (p *Project) HasSeedFile(hash string) bool {
	for _, sf := range p.SeedFiles {
		if sf.Hash == hash {
			return true
		}
	}
	return false
}

// Snapshot returns a deep copy captured into a job's initial state
func (p *Project) Snapshot() Project {
	clone := *p
	clone.ResearchQuestions = append([]string(nil), p.ResearchQuestions...)
	clone.AntiScope = append([]string(nil), p.AntiScope...)
	clone.Tags = append([]string(nil), p.Tags...)
	clone.SeedFiles = append([]SeedFile(nil), p.SeedFiles...)
	return clone
}

// ToJSON serializes the project to its stable JSON shape
func (p *Project) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// ProjectFromJSON deserializes a project
func ProjectFromJSON(data []byte) (*Project, error) {
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project: %w", err)
	}
	return &p, nil
}
