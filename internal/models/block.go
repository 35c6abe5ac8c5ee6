package models

import (
	"time"

	"github.com/ternarybob/scribo/internal/common"
)

// BlockStatus tracks a manuscript block through editorial review
type BlockStatus string

const (
	BlockDraft      BlockStatus = "draft"
	BlockAccepted   BlockStatus = "accepted"
	BlockSuperseded BlockStatus = "superseded"
)

// ManuscriptBlock is one drafted unit of manuscript text. Every claim key
// it references must exist in the claim set at manifest write time.
type ManuscriptBlock struct {
	ID           string      `json:"id"`
	ProjectID    string      `json:"project_id"`
	JobID        string      `json:"job_id,omitempty"`
	Text         string      `json:"text"`
	ClaimKeys    []string    `json:"claim_keys"`
	CitationKeys []string    `json:"citation_keys,omitempty"`
	Status       BlockStatus `json:"status"`
	Version      int         `json:"version"`
	RigorLevel   RigorLevel  `json:"rigor_level"`
	ToneFlags    []string    `json:"tone_flags,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// NewManuscriptBlock creates a draft block supported by the given claims
func NewManuscriptBlock(projectID, jobID, text string, claimKeys, citationKeys []string, rigor RigorLevel) *ManuscriptBlock {
	now := time.Now().UTC()
	if claimKeys == nil {
		claimKeys = []string{}
	}
	return &ManuscriptBlock{
		ID:           common.NewBlockID(),
		ProjectID:    projectID,
		JobID:        jobID,
		Text:         text,
		ClaimKeys:    claimKeys,
		CitationKeys: citationKeys,
		Status:       BlockDraft,
		Version:      1,
		RigorLevel:   rigor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Supersede bumps the version and replaces the text, keeping the old
// content out of the stable serialization.
func (b *ManuscriptBlock) Supersede(text string) {
	b.Text = text
	b.Version++
	b.UpdatedAt = time.Now().UTC()
}

// AddToneFlag records a tone audit finding on the block
func (b *ManuscriptBlock) AddToneFlag(flag string) {
	for _, existing := range b.ToneFlags {
		if existing == flag {
			return
		}
	}
	b.ToneFlags = append(b.ToneFlags, flag)
	b.UpdatedAt = time.Now().UTC()
}

// WordCount counts whitespace-separated tokens in the block text
func (b *ManuscriptBlock) WordCount() int {
	count := 0
	inWord := false
	for _, r := range b.Text {
		switch r {
		case ' ', '\t', '\n', '\r':
			inWord = false
		default:
			if !inWord {
				count++
				inWord = true
			}
		}
	}
	return count
}
