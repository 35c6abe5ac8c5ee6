// -----------------------------------------------------------------------
// Claim - subject/predicate/object assertions with evidence, provenance
// and a fixed status transition table
// -----------------------------------------------------------------------

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ClaimStatus tracks a claim through the verification ontology
type ClaimStatus string

const (
	ClaimProposed    ClaimStatus = "Proposed"
	ClaimAccepted    ClaimStatus = "Accepted"
	ClaimFlagged     ClaimStatus = "Flagged"
	ClaimNeedsReview ClaimStatus = "NeedsReview"
)

// Provenance actors recorded on claims. Stage runtime names are lowercase;
// provenance uses the specialist's proper name.
const (
	ActorCartographer = "Cartographer"
	ActorVerifier     = "Verifier"
	ActorCritic       = "Critic"
	ActorHuman        = "Human"
)

// VerificationFloor is the confidence below which an inconclusive
// verification marks a claim NeedsReview instead of leaving it Proposed.
const VerificationFloor = 0.5

// SourcePointer locates a claim's evidence inside a source document
type SourcePointer struct {
	DocHash string     `json:"doc_hash"`
	Page    int        `json:"page"`
	BBox    [4]float64 `json:"bbox"`
	Snippet string     `json:"snippet,omitempty"`
}

// Provenance names the stages that touched a claim. Entries are append-only:
// an override acceptance keeps the flagging record.
type Provenance struct {
	ProposedBy string `json:"proposed_by,omitempty"`
	VerifiedBy string `json:"verified_by,omitempty"`
	FlaggedBy  string `json:"flagged_by,omitempty"`
}

// ConflictRecord explains two competing claims with pointers to each source
type ConflictRecord struct {
	Summary       string        `json:"summary"`
	SourceA       SourcePointer `json:"source_a"`
	SourceB       SourcePointer `json:"source_b"`
	ClaimTextA    string        `json:"claim_text_a"`
	ClaimTextB    string        `json:"claim_text_b"`
	OtherClaimKey string        `json:"other_claim_key,omitempty"`
}

// Claim is a subject-predicate-object assertion with evidence and provenance.
// Claims are keyed by (project_id, subject, predicate, object) so repeated
// extraction collapses into upserts.
type Claim struct {
	Key              string          `json:"key"`
	ProjectID        string          `json:"project_id"`
	JobID            string          `json:"job_id,omitempty"`
	Subject          string          `json:"subject"`
	Predicate        string          `json:"predicate"`
	Object           string          `json:"object"`
	Confidence       float64         `json:"confidence"`
	Evidence         string          `json:"evidence,omitempty"`
	Source           SourcePointer   `json:"source"`
	Status           ClaimStatus     `json:"status"`
	Provenance       Provenance      `json:"provenance"`
	ResearchQuestion string          `json:"research_question,omitempty"`
	CitationKeys     []string        `json:"citation_keys,omitempty"`
	Conflict         *ConflictRecord `json:"conflict,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ClaimKey derives the stable claim key from the identity tuple
func ClaimKey(projectID, subject, predicate, object string) string {
	h := sha256.Sum256([]byte(projectID + "|" + subject + "|" + predicate + "|" + object))
	return hex.EncodeToString(h[:])
}

// NewClaim creates a Proposed claim with cartographer provenance
func NewClaim(projectID, jobID, subject, predicate, object string, confidence float64, source SourcePointer) (*Claim, error) {
	subject = strings.TrimSpace(subject)
	predicate = strings.TrimSpace(predicate)
	object = strings.TrimSpace(object)
	if subject == "" || predicate == "" || object == "" {
		return nil, fmt.Errorf("claim requires non-empty subject, predicate and object")
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	now := time.Now().UTC()
	return &Claim{
		Key:        ClaimKey(projectID, subject, predicate, object),
		ProjectID:  projectID,
		JobID:      jobID,
		Subject:    subject,
		Predicate:  predicate,
		Object:     object,
		Confidence: confidence,
		Source:     source,
		Status:     ClaimProposed,
		Provenance: Provenance{ProposedBy: ActorCartographer},
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// claimTransitions is the fixed status table. Flagged→Accepted is absent
// here on purpose: it requires the explicit override path.
var claimTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimProposed:    {ClaimAccepted, ClaimFlagged, ClaimNeedsReview},
	ClaimNeedsReview: {ClaimAccepted, ClaimFlagged},
	ClaimAccepted:    {ClaimFlagged},
}

func (c *Claim) canTransitionTo(next ClaimStatus) bool {
	for _, allowed := range claimTransitions[c.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Accept marks the claim Accepted on a verification pass. Only the
// verifier (or a human) may accept, and never from Flagged.
func (c *Claim) Accept(actor string, confidence float64) error {
	if actor != ActorVerifier && actor != ActorHuman {
		return fmt.Errorf("claim acceptance requires verifier or human provenance, got %q", actor)
	}
	if !c.canTransitionTo(ClaimAccepted) {
		return fmt.Errorf("claim %s cannot move from %s to %s", shortKey(c.Key), c.Status, ClaimAccepted)
	}
	c.Status = ClaimAccepted
	c.Provenance.VerifiedBy = actor
	if confidence > 0 {
		c.Confidence = confidence
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkNeedsReview records an inconclusive verification below the floor
func (c *Claim) MarkNeedsReview(actor string) error {
	if !c.canTransitionTo(ClaimNeedsReview) {
		return fmt.Errorf("claim %s cannot move from %s to %s", shortKey(c.Key), c.Status, ClaimNeedsReview)
	}
	c.Status = ClaimNeedsReview
	c.Provenance.VerifiedBy = actor
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Flag transitions the claim to Flagged with a mandatory conflict record
func (c *Claim) Flag(actor string, conflict ConflictRecord) error {
	if actor != ActorCritic && actor != ActorHuman {
		return fmt.Errorf("claim flagging requires critic or human provenance, got %q", actor)
	}
	if !c.canTransitionTo(ClaimFlagged) {
		return fmt.Errorf("claim %s cannot move from %s to %s", shortKey(c.Key), c.Status, ClaimFlagged)
	}
	c.Status = ClaimFlagged
	c.Provenance.FlaggedBy = actor
	c.Conflict = &conflict
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// AcceptWithOverride moves a Flagged claim to Accepted. The override actor
// is recorded as verifier; the flagging provenance and conflict record are
// kept as history.
func (c *Claim) AcceptWithOverride(actor string) error {
	if c.Status != ClaimFlagged {
		return fmt.Errorf("override acceptance only applies to Flagged claims, claim %s is %s", shortKey(c.Key), c.Status)
	}
	if actor == "" {
		return fmt.Errorf("override acceptance requires a provenance actor")
	}
	c.Status = ClaimAccepted
	c.Provenance.VerifiedBy = actor
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
