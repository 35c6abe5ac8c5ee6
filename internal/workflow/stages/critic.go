// -----------------------------------------------------------------------
// critic stage - observe-only audit: pairwise conflict detection over
// the vector neighborhood and tone auditing of any existing blocks.
// Errors here are reported, never fatal to the job.
// -----------------------------------------------------------------------

package stages

import (
	"context"
	"fmt"

	"github.com/ternarybob/scribo/internal/clients"
	"github.com/ternarybob/scribo/internal/models"
	"github.com/ternarybob/scribo/internal/workflow"
)

// conflictScoreFloor is the cosine similarity above which a neighboring
// claim is considered a conflict candidate
const conflictScoreFloor = 0.85

// conflictNeighborhood is how many neighbors each claim is compared to
const conflictNeighborhood = 5

// Critic flags conflicting claims and audits tone
type Critic struct{}

func NewCritic() *Critic { return &Critic{} }

func (s *Critic) Name() string { return workflow.CriticStage }

func (s *Critic) Run(ctx context.Context, sc *workflow.StageContext) error {
	accepted := sc.State.ClaimsByStatus(models.ClaimAccepted)
	if len(accepted) == 0 {
		sc.Logger.Info().Msg("No accepted claims to audit")
		return nil
	}

	texts := make([]string, len(accepted))
	for i, claim := range accepted {
		texts[i] = claim.Subject + " " + claim.Object
	}

	vectors, err := sc.Clients.Embed.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed claims: %w", err)
	}
	if len(vectors) != len(accepted) {
		return fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(accepted), len(vectors))
	}

	sc.Progress(0.3)

	records := make([]clients.VectorRecord, len(accepted))
	for i, claim := range accepted {
		records[i] = clients.VectorRecord{
			ID:     claim.Key,
			Vector: vectors[i],
			Payload: map[string]interface{}{
				"project_id": claim.ProjectID,
				"subject":    claim.Subject,
				"predicate":  claim.Predicate,
				"object":     claim.Object,
				"page":       claim.Source.Page,
			},
		}
	}
	if err := sc.Clients.Vector.Upsert(ctx, records); err != nil {
		return fmt.Errorf("failed to index claims: %w", err)
	}

	sc.Progress(0.5)

	byKey := make(map[string]*models.Claim, len(sc.State.Claims))
	for _, claim := range sc.State.Claims {
		byKey[claim.Key] = claim
	}

	conflicts := 0
	for i, claim := range accepted {
		matches, err := sc.Clients.Vector.Search(ctx, vectors[i], conflictNeighborhood)
		if err != nil {
			return fmt.Errorf("failed to query claim neighborhood: %w", err)
		}

		for _, match := range matches {
			if match.ID == claim.Key || match.Score < conflictScoreFloor {
				continue
			}
			other := byKey[match.ID]
			if !s.isConflict(claim, match, other) {
				continue
			}

			if err := s.flagPair(ctx, sc, claim, match, other); err != nil {
				sc.Logger.Warn().Err(err).Msg("Failed to record conflict")
				continue
			}
			conflicts++
			break
		}

		sc.Progress(0.5 + 0.4*float64(i+1)/float64(len(accepted)))
	}

	s.auditBlocks(sc)

	sc.Logger.Info().
		Int("audited", len(accepted)).
		Int("conflicts", conflicts).
		Msg("Critic pass completed")

	return nil
}

// isConflict reports whether a high-similarity neighbor contradicts the
// claim: same subject and predicate, different object, same project.
func (s *Critic) isConflict(claim *models.Claim, match clients.VectorMatch, other *models.Claim) bool {
	if other != nil {
		return other.ProjectID == claim.ProjectID &&
			other.Subject == claim.Subject &&
			other.Predicate == claim.Predicate &&
			other.Object != claim.Object
	}

	projectID, _ := match.Payload["project_id"].(string)
	subject, _ := match.Payload["subject"].(string)
	predicate, _ := match.Payload["predicate"].(string)
	object, _ := match.Payload["object"].(string)
	return projectID == claim.ProjectID &&
		subject == claim.Subject &&
		predicate == claim.Predicate &&
		object != claim.Object
}

// flagPair records the conflict on both claims and writes the conflict
// edge. The neighbor may be from a prior job and absent from this run's
// state; the edge still captures the pair.
func (s *Critic) flagPair(ctx context.Context, sc *workflow.StageContext, claim *models.Claim, match clients.VectorMatch, other *models.Claim) error {
	otherObject, _ := match.Payload["object"].(string)
	otherPage, _ := match.Payload["page"].(float64)
	if other != nil {
		otherObject = other.Object
	}

	conflict := models.ConflictRecord{
		Summary:       fmt.Sprintf("competing values for %s %s", claim.Subject, claim.Predicate),
		SourceA:       claim.Source,
		SourceB:       models.SourcePointer{Page: int(otherPage)},
		ClaimTextA:    fmt.Sprintf("%s %s %s", claim.Subject, claim.Predicate, claim.Object),
		ClaimTextB:    fmt.Sprintf("%s %s %s", claim.Subject, claim.Predicate, otherObject),
		OtherClaimKey: match.ID,
	}
	if other != nil {
		conflict.SourceB = other.Source
	}

	if err := claim.Flag(models.ActorCritic, conflict); err != nil {
		return err
	}
	if err := sc.Clients.Graph.PutDocument(ctx, "claims", claim.Key, claim); err != nil {
		return err
	}

	if other != nil {
		mirrored := conflict
		mirrored.SourceA, mirrored.SourceB = conflict.SourceB, conflict.SourceA
		mirrored.ClaimTextA, mirrored.ClaimTextB = conflict.ClaimTextB, conflict.ClaimTextA
		mirrored.OtherClaimKey = claim.Key
		if err := other.Flag(models.ActorCritic, mirrored); err != nil {
			sc.Logger.Warn().Err(err).Str("claim", other.Key).Msg("Failed to mirror conflict onto neighbor")
		} else if err := sc.Clients.Graph.PutDocument(ctx, "claims", other.Key, other); err != nil {
			return err
		}
	}

	edge := clients.GraphEdge{
		ID:    claim.Key + ":" + match.ID,
		From:  claim.Key,
		To:    match.ID,
		Label: claim.Predicate,
		Properties: map[string]interface{}{
			"summary": conflict.Summary,
			"job_id":  sc.JobID,
		},
	}
	return sc.Clients.Graph.PutEdge(ctx, "claim_edges", edge)
}

// auditBlocks tone-checks any manuscript blocks already present. On the
// standard sequence the drafter has not run yet and this is a no-op.
func (s *Critic) auditBlocks(sc *workflow.StageContext) {
	for _, block := range sc.State.Blocks {
		if term := sc.Policy.HardBanMatch(block.Text); term != "" {
			block.AddToneFlag("hard-ban term: " + term)
		}
		for _, term := range sc.Policy.CautionMatches(block.Text) {
			block.AddToneFlag("caution term: " + term)
		}
	}
}
