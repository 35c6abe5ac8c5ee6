// -----------------------------------------------------------------------
// verifier stage - checks each proposed claim against its evidence
// through the logic server and applies the transition table.
// -----------------------------------------------------------------------

package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/scribo/internal/clients"
	"github.com/ternarybob/scribo/internal/models"
	"github.com/ternarybob/scribo/internal/workflow"
)

// verdictSchemaRegex constrains the verification response shape
const verdictSchemaRegex = `(?s)^\s*\{.*"verdict"\s*:\s*"(pass|fail|inconclusive)".*\}\s*$`

type verdictDTO struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Verifier accepts or questions proposed claims
type Verifier struct{}

func NewVerifier() *Verifier { return &Verifier{} }

func (s *Verifier) Name() string { return workflow.VerifierStage }

func (s *Verifier) Run(ctx context.Context, sc *workflow.StageContext) error {
	proposed := sc.State.ClaimsByStatus(models.ClaimProposed)
	if len(proposed) == 0 {
		sc.Logger.Info().Msg("No proposed claims to verify")
		return nil
	}

	accepted, review := 0, 0
	for i, claim := range proposed {
		var verdict verdictDTO
		req := clients.GenerateRequest{
			System:      "You verify whether a claim is supported by its quoted evidence. Respond with JSON only.",
			Prompt:      s.buildPrompt(claim),
			SchemaRegex: verdictSchemaRegex,
			Temperature: 0,
		}
		if err := sc.Clients.Logic.GenerateJSON(ctx, req, &verdict); err != nil {
			return err
		}

		switch {
		case verdict.Verdict == "pass" && verdict.Confidence >= models.VerificationFloor:
			if err := claim.Accept(models.ActorVerifier, verdict.Confidence); err != nil {
				return err
			}
			accepted++
		case verdict.Confidence < models.VerificationFloor || verdict.Verdict == "fail":
			if err := claim.MarkNeedsReview(models.ActorVerifier); err != nil {
				return err
			}
			review++
		default:
			// Inconclusive above the floor stays Proposed
		}

		if err := sc.Clients.Graph.PutDocument(ctx, "claims", claim.Key, claim); err != nil {
			return fmt.Errorf("failed to persist verified claim: %w", err)
		}

		sc.Progress(float64(i+1) / float64(len(proposed)))
	}

	sc.Logger.Info().
		Int("verified", len(proposed)).
		Int("accepted", accepted).
		Int("needs_review", review).
		Msg("Claims verified")

	return nil
}

func (s *Verifier) buildPrompt(claim *models.Claim) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Claim: %s %s %s\n", claim.Subject, claim.Predicate, claim.Object))
	if claim.Evidence != "" {
		b.WriteString("Evidence: " + claim.Evidence + "\n")
	}
	if claim.Source.Page > 0 {
		b.WriteString(fmt.Sprintf("Source page: %d\n", claim.Source.Page))
	}
	b.WriteString(`Does the evidence support the claim? Respond as JSON {"verdict": "pass"|"fail"|"inconclusive", "confidence": 0..1, "reason"}.`)
	return b.String()
}
