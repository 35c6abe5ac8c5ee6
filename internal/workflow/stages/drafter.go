// -----------------------------------------------------------------------
// drafter stage - turns accepted claims into manuscript blocks through
// the draft provider, with the conditional tone rewrite pass.
// -----------------------------------------------------------------------

package stages

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/scribo/internal/clients"
	"github.com/ternarybob/scribo/internal/models"
	"github.com/ternarybob/scribo/internal/workflow"
)

// citationTokenRe matches the inline claim citation tokens the draft
// provider is instructed to emit, e.g. [claim:3fa8c2d19b04]
var citationTokenRe = regexp.MustCompile(`\[claim:([0-9a-f]{6,64})\]`)

// Drafter produces manuscript prose from accepted claims
type Drafter struct{}

func NewDrafter() *Drafter { return &Drafter{} }

func (s *Drafter) Name() string { return workflow.DrafterStage }

func (s *Drafter) Run(ctx context.Context, sc *workflow.StageContext) error {
	accepted := sc.State.ClaimsByStatus(models.ClaimAccepted)
	if len(accepted) == 0 {
		sc.Logger.Info().Msg("No accepted claims, nothing to draft")
		return nil
	}

	content, err := sc.Clients.Draft.Chat(ctx, clients.ChatRequest{
		System:   s.systemPrompt(sc),
		Messages: []clients.ChatMessage{{Role: "user", Content: s.buildPrompt(sc, accepted)}},
	})
	if err != nil {
		return err
	}

	sc.Progress(0.6)

	acceptedKeys := make(map[string]bool, len(accepted))
	allKeys := make([]string, 0, len(accepted))
	for _, claim := range accepted {
		acceptedKeys[claim.Key] = true
		allKeys = append(allKeys, claim.Key)
	}

	for _, paragraph := range splitParagraphs(content) {
		claimKeys := s.citedClaims(paragraph, acceptedKeys, allKeys)
		block := models.NewManuscriptBlock(sc.Project.ID, sc.JobID, paragraph, claimKeys, citationTokens(paragraph), sc.Rigor)

		if err := s.applyTonePolicy(ctx, sc, block); err != nil {
			return err
		}

		sc.State.Blocks = append(sc.State.Blocks, block)
	}

	sc.Progress(1)
	sc.Logger.Info().
		Int("blocks", len(sc.State.Blocks)).
		Int("claims", len(accepted)).
		Msg("Manuscript drafted")

	return nil
}

// applyTonePolicy audits one block. The rewrite pass runs only when all
// three gates hold: conservative rigor, rewrite mode, and a hard-ban
// term present.
func (s *Drafter) applyTonePolicy(ctx context.Context, sc *workflow.StageContext, block *models.ManuscriptBlock) error {
	term := sc.Policy.HardBanMatch(block.Text)

	if term != "" && sc.Rigor == models.RigorConservative && sc.Policy.Mode == models.ToneModeRewrite {
		rewritten, err := sc.Clients.Draft.Chat(ctx, clients.ChatRequest{
			System: "You rewrite academic prose to remove overclaiming language. Keep every [claim:...] citation token exactly as written.",
			Messages: []clients.ChatMessage{{
				Role: "user",
				Content: fmt.Sprintf("Rewrite this paragraph without the term %q and without introducing new claims:\n\n%s",
					term, block.Text),
			}},
		})
		if err != nil {
			return err
		}

		// A rewrite that drops citation tokens is discarded
		if sameTokens(block.Text, rewritten) {
			block.Supersede(strings.TrimSpace(rewritten))
			block.AddToneFlag("rewritten: " + term)
			term = sc.Policy.HardBanMatch(block.Text)
		} else {
			sc.Logger.Warn().Str("block_id", block.ID).Msg("Tone rewrite dropped citation tokens, keeping original")
		}
	}

	if term != "" {
		block.AddToneFlag("hard-ban term: " + term)
	}
	for _, caution := range sc.Policy.CautionMatches(block.Text) {
		block.AddToneFlag("caution term: " + caution)
	}
	return nil
}

func (s *Drafter) systemPrompt(sc *workflow.StageContext) string {
	return "You draft manuscript paragraphs strictly from the provided claims. " +
		"After each sentence that uses a claim, cite it with its token, e.g. [claim:KEY]. " +
		"Rigor level: " + string(sc.Rigor) + "."
}

func (s *Drafter) buildPrompt(sc *workflow.StageContext, accepted []*models.Claim) string {
	var b strings.Builder
	b.WriteString("Research questions:\n")
	for _, q := range sc.Project.ResearchQuestions {
		b.WriteString("- " + q + "\n")
	}
	b.WriteString("\nAccepted claims:\n")
	for _, claim := range accepted {
		b.WriteString(fmt.Sprintf("- [claim:%s] %s %s %s\n", shortToken(claim.Key), claim.Subject, claim.Predicate, claim.Object))
	}
	b.WriteString("\nDraft the findings as one or more paragraphs separated by blank lines.")
	return b.String()
}

// citedClaims resolves cited tokens to full claim keys. A paragraph
// citing nothing is supported by the whole accepted set.
func (s *Drafter) citedClaims(paragraph string, acceptedKeys map[string]bool, allKeys []string) []string {
	var keys []string
	for _, token := range citationTokens(paragraph) {
		for key := range acceptedKeys {
			if strings.HasPrefix(key, token) {
				keys = append(keys, key)
				break
			}
		}
	}
	if len(keys) == 0 {
		return allKeys
	}
	return keys
}

func citationTokens(text string) []string {
	var tokens []string
	for _, m := range citationTokenRe.FindAllStringSubmatch(text, -1) {
		tokens = append(tokens, m[1])
	}
	return tokens
}

// sameTokens verifies the rewrite preserved every citation token
func sameTokens(before, after string) bool {
	a, b := citationTokens(before), citationTokens(after)
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, t := range a {
		counts[t]++
	}
	for _, t := range b {
		counts[t]--
		if counts[t] < 0 {
			return false
		}
	}
	return true
}

func splitParagraphs(content string) []string {
	var paragraphs []string
	for _, chunk := range strings.Split(content, "\n\n") {
		if trimmed := strings.TrimSpace(chunk); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

func shortToken(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
