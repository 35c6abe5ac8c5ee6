package stages

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/clients"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
	"github.com/ternarybob/scribo/internal/services/telemetry"
	"github.com/ternarybob/scribo/internal/workflow"
)

// fakeLogic serves canned generation responses in order
type fakeLogic struct {
	mu        sync.Mutex
	responses []string
	requests  []clients.GenerateRequest
}

func (f *fakeLogic) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var req clients.GenerateRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.requests = append(f.requests, req)

		text := "{}"
		if len(f.responses) > 0 {
			text = f.responses[0]
			if len(f.responses) > 1 {
				f.responses = f.responses[1:]
			}
		}
		json.NewEncoder(w).Encode(map[string]string{"text": text})
	})
}

// fakeGraphStore records documents and edges behind the graph HTTP API
type fakeGraphStore struct {
	mu        sync.Mutex
	documents map[string]json.RawMessage // "<collection>/<id>"
	edges     []string
	failPuts  map[string]bool // collection → force 500
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{
		documents: make(map[string]json.RawMessage),
		failPuts:  make(map[string]bool),
	}
}

func (f *fakeGraphStore) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		f.mu.Lock()
		defer f.mu.Unlock()

		if len(parts) == 4 && parts[0] == "collections" && r.Method == http.MethodPut {
			if f.failPuts[parts[1]] {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			var doc json.RawMessage
			json.NewDecoder(r.Body).Decode(&doc)
			if parts[2] == "edges" {
				f.edges = append(f.edges, parts[3])
			} else {
				f.documents[parts[1]+"/"+parts[3]] = doc
			}
			w.Write([]byte(`{}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
}

func (f *fakeGraphStore) count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key := range f.documents {
		if strings.HasPrefix(key, collection+"/") {
			n++
		}
	}
	return n
}

// fakeDrafter returns canned chat completions in order
type fakeDrafter struct {
	mu        sync.Mutex
	responses []string
	requests  []clients.ChatRequest
}

func (f *fakeDrafter) Chat(ctx context.Context, req clients.ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return "drafted paragraph", nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

// fakeEmbedder returns unit vectors of a fixed dimension
type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

// fakeVector serves a canned neighborhood
type fakeVector struct {
	mu      sync.Mutex
	matches []clients.VectorMatch
	upserts int
}

func (f *fakeVector) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/points"):
			f.upserts++
			w.Write([]byte(`{}`))
		case strings.HasSuffix(r.URL.Path, "/search"):
			json.NewEncoder(w).Encode(map[string]interface{}{"matches": f.matches})
		default:
			w.Write([]byte(`{}`))
		}
	})
}

type stageEnv struct {
	sc     *workflow.StageContext
	logic  *fakeLogic
	graph  *fakeGraphStore
	draft  *fakeDrafter
	vector *fakeVector
}

func newStageEnv(t *testing.T) *stageEnv {
	t.Helper()

	logic := &fakeLogic{}
	logicServer := httptest.NewServer(logic.handler())
	t.Cleanup(logicServer.Close)

	graph := newFakeGraphStore()
	graphServer := httptest.NewServer(graph.handler())
	t.Cleanup(graphServer.Close)

	vector := &fakeVector{}
	vectorServer := httptest.NewServer(vector.handler())
	t.Cleanup(vectorServer.Close)

	draft := &fakeDrafter{}

	bundle := &clients.Bundle{
		Logic: clients.NewLogicClient(logicServer.URL,
			clients.WithRateLimit(1000),
			clients.WithRetry(clients.RetryConfig{MaxRetries: 0})),
		Graph: clients.NewGraphClient(graphServer.URL,
			clients.WithRateLimit(1000),
			clients.WithRetry(clients.RetryConfig{MaxRetries: 0})),
		Vector: clients.NewVectorClient(vectorServer.URL, "claims", 4,
			clients.WithRateLimit(1000),
			clients.WithRetry(clients.RetryConfig{MaxRetries: 0})),
		Draft: draft,
		Embed: &fakeEmbedder{dim: 4},
	}

	project := models.Project{
		ID:                "proj_1",
		Title:             "Reef Acidification",
		Thesis:            "Ocean acidification accelerates coral bleaching",
		ResearchQuestions: []string{"What is the pH threshold?"},
	}

	sc := &workflow.StageContext{
		JobID:    "job_1",
		Project:  project,
		Rigor:    models.RigorExploratory,
		Initial:  models.InitialState{Text: "Coral reefs bleach under thermal stress.", ProjectContext: project},
		State:    &workflow.State{},
		Clients:  bundle,
		Policy:   models.DefaultTonePolicy(),
		Logger:   arbor.NewLogger(),
		Progress: func(float64) {},
	}

	return &stageEnv{sc: sc, logic: logic, graph: graph, draft: draft, vector: vector}
}

func proposedClaim(t *testing.T, env *stageEnv, subject, predicate, object string, confidence float64) *models.Claim {
	t.Helper()
	claim, err := models.NewClaim(env.sc.Project.ID, env.sc.JobID, subject, predicate, object, confidence, models.SourcePointer{Page: 1})
	require.NoError(t, err)
	claim.Evidence = "quoted evidence"
	env.sc.State.Claims = append(env.sc.State.Claims, claim)
	return claim
}

func TestCartographer_ProposesClaims(t *testing.T) {
	env := newStageEnv(t)
	env.logic.responses = []string{
		`{"triples": [
			{"subject": "coral", "predicate": "bleaches_at", "object": "30C", "confidence": 0.9, "evidence": "observed onset", "page": 2},
			{"subject": "coral", "predicate": "bleaches_at", "object": "30C", "confidence": 0.7},
			{"subject": "pH", "predicate": "threshold_is", "object": "7.8", "confidence": 0.8}
		]}`,
	}

	require.NoError(t, NewCartographer().Run(context.Background(), env.sc))

	// Duplicate identity tuples collapse
	require.Len(t, env.sc.State.Claims, 2)

	first := env.sc.State.Claims[0]
	assert.Equal(t, models.ClaimProposed, first.Status)
	assert.Equal(t, models.ActorCartographer, first.Provenance.ProposedBy)
	assert.Equal(t, models.ClaimKey("proj_1", "coral", "bleaches_at", "30C"), first.Key)
	assert.Equal(t, 0.9, first.Confidence)
	assert.Equal(t, 2, first.Source.Page)

	assert.Equal(t, 2, env.graph.count("claims"))
}

func TestCartographer_SchemaViolationIsPermanent(t *testing.T) {
	env := newStageEnv(t)
	env.logic.responses = []string{"I cannot produce JSON for that."}

	err := NewCartographer().Run(context.Background(), env.sc)
	require.Error(t, err)
	assert.Equal(t, clients.ClassPermanentInvalid, clients.ClassOf(err))
	assert.Contains(t, err.Error(), "invalid_schema")

	// One attempt only: schema violations never retry
	assert.Len(t, env.logic.requests, 1)
}

func TestCartographer_EmptySubmission(t *testing.T) {
	env := newStageEnv(t)
	env.sc.Initial.Text = ""

	err := NewCartographer().Run(context.Background(), env.sc)
	require.Error(t, err)
}

func TestHeadingWindows(t *testing.T) {
	source := "# One\n\nalpha\n\n# Two\n\nbeta\n\ngamma"
	windows := headingWindows(source, 6000)
	require.Len(t, windows, 2)
	assert.Contains(t, windows[0], "alpha")
	assert.Contains(t, windows[1], "beta")

	// A single oversized section is hard-split
	long := strings.Repeat("word ", 3000)
	windows = headingWindows(long, 1000)
	assert.Greater(t, len(windows), 1)
}

func TestVerifier_TransitionTable(t *testing.T) {
	env := newStageEnv(t)
	pass := proposedClaim(t, env, "coral", "bleaches_at", "30C", 0.6)
	low := proposedClaim(t, env, "pH", "threshold_is", "7.8", 0.6)
	inconclusive := proposedClaim(t, env, "algae", "expelled_by", "heat", 0.6)

	env.logic.responses = []string{
		`{"verdict": "pass", "confidence": 0.92}`,
		`{"verdict": "inconclusive", "confidence": 0.3}`,
		`{"verdict": "inconclusive", "confidence": 0.7}`,
	}

	require.NoError(t, NewVerifier().Run(context.Background(), env.sc))

	assert.Equal(t, models.ClaimAccepted, pass.Status)
	assert.Equal(t, models.ActorVerifier, pass.Provenance.VerifiedBy)
	assert.Equal(t, 0.92, pass.Confidence)

	assert.Equal(t, models.ClaimNeedsReview, low.Status)
	assert.Equal(t, models.ClaimProposed, inconclusive.Status)

	assert.Equal(t, 3, env.graph.count("claims"))
}

func TestCritic_FlagsConflictingNeighbor(t *testing.T) {
	env := newStageEnv(t)
	claim := proposedClaim(t, env, "coral", "bleaches_at", "30C", 0.9)
	require.NoError(t, claim.Accept(models.ActorVerifier, 0.9))

	env.vector.matches = []clients.VectorMatch{{
		ID:    "otherclaimkey",
		Score: 0.93,
		Payload: map[string]interface{}{
			"project_id": "proj_1",
			"subject":    "coral",
			"predicate":  "bleaches_at",
			"object":     "32C",
			"page":       float64(4),
		},
	}}

	require.NoError(t, NewCritic().Run(context.Background(), env.sc))

	assert.Equal(t, models.ClaimFlagged, claim.Status)
	assert.Equal(t, models.ActorCritic, claim.Provenance.FlaggedBy)
	require.NotNil(t, claim.Conflict)
	assert.Equal(t, "otherclaimkey", claim.Conflict.OtherClaimKey)
	assert.Contains(t, claim.Conflict.ClaimTextB, "32C")

	assert.Len(t, env.graph.edges, 1)
	assert.Equal(t, 1, env.vector.upserts)
}

func TestCritic_NeighborMirrorFailureStillRecordsPair(t *testing.T) {
	env := newStageEnv(t)
	claim := proposedClaim(t, env, "coral", "bleaches_at", "30C", 0.9)
	require.NoError(t, claim.Accept(models.ActorVerifier, 0.9))

	// The neighbor already carries a conflict, so flagging it again is
	// rejected by the claim lifecycle.
	neighbor := proposedClaim(t, env, "coral", "bleaches_at", "32C", 0.6)
	require.NoError(t, neighbor.Flag(models.ActorCritic, models.ConflictRecord{Summary: "earlier conflict"}))

	env.vector.matches = []clients.VectorMatch{{
		ID:    neighbor.Key,
		Score: 0.92,
		Payload: map[string]interface{}{
			"project_id": "proj_1",
			"subject":    "coral",
			"predicate":  "bleaches_at",
			"object":     "32C",
			"page":       float64(3),
		},
	}}

	require.NoError(t, NewCritic().Run(context.Background(), env.sc))

	assert.Equal(t, models.ClaimFlagged, claim.Status)
	require.NotNil(t, claim.Conflict)
	assert.Equal(t, neighbor.Key, claim.Conflict.OtherClaimKey)

	// The neighbor keeps its original conflict record
	require.NotNil(t, neighbor.Conflict)
	assert.Equal(t, "earlier conflict", neighbor.Conflict.Summary)
	assert.Empty(t, neighbor.Conflict.OtherClaimKey)

	// The conflict edge still lands despite the failed mirror
	assert.Len(t, env.graph.edges, 1)
	assert.Equal(t, 1, env.graph.count("claims"))
}

func TestCritic_IgnoresLowScoreAndSelf(t *testing.T) {
	env := newStageEnv(t)
	claim := proposedClaim(t, env, "coral", "bleaches_at", "30C", 0.9)
	require.NoError(t, claim.Accept(models.ActorVerifier, 0.9))

	env.vector.matches = []clients.VectorMatch{
		{ID: claim.Key, Score: 0.99},
		{ID: "far", Score: 0.4, Payload: map[string]interface{}{
			"project_id": "proj_1", "subject": "coral", "predicate": "bleaches_at", "object": "40C",
		}},
	}

	require.NoError(t, NewCritic().Run(context.Background(), env.sc))
	assert.Equal(t, models.ClaimAccepted, claim.Status)
	assert.Empty(t, env.graph.edges)
}

func TestDrafter_BlocksWithCitations(t *testing.T) {
	env := newStageEnv(t)
	claim := proposedClaim(t, env, "coral", "bleaches_at", "30C", 0.9)
	require.NoError(t, claim.Accept(models.ActorVerifier, 0.9))

	token := claim.Key[:12]
	env.draft.responses = []string{
		"Coral bleaches at 30C [claim:" + token + "].\n\nA second paragraph without citations.",
	}

	require.NoError(t, NewDrafter().Run(context.Background(), env.sc))

	require.Len(t, env.sc.State.Blocks, 2)
	assert.Equal(t, []string{claim.Key}, env.sc.State.Blocks[0].ClaimKeys)
	assert.Equal(t, []string{token}, env.sc.State.Blocks[0].CitationKeys)
	// Uncited paragraphs fall back to the whole accepted set
	assert.Equal(t, []string{claim.Key}, env.sc.State.Blocks[1].ClaimKeys)
}

func TestDrafter_ToneRewriteIsConjunctive(t *testing.T) {
	banned := "These results prove the threshold."

	t.Run("all three gates met triggers rewrite", func(t *testing.T) {
		env := newStageEnv(t)
		claim := proposedClaim(t, env, "coral", "bleaches_at", "30C", 0.9)
		require.NoError(t, claim.Accept(models.ActorVerifier, 0.9))

		env.sc.Rigor = models.RigorConservative
		env.sc.Policy.Mode = models.ToneModeRewrite
		env.draft.responses = []string{banned, "These results indicate the threshold."}

		require.NoError(t, NewDrafter().Run(context.Background(), env.sc))

		require.Len(t, env.sc.State.Blocks, 1)
		block := env.sc.State.Blocks[0]
		assert.Equal(t, "These results indicate the threshold.", block.Text)
		assert.Contains(t, block.ToneFlags, "rewritten: prove")
		assert.Len(t, env.draft.requests, 2)
	})

	t.Run("observe mode flags without rewriting", func(t *testing.T) {
		env := newStageEnv(t)
		claim := proposedClaim(t, env, "coral", "bleaches_at", "30C", 0.9)
		require.NoError(t, claim.Accept(models.ActorVerifier, 0.9))

		env.sc.Rigor = models.RigorConservative
		env.draft.responses = []string{banned}

		require.NoError(t, NewDrafter().Run(context.Background(), env.sc))

		block := env.sc.State.Blocks[0]
		assert.Equal(t, banned, block.Text)
		assert.Contains(t, block.ToneFlags, "hard-ban term: prove")
		assert.Len(t, env.draft.requests, 1, "no rewrite call in observe mode")
	})

	t.Run("exploratory rigor never rewrites", func(t *testing.T) {
		env := newStageEnv(t)
		claim := proposedClaim(t, env, "coral", "bleaches_at", "30C", 0.9)
		require.NoError(t, claim.Accept(models.ActorVerifier, 0.9))

		env.sc.Policy.Mode = models.ToneModeRewrite
		env.draft.responses = []string{banned}

		require.NoError(t, NewDrafter().Run(context.Background(), env.sc))
		assert.Len(t, env.draft.requests, 1)
		assert.Contains(t, env.sc.State.Blocks[0].ToneFlags, "hard-ban term: prove")
	})
}

func TestSaver_BuildsManifest(t *testing.T) {
	env := newStageEnv(t)
	claim := proposedClaim(t, env, "coral", "bleaches_at", "30C", 0.9)
	require.NoError(t, claim.Accept(models.ActorVerifier, 0.9))

	block := models.NewManuscriptBlock("proj_1", "job_1", "Coral bleaches at 30C [claim:abc].", []string{claim.Key}, []string{"abc"}, models.RigorExploratory)
	env.sc.State.Blocks = []*models.ManuscriptBlock{block}
	env.sc.State.Images = []interfaces.ImageRef{{Page: 2, Label: "fig1.png"}}

	recorder := telemetry.NewService(arbor.NewLogger())
	saver := NewSaver(t.TempDir(), recorder)

	require.NoError(t, saver.Run(context.Background(), env.sc))

	manifest := env.sc.State.Manifest
	require.NotNil(t, manifest)
	assert.Equal(t, 1, manifest.Totals.Blocks)
	assert.Equal(t, 1, manifest.Totals.Visuals)
	assert.Equal(t, 1, manifest.Totals.Claims)
	assert.Equal(t, 1, manifest.Totals.AcceptedClaims)
	assert.Equal(t, block.WordCount(), manifest.Totals.Words)

	assert.Equal(t, 1, env.graph.count("manuscript_blocks"))
	assert.Equal(t, 1, env.graph.count("artifact_manifests"))
	assert.Equal(t, int64(0), recorder.Count("artifact_manifest_failed"))
}

func TestSaver_AuditsDetectedTables(t *testing.T) {
	env := newStageEnv(t)

	page1 := "## Page 1\n\nTable 1: Grain cadmium by treatment\n| plot | cadmium |\n| A | 0.18 mg/kg |\n| B | 0.07 mg/kg |\n\n"
	page2 := "## Page 2\n\nTable 2: Yield summary\n| plot | yield |\n| A | 412 |\n| B | 388 |\n"
	env.sc.State.Markdown = page1 + page2
	env.sc.State.PageMap = []interfaces.PageSpan{
		{Page: 1, Start: 0, End: len(page1)},
		{Page: 2, Start: len(page1), End: len(page1) + len(page2)},
	}

	saver := NewSaver(t.TempDir(), telemetry.NewService(arbor.NewLogger()))
	require.NoError(t, saver.Run(context.Background(), env.sc))

	manifest := env.sc.State.Manifest
	require.NotNil(t, manifest)
	require.Len(t, manifest.Tables, 2)
	assert.Equal(t, 2, manifest.Totals.Tables)

	clean := manifest.Tables[0]
	assert.Equal(t, "table_1", clean.TableID)
	assert.Equal(t, 1, clean.Page)
	assert.True(t, clean.UnitsVerified)
	assert.Empty(t, clean.PrecisionFlags)

	bare := manifest.Tables[1]
	assert.Equal(t, "table_2", bare.TableID)
	assert.Equal(t, 2, bare.Page)
	assert.False(t, bare.UnitsVerified)
	assert.Contains(t, bare.PrecisionFlags, "missing_units")
	assert.Contains(t, bare.PrecisionFlags, "unqualified_numbers")
}

func TestSaver_ManifestFailureIsTelemetryOnly(t *testing.T) {
	env := newStageEnv(t)
	claim := proposedClaim(t, env, "coral", "bleaches_at", "30C", 0.9)
	require.NoError(t, claim.Accept(models.ActorVerifier, 0.9))
	env.graph.failPuts["artifact_manifests"] = true

	recorder := telemetry.NewService(arbor.NewLogger())
	saver := NewSaver(t.TempDir(), recorder)

	require.NoError(t, saver.Run(context.Background(), env.sc))
	require.NotNil(t, env.sc.State.Manifest)
	assert.Equal(t, int64(1), recorder.Count("artifact_manifest_failed"))
}

func TestSaver_BlockPersistenceFailureFailsStage(t *testing.T) {
	env := newStageEnv(t)
	env.graph.failPuts["manuscript_blocks"] = true
	env.sc.State.Blocks = []*models.ManuscriptBlock{
		models.NewManuscriptBlock("proj_1", "job_1", "text", nil, nil, models.RigorExploratory),
	}

	saver := NewSaver(t.TempDir(), telemetry.NewService(arbor.NewLogger()))
	err := saver.Run(context.Background(), env.sc)
	require.Error(t, err)
}

// fakeExtractor implements the extractor contract for ingest tests
type fakeExtractor struct {
	result *interfaces.ExtractResult
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, pdf []byte) (*interfaces.ExtractResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestIngest_PopulatesState(t *testing.T) {
	env := newStageEnv(t)

	path := t.TempDir() + "/doc.pdf"
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0644))
	env.sc.Initial.UploadPath = path
	env.sc.Initial.HasUpload = true

	extractor := &fakeExtractor{result: &interfaces.ExtractResult{
		Markdown:    "## Page 1\n\nCoral bleaching accelerates.",
		PageMap:     []interfaces.PageSpan{{Page: 1, Start: 0, End: 40}},
		FirstGlance: models.FirstGlance{Pages: 1, TextDensity: 1},
		Confidence:  models.ConfidenceHigh,
	}}

	require.NoError(t, NewIngest(extractor, nil).Run(context.Background(), env.sc))

	assert.Contains(t, env.sc.State.Markdown, "Coral bleaching")
	assert.NotEmpty(t, env.sc.State.DocHash)
	require.NotNil(t, env.sc.State.FirstGlance)
	assert.Equal(t, 1, env.sc.State.FirstGlance.Pages)
}

func TestIngest_MissingFile(t *testing.T) {
	env := newStageEnv(t)
	env.sc.Initial.UploadPath = "/nonexistent/doc.pdf"

	err := NewIngest(&fakeExtractor{}, nil).Run(context.Background(), env.sc)
	require.Error(t, err)
}
