package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/clients"
	"github.com/ternarybob/scribo/internal/models"
	"github.com/ternarybob/scribo/internal/services/render"
)

func newProjectHandler(t *testing.T, graphURL string) (*ProjectHandler, *fakeRegistry, *fakeIngestions) {
	t.Helper()
	logger := arbor.NewLogger()
	registry := newFakeRegistry()
	ingestions := newFakeIngestions()

	var graph *clients.GraphClient
	if graphURL != "" {
		graph = clients.NewGraphClient(graphURL,
			clients.WithRateLimit(1000),
			clients.WithRetry(clients.RetryConfig{MaxRetries: 0}))
	}

	handler := NewProjectHandler(registry, ingestions, graph, render.NewService(logger), logger)
	return handler, registry, ingestions
}

func TestCreateProject(t *testing.T) {
	handler, _, _ := newProjectHandler(t, "")

	body := `{
		"title": "Nitrogen cycling in peatlands",
		"thesis": "Rewetting restores microbial nitrogen retention",
		"research_questions": ["How fast does retention recover?"]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.CreateHandler(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var project models.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &project))
	assert.NotEmpty(t, project.ID)
	assert.Equal(t, "Nitrogen cycling in peatlands", project.Title)
	assert.Equal(t, models.RigorConservative, project.RigorLevel)
	assert.NotNil(t, project.SeedFiles)
}

func TestCreateProject_Invalid(t *testing.T) {
	handler, _, _ := newProjectHandler(t, "")

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing thesis", `{"title":"x","research_questions":["q"]}`},
		{"no questions", `{"title":"x","thesis":"y"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			handler.CreateHandler(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListProjects(t *testing.T) {
	handler, registry, _ := newProjectHandler(t, "")

	for _, title := range []string{"Cadmium uptake in rice", "Peatland methane flux"} {
		project, err := models.NewProject(models.ProjectPayload{
			Title:             title,
			Thesis:            "thesis for " + title,
			ResearchQuestions: []string{"q1"},
		}, models.RigorConservative)
		require.NoError(t, err)
		registry.add(project)
	}

	t.Run("all", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
		rec := httptest.NewRecorder()
		handler.ListHandler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Projects []models.Project `json:"projects"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.Projects, 2)
	})

	t.Run("query filter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/projects?q=cadmium", nil)
		rec := httptest.NewRecorder()
		handler.ListHandler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Projects []models.Project `json:"projects"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Projects, 1)
		assert.Equal(t, "Cadmium uptake in rice", body.Projects[0].Title)
	})

	t.Run("hub view", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/projects?view=hub", nil)
		rec := httptest.NewRecorder()
		handler.ListHandler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var hub models.ProjectHubView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hub))
		assert.Len(t, hub.Active, 2)
	})
}

func TestGetProject(t *testing.T) {
	handler, registry, _ := newProjectHandler(t, "")

	project, err := models.NewProject(models.ProjectPayload{
		Title:             "Cadmium uptake in rice",
		Thesis:            "Soil amendments reduce grain cadmium",
		ResearchQuestions: []string{"q1"},
	}, models.RigorConservative)
	require.NoError(t, err)
	registry.add(project)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/"+project.ID, nil)
	rec := httptest.NewRecorder()
	handler.GetHandler(rec, req, project.ID)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, project.ID, got.ID)

	rec = httptest.NewRecorder()
	handler.GetHandler(rec, httptest.NewRequest(http.MethodGet, "/api/projects/proj_missing", nil), "proj_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchProject(t *testing.T) {
	handler, registry, _ := newProjectHandler(t, "")

	project, err := models.NewProject(models.ProjectPayload{
		Title:             "Cadmium uptake in rice",
		Thesis:            "Soil amendments reduce grain cadmium",
		ResearchQuestions: []string{"q1"},
	}, models.RigorConservative)
	require.NoError(t, err)
	registry.add(project)

	t.Run("rigor and tags", func(t *testing.T) {
		body := `{"rigor_level":"exploratory","tags":["soil","field-trial"]}`
		req := httptest.NewRequest(http.MethodPatch, "/api/projects/"+project.ID, strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.PatchHandler(rec, req, project.ID)

		require.Equal(t, http.StatusOK, rec.Code)
		var got models.Project
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, models.RigorExploratory, got.RigorLevel)
		assert.Equal(t, []string{"soil", "field-trial"}, got.Tags)
	})

	t.Run("empty patch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/api/projects/"+project.ID, strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		handler.PatchHandler(rec, req, project.ID)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid rigor", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/api/projects/"+project.ID,
			strings.NewReader(`{"rigor_level":"reckless"}`))
		rec := httptest.NewRecorder()
		handler.PatchHandler(rec, req, project.ID)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestIngestStatus(t *testing.T) {
	handler, _, ingestions := newProjectHandler(t, "")

	ingestion := models.NewIngestion("proj_1", "seed.pdf", "hash")
	ingestion.SetState(models.IngestionMapping, 40)
	require.NoError(t, ingestions.SaveIngestion(context.Background(), ingestion))

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/projects/proj_1/ingest/"+ingestion.ID+"/status", nil)
		handler.IngestStatusHandler(rec, req, "proj_1", ingestion.ID)

		require.Equal(t, http.StatusOK, rec.Code)
		var got models.Ingestion
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, models.IngestionMapping, got.State)
		assert.Equal(t, 40.0, got.Progress)
	})

	t.Run("wrong project", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/projects/proj_2/ingest/"+ingestion.ID+"/status", nil)
		handler.IngestStatusHandler(rec, req, "proj_2", ingestion.ID)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown ingestion", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/projects/proj_1/ingest/ing_missing/status", nil)
		handler.IngestStatusHandler(rec, req, "proj_1", "ing_missing")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestManuscriptPreview(t *testing.T) {
	block := models.NewManuscriptBlock("proj_1", "job_1",
		"Amended plots showed consistently lower grain cadmium.",
		[]string{"claimkey1"}, []string{"smith2024"}, models.RigorConservative)
	raw, err := json.Marshal(block)
	require.NoError(t, err)

	graphSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/collections/manuscript_blocks/query") {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"documents":[` + string(raw) + `]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer graphSrv.Close()

	handler, registry, _ := newProjectHandler(t, graphSrv.URL)

	project, err := models.NewProject(models.ProjectPayload{
		Title:             "Cadmium uptake in rice",
		Thesis:            "Soil amendments reduce grain cadmium",
		ResearchQuestions: []string{"q1"},
	}, models.RigorConservative)
	require.NoError(t, err)
	project.ID = "proj_1"
	registry.add(project)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/proj_1/manuscript/preview", nil)
	rec := httptest.NewRecorder()
	handler.ManuscriptPreviewHandler(rec, req, "proj_1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	// PDF magic bytes
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))
}
