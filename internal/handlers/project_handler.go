// -----------------------------------------------------------------------
// Project handlers - the hub CRUD surface, ingestion status and the
// manuscript PDF preview.
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/clients"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
	"github.com/ternarybob/scribo/internal/services/render"
)

// ProjectHandler serves the /api/projects endpoints
type ProjectHandler struct {
	registry   interfaces.ProjectRegistry
	ingestions interfaces.IngestionStorage
	graph      *clients.GraphClient
	renderer   *render.Service
	logger     arbor.ILogger
}

// NewProjectHandler creates the project handler
func NewProjectHandler(registry interfaces.ProjectRegistry, ingestions interfaces.IngestionStorage, graph *clients.GraphClient, renderer *render.Service, logger arbor.ILogger) *ProjectHandler {
	return &ProjectHandler{
		registry:   registry,
		ingestions: ingestions,
		graph:      graph,
		renderer:   renderer,
		logger:     logger,
	}
}

// CreateHandler creates a project from its payload
func (h *ProjectHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var payload models.ProjectPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	project, err := h.registry.Create(r.Context(), payload)
	if err != nil {
		WriteFailure(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, project)
}

// ListHandler lists projects, optionally as the active/archived hub view
func (h *ProjectHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	filter := filterFromQuery(r)

	if r.URL.Query().Get("view") == "hub" {
		hub, err := h.registry.Hub(r.Context(), filter)
		if err != nil {
			WriteFailure(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, hub)
		return
	}

	projects, err := h.registry.List(r.Context(), filter)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

// GetHandler serves one project by id
func (h *ProjectHandler) GetHandler(w http.ResponseWriter, r *http.Request, projectID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	project, err := h.registry.Get(r.Context(), projectID)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, project)
}

type projectPatch struct {
	RigorLevel *models.RigorLevel `json:"rigor_level,omitempty"`
	Tags       *[]string          `json:"tags,omitempty"`
}

// PatchHandler applies rigor and tag mutations. Rigor changes only
// affect subsequently submitted jobs.
func (h *ProjectHandler) PatchHandler(w http.ResponseWriter, r *http.Request, projectID string) {
	if !RequireMethod(w, r, http.MethodPatch) {
		return
	}

	var patch projectPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if patch.RigorLevel == nil && patch.Tags == nil {
		WriteError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	var project *models.Project
	var err error

	if patch.RigorLevel != nil {
		project, err = h.registry.UpdateRigor(r.Context(), projectID, *patch.RigorLevel)
		if err != nil {
			WriteFailure(w, err)
			return
		}
	}
	if patch.Tags != nil {
		project, err = h.registry.SetTags(r.Context(), projectID, *patch.Tags)
		if err != nil {
			WriteFailure(w, err)
			return
		}
	}

	WriteJSON(w, http.StatusOK, project)
}

// IngestStatusHandler serves one ingestion's progress handle
func (h *ProjectHandler) IngestStatusHandler(w http.ResponseWriter, r *http.Request, projectID, ingestionID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ingestion, err := h.ingestions.GetIngestion(r.Context(), ingestionID)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	if ingestion.ProjectID != projectID {
		WriteError(w, http.StatusNotFound, "ingestion not found for project")
		return
	}

	WriteJSON(w, http.StatusOK, ingestion)
}

// ManuscriptPreviewHandler renders the project's current manuscript
// blocks to a PDF
func (h *ProjectHandler) ManuscriptPreviewHandler(w http.ResponseWriter, r *http.Request, projectID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	project, err := h.registry.Get(r.Context(), projectID)
	if err != nil {
		WriteFailure(w, err)
		return
	}

	docs, err := h.graph.QueryDocuments(r.Context(), "manuscript_blocks", clients.GraphQuery{
		Filter: map[string]interface{}{"project_id": projectID},
	})
	if err != nil {
		WriteFailure(w, translateGraphError(err))
		return
	}

	blocks := make([]*models.ManuscriptBlock, 0, len(docs))
	for _, raw := range docs {
		var block models.ManuscriptBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			h.logger.Warn().Err(err).Str("project_id", projectID).Msg("Skipping unreadable manuscript block")
			continue
		}
		blocks = append(blocks, &block)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].CreatedAt.Before(blocks[j].CreatedAt) })

	pdf, err := h.renderer.ManuscriptPreview(project, blocks)
	if err != nil {
		h.logger.Error().Err(err).Str("project_id", projectID).Msg("Manuscript render failed")
		WriteError(w, http.StatusInternalServerError, "failed to render manuscript preview")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="manuscript_preview.pdf"`)
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// filterFromQuery maps listing query parameters onto a project filter
func filterFromQuery(r *http.Request) interfaces.ProjectFilter {
	q := r.URL.Query()

	filter := interfaces.ProjectFilter{
		Query:  q.Get("q"),
		Rigor:  models.RigorLevel(q.Get("rigor")),
		Status: q.Get("status"),
	}
	if tags := q.Get("tags"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if trimmed := strings.TrimSpace(tag); trimmed != "" {
				filter.Tags = append(filter.Tags, trimmed)
			}
		}
	}
	if after := q.Get("created_after"); after != "" {
		if t, err := time.Parse(time.RFC3339, after); err == nil {
			filter.CreatedAfter = &t
		}
	}
	if before := q.Get("created_before"); before != "" {
		if t, err := time.Parse(time.RFC3339, before); err == nil {
			filter.CreatedBefore = &t
		}
	}
	return filter
}
