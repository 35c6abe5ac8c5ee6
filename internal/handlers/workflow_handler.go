// -----------------------------------------------------------------------
// Workflow handlers - submission, status polling, result retrieval and
// cancellation. Submission is the only intake: JSON for text or path
// payloads, multipart for uploads.
// -----------------------------------------------------------------------

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
	"github.com/ternarybob/scribo/internal/workflow"
)

// maxUploadBytes caps one multipart submission
const maxUploadBytes = 64 << 20

// WorkflowHandler serves the /workflow endpoints
type WorkflowHandler struct {
	pool       *workflow.Pool
	store      interfaces.JobStore
	registry   interfaces.ProjectRegistry
	ingestions interfaces.IngestionStorage
	uploadDir  string
	logger     arbor.ILogger
}

// NewWorkflowHandler creates the workflow handler. uploadDir is where
// multipart uploads are spooled before the job runs.
func NewWorkflowHandler(pool *workflow.Pool, store interfaces.JobStore, registry interfaces.ProjectRegistry, ingestions interfaces.IngestionStorage, uploadDir string, logger arbor.ILogger) *WorkflowHandler {
	return &WorkflowHandler{
		pool:       pool,
		store:      store,
		registry:   registry,
		ingestions: ingestions,
		uploadDir:  uploadDir,
		logger:     logger,
	}
}

type submitRequest struct {
	ProjectID       string            `json:"project_id"`
	Text            string            `json:"text,omitempty"`
	PDFPath         string            `json:"pdf_path,omitempty"`
	RigorLevel      models.RigorLevel `json:"rigor_level,omitempty"`
	DeadlineMinutes int               `json:"deadline_minutes,omitempty"`
}

// SubmitHandler accepts a workflow submission. 202 with the job id on
// accept; 429 with Retry-After when the queue is full.
func (h *WorkflowHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.submitMultipart(w, r)
		return
	}
	h.submitJSON(w, r)
}

func (h *WorkflowHandler) submitJSON(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProjectID == "" {
		WriteError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	project, err := h.registry.Get(r.Context(), req.ProjectID)
	if err != nil {
		WriteFailure(w, err)
		return
	}

	rigor, ok := h.resolveRigor(req.RigorLevel, project)
	if !ok {
		WriteError(w, http.StatusBadRequest, "unknown rigor level "+string(req.RigorLevel))
		return
	}

	initial := models.InitialState{
		Text:            req.Text,
		PDFPath:         req.PDFPath,
		RigorLevel:      rigor,
		DeadlineMinutes: req.DeadlineMinutes,
		ProjectContext:  project.Snapshot(),
		SubmittedAt:     time.Now().UTC(),
	}

	jobID, err := h.pool.Submit(r.Context(), project.ID, initial)
	if err != nil {
		WriteFailure(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, models.SubmitResponse{JobID: jobID})
}

// submitMultipart registers the upload as a project seed file, spools it
// to disk and creates the ingestion record, all before the job snapshot
// is taken.
func (h *WorkflowHandler) submitMultipart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	projectID := r.FormValue("project_id")
	if projectID == "" {
		WriteError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(content) == 0 {
		WriteError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	// Seed-file registration happens before the job snapshot, so the
	// snapshot already lists the upload
	project, err := h.registry.AddSeedFile(r.Context(), projectID, header.Filename, hash)
	if err != nil {
		WriteFailure(w, err)
		return
	}

	uploadPath, err := h.spoolUpload(projectID, hash, header.Filename, content)
	if err != nil {
		h.logger.Error().Err(err).Str("project_id", projectID).Msg("Failed to spool upload")
		WriteError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	rigor, ok := h.resolveRigor(models.RigorLevel(r.FormValue("rigor_level")), project)
	if !ok {
		WriteError(w, http.StatusBadRequest, "unknown rigor level "+r.FormValue("rigor_level"))
		return
	}

	ingestion := models.NewIngestion(projectID, header.Filename, hash)
	if err := h.ingestions.SaveIngestion(r.Context(), ingestion); err != nil {
		WriteFailure(w, err)
		return
	}

	initial := models.InitialState{
		UploadPath:     uploadPath,
		UploadFilename: header.Filename,
		UploadHash:     hash,
		HasUpload:      true,
		IngestionID:    ingestion.ID,
		RigorLevel:     rigor,
		ProjectContext: project.Snapshot(),
		SubmittedAt:    time.Now().UTC(),
	}

	jobID, err := h.pool.Submit(r.Context(), project.ID, initial)
	if err != nil {
		ingestion.MarkFailed("submission rejected")
		h.ingestions.SaveIngestion(r.Context(), ingestion)
		WriteFailure(w, err)
		return
	}

	ingestion.AttachJob(jobID)
	if err := h.ingestions.SaveIngestion(r.Context(), ingestion); err != nil {
		h.logger.Warn().Err(err).Str("ingestion_id", ingestion.ID).Msg("Failed to attach job to ingestion")
	}

	h.logger.Info().
		Str("job_id", jobID).
		Str("ingestion_id", ingestion.ID).
		Str("filename", header.Filename).
		Msg("Upload submitted")

	WriteJSON(w, http.StatusAccepted, models.SubmitResponse{JobID: jobID, IngestionID: ingestion.ID})
}

// GetStatusHandler serves the poll view of one job. Never includes the
// result.
func (h *WorkflowHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := h.store.Read(r.Context(), jobID)
	if err != nil {
		WriteFailure(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, models.NewJobStatusResponse(job))
}

// GetResultHandler serves the terminal result. Non-terminal jobs get 202
// with the status view; failed jobs surface their error with 500.
func (h *WorkflowHandler) GetResultHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := h.store.Read(r.Context(), jobID)
	if err != nil {
		WriteFailure(w, err)
		return
	}

	switch job.Status {
	case models.JobStatusSucceeded:
		WriteJSON(w, http.StatusOK, models.NewResultEnvelope(job))
	case models.JobStatusFailed, models.JobStatusCancelled:
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": job.Error})
	default:
		WriteJSON(w, http.StatusAccepted, models.NewJobStatusResponse(job))
	}
}

// CancelHandler records the cancellation intent. 202 on accept, 409 when
// the job is already terminal.
func (h *WorkflowHandler) CancelHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	job, err := h.store.Read(r.Context(), jobID)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	if job.IsTerminal() {
		WriteError(w, http.StatusConflict, "job is already "+string(job.Status))
		return
	}

	if err := h.store.RequestCancel(r.Context(), jobID); err != nil {
		WriteFailure(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "cancelling",
	})
}

// resolveRigor validates a requested rigor override, falling back to the
// project's level
func (h *WorkflowHandler) resolveRigor(requested models.RigorLevel, project *models.Project) (models.RigorLevel, bool) {
	if requested == "" {
		return project.RigorLevel, true
	}
	if !models.ValidRigorLevel(requested) {
		return "", false
	}
	return requested, true
}

func (h *WorkflowHandler) spoolUpload(projectID, hash, filename string, content []byte) (string, error) {
	dir := filepath.Join(h.uploadDir, projectID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".pdf"
	}
	path := filepath.Join(dir, hash+ext)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", err
	}
	return path, nil
}
