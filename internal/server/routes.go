package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Workflow lifecycle
	mux.HandleFunc("/workflow/submit", s.app.WorkflowHandler.SubmitHandler)
	mux.HandleFunc("/workflow/status/", s.handleStatusRoutes) // GET /{id}, /{id}/stream, /{id}/ws
	mux.HandleFunc("/workflow/result/", s.handleResultRoutes) // GET /{id}
	mux.HandleFunc("/workflow/cancel/", s.handleCancelRoutes) // POST /{id}

	// Project hub
	mux.HandleFunc("/api/projects", s.handleProjectsRoute)  // GET (list/hub), POST (create)
	mux.HandleFunc("/api/projects/", s.handleProjectRoutes) // GET/PATCH /{id} and subpaths

	// System
	mux.HandleFunc("/health", s.app.HealthHandler.HealthHandler)

	// 404 for unmatched API paths
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}

// handleStatusRoutes serves the poll, SSE and WebSocket status variants
func (s *Server) handleStatusRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/workflow/status/")

	switch {
	case strings.HasSuffix(rest, "/stream"):
		jobID := strings.TrimSuffix(rest, "/stream")
		s.app.StreamHandler.SSEHandler(w, r, jobID)
	case strings.HasSuffix(rest, "/ws"):
		jobID := strings.TrimSuffix(rest, "/ws")
		s.app.StreamHandler.WSHandler(w, r, jobID)
	case rest != "" && !strings.Contains(rest, "/"):
		s.app.WorkflowHandler.GetStatusHandler(w, r, rest)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) handleResultRoutes(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/workflow/result/")
	if jobID == "" || strings.Contains(jobID, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.app.WorkflowHandler.GetResultHandler(w, r, jobID)
}

func (s *Server) handleCancelRoutes(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/workflow/cancel/")
	if jobID == "" || strings.Contains(jobID, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.app.WorkflowHandler.CancelHandler(w, r, jobID)
}

// handleProjectsRoute serves the collection endpoints
func (s *Server) handleProjectsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.ProjectHandler.ListHandler(w, r)
	case http.MethodPost:
		s.app.ProjectHandler.CreateHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleProjectRoutes serves one project and its subresources:
// /{id}, /{id}/ingest/{ingestion_id}/status, /{id}/manuscript/preview
func (s *Server) handleProjectRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		switch r.Method {
		case http.MethodGet:
			s.app.ProjectHandler.GetHandler(w, r, parts[0])
		case http.MethodPatch:
			s.app.ProjectHandler.PatchHandler(w, r, parts[0])
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 4 && parts[1] == "ingest" && parts[3] == "status":
		s.app.ProjectHandler.IngestStatusHandler(w, r, parts[0], parts[2])
	case len(parts) == 3 && parts[1] == "manuscript" && parts[2] == "preview":
		s.app.ProjectHandler.ManuscriptPreviewHandler(w, r, parts[0])
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Not found", http.StatusNotFound)
}
