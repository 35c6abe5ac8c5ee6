package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/clients"
	"github.com/ternarybob/scribo/internal/common"
	"github.com/ternarybob/scribo/internal/models"
)

// healthProbeTimeout bounds each dependency probe
const healthProbeTimeout = 2 * time.Second

// HealthHandler serves the component liveness summary
type HealthHandler struct {
	graph  *clients.GraphClient
	vector *clients.VectorClient
	logger arbor.ILogger
}

// NewHealthHandler creates the health handler
func NewHealthHandler(graph *clients.GraphClient, vector *clients.VectorClient, logger arbor.ILogger) *HealthHandler {
	return &HealthHandler{graph: graph, vector: vector, logger: logger}
}

// HealthHandler probes the external stores and reports per-component
// state. Degraded components do not fail the response.
func (h *HealthHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	components := map[string]string{
		"storage": "ok",
		"graph":   h.probe(r.Context(), h.graph.Ping),
		"vector":  h.probe(r.Context(), h.vector.Ping),
	}

	status := "ok"
	for _, state := range components {
		if state != "ok" {
			status = "degraded"
			break
		}
	}

	WriteJSON(w, http.StatusOK, models.HealthResponse{
		Status:     status,
		Version:    common.GetVersion(),
		Components: components,
	})
}

func (h *HealthHandler) probe(parent context.Context, ping func(context.Context) error) string {
	ctx, cancel := context.WithTimeout(parent, healthProbeTimeout)
	defer cancel()

	if err := ping(ctx); err != nil {
		return "unreachable"
	}
	return "ok"
}
