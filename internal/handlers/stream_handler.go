// -----------------------------------------------------------------------
// Status streaming - SSE and WebSocket views over the job store's
// snapshot stream. Both replay the current snapshot immediately and
// close once a terminal snapshot is delivered.
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
)

// sseHeartbeatInterval keeps intermediaries from closing idle SSE
// connections between status changes
const sseHeartbeatInterval = 15 * time.Second

// StreamHandler serves the live status variants
type StreamHandler struct {
	store  interfaces.JobStore
	logger arbor.ILogger

	upgrader websocket.Upgrader
}

// NewStreamHandler creates the streaming handler
func NewStreamHandler(store interfaces.JobStore, logger arbor.ILogger) *StreamHandler {
	return &StreamHandler{
		store:  store,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SSEHandler streams status snapshots as server-sent events
func (h *StreamHandler) SSEHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	updates, cancel, err := h.store.StreamUpdates(r.Context(), jobID)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case snapshot, open := <-updates:
			if !open {
				return
			}
			payload, err := json.Marshal(models.NewJobStatusResponse(&snapshot))
			if err != nil {
				h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to encode status frame")
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// WSHandler streams status snapshots over a WebSocket connection
func (h *StreamHandler) WSHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	updates, cancel, err := h.store.StreamUpdates(r.Context(), jobID)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Drain reads so client close frames are observed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case snapshot, open := <-updates:
			if !open {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job terminal"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(models.NewJobStatusResponse(&snapshot)); err != nil {
				return
			}
		}
	}
}
