package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/scribo/internal/clients"
	"github.com/ternarybob/scribo/internal/common"
	"github.com/ternarybob/scribo/internal/storage/badger"
)

// RequireMethod validates the HTTP method, writing 405 on mismatch
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteFailure maps a service error onto its HTTP response. AppErrors
// carry their own status and Retry-After hint; storage not-found
// sentinels become 404; everything else is internal.
func WriteFailure(w http.ResponseWriter, err error) error {
	if appErr, ok := common.AsAppError(err); ok {
		if appErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(appErr.RetryAfter.Seconds())))
		}
		return WriteError(w, appErr.HTTPStatus(), appErr.Message)
	}

	if errors.Is(err, badger.ErrJobNotFound) || errors.Is(err, badger.ErrIngestionNotFound) {
		return WriteError(w, http.StatusNotFound, err.Error())
	}

	return WriteError(w, http.StatusInternalServerError, "internal error")
}

// translateGraphError maps a graph client failure onto the AppError the
// API surfaces
func translateGraphError(err error) error {
	switch {
	case clients.IsNotFound(err):
		return common.NewNotFoundError("document not found")
	case clients.IsRemoteUnavailable(err):
		return common.NewUnavailableError("graph store unavailable", err)
	default:
		return common.NewInternalError(err)
	}
}
