package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/models"
)

// seedStream creates a job and preloads its snapshot stream: a RUNNING
// frame, a terminal frame, then close.
func seedStream(t *testing.T, store *fakeJobStore) string {
	t.Helper()

	jobID, err := store.CreateJob(context.Background(), "proj_1", models.InitialState{})
	require.NoError(t, err)

	job := store.job(t, jobID)
	running := *job
	running.Status = models.JobStatusRunning
	running.CurrentStage = "cartographer"
	running.Progress = 35

	done := running
	done.Status = models.JobStatusSucceeded
	done.CurrentStage = ""
	done.Progress = 100

	stream := make(chan models.Job, 2)
	stream <- running
	stream <- done
	close(stream)
	store.streams[jobID] = stream

	return jobID
}

func TestSSEHandler_StreamsUntilTerminal(t *testing.T) {
	store := newFakeJobStore()
	handler := NewStreamHandler(store, arbor.NewLogger())
	jobID := seedStream(t, store)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.SSEHandler(w, r, jobID)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var frames []models.JobStatusResponse
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame models.JobStatusResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
	}
	require.NoError(t, scanner.Err())

	// The stream closed after the terminal frame, ending the response
	require.Len(t, frames, 2)
	assert.Equal(t, models.JobStatusRunning, frames[0].Status)
	assert.Equal(t, "cartographer", frames[0].CurrentStage)
	assert.Equal(t, 35.0, frames[0].ProgressPct)
	assert.Equal(t, models.JobStatusSucceeded, frames[1].Status)
	assert.Equal(t, 100.0, frames[1].ProgressPct)
}

func TestSSEHandler_UnknownJob(t *testing.T) {
	store := newFakeJobStore()
	handler := NewStreamHandler(store, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodGet, "/workflow/status/job_missing/stream", nil)
	rec := httptest.NewRecorder()

	handler.SSEHandler(rec, req, "job_missing")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWSHandler_StreamsAndClosesNormally(t *testing.T) {
	store := newFakeJobStore()
	handler := NewStreamHandler(store, arbor.NewLogger())
	jobID := seedStream(t, store)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.WSHandler(w, r, jobID)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first models.JobStatusResponse
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, models.JobStatusRunning, first.Status)

	var second models.JobStatusResponse
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, models.JobStatusSucceeded, second.Status)

	// Terminal frame delivered, server closes with a normal closure
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestWSHandler_UnknownJob(t *testing.T) {
	store := newFakeJobStore()
	handler := NewStreamHandler(store, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodGet, "/workflow/status/job_missing/ws", nil)
	rec := httptest.NewRecorder()

	handler.WSHandler(rec, req, "job_missing")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
