package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphClient_PutDocument(t *testing.T) {
	var gotPath, gotMethod string
	var gotDoc map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotDoc))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, WithRateLimit(1000))

	err := client.PutDocument(context.Background(), "projects", "proj_1", map[string]string{"title": "Coral"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/collections/projects/documents/proj_1", gotPath)
	assert.Equal(t, "Coral", gotDoc["title"])
}

func TestGraphClient_GetDocumentNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, WithRateLimit(1000))

	var out map[string]interface{}
	err := client.GetDocument(context.Background(), "projects", "proj_missing", &out)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestGraphClient_QueryDocuments(t *testing.T) {
	t.Run("returns raw documents", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/collections/claims/query", r.URL.Path)

			var q GraphQuery
			require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
			assert.Equal(t, "proj_1", q.Filter["project_id"])

			w.Write([]byte(`{"documents":[{"subject":"coral"},{"subject":"reef"}]}`))
		}))
		defer server.Close()

		client := NewGraphClient(server.URL, WithRateLimit(1000))

		docs, err := client.QueryDocuments(context.Background(), "claims", GraphQuery{
			Filter: map[string]interface{}{"project_id": "proj_1"},
			Limit:  50,
		})
		require.NoError(t, err)
		require.Len(t, docs, 2)

		var first map[string]string
		require.NoError(t, json.Unmarshal(docs[0], &first))
		assert.Equal(t, "coral", first["subject"])
	})

	t.Run("empty result is a non-nil slice", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		client := NewGraphClient(server.URL, WithRateLimit(1000))

		docs, err := client.QueryDocuments(context.Background(), "claims", GraphQuery{})
		require.NoError(t, err)
		assert.NotNil(t, docs)
		assert.Empty(t, docs)
	})
}

func TestGraphClient_PutEdge(t *testing.T) {
	var gotPath string
	var gotEdge GraphEdge

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotEdge))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, WithRateLimit(1000))

	err := client.PutEdge(context.Background(), "claim_edges", GraphEdge{
		ID:    "edge_1",
		From:  "claims/a",
		To:    "claims/b",
		Label: "contradicts",
	})
	require.NoError(t, err)
	assert.Equal(t, "/collections/claim_edges/edges/edge_1", gotPath)
	assert.Equal(t, "contradicts", gotEdge.Label)
}

func TestGraphClient_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := NewGraphClient(server.URL, WithRateLimit(1000))

	assert.NoError(t, client.Ping(context.Background()))
}
