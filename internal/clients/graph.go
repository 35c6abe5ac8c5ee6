package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// GraphClient talks to the graph store's document and edge collections.
type GraphClient struct {
	*transport
}

// GraphQuery filters a collection. Filter keys match document fields
// by equality; a zero Limit means the store's default page size.
type GraphQuery struct {
	Filter map[string]interface{} `json:"filter,omitempty"`
	Limit  int                    `json:"limit,omitempty"`
}

// GraphEdge is a typed relation between two documents.
type GraphEdge struct {
	ID         string                 `json:"id"`
	From       string                 `json:"from"`
	To         string                 `json:"to"`
	Label      string                 `json:"label"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

type queryResult struct {
	Documents []json.RawMessage `json:"documents"`
}

// NewGraphClient creates a graph store client.
func NewGraphClient(baseURL string, opts ...Option) *GraphClient {
	return &GraphClient{transport: newTransport("graph", baseURL, opts...)}
}

// PutDocument upserts a document by ID.
func (c *GraphClient) PutDocument(ctx context.Context, collection, id string, doc interface{}) error {
	path := fmt.Sprintf("/collections/%s/documents/%s", url.PathEscape(collection), url.PathEscape(id))
	return c.doJSON(ctx, http.MethodPut, path, doc, nil)
}

// GetDocument loads a document by ID into out. A missing document is a
// NotFound classification.
func (c *GraphClient) GetDocument(ctx context.Context, collection, id string, out interface{}) error {
	path := fmt.Sprintf("/collections/%s/documents/%s", url.PathEscape(collection), url.PathEscape(id))
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// QueryDocuments returns raw documents matching the query. Callers
// unmarshal into their own types.
func (c *GraphClient) QueryDocuments(ctx context.Context, collection string, query GraphQuery) ([]json.RawMessage, error) {
	path := fmt.Sprintf("/collections/%s/query", url.PathEscape(collection))

	var result queryResult
	if err := c.doJSON(ctx, http.MethodPost, path, query, &result); err != nil {
		return nil, err
	}

	if result.Documents == nil {
		return []json.RawMessage{}, nil
	}
	return result.Documents, nil
}

// PutEdge upserts an edge in an edge collection.
func (c *GraphClient) PutEdge(ctx context.Context, collection string, edge GraphEdge) error {
	path := fmt.Sprintf("/collections/%s/edges/%s", url.PathEscape(collection), url.PathEscape(edge.ID))
	return c.doJSON(ctx, http.MethodPut, path, edge, nil)
}

// Ping probes the graph store's health endpoint.
func (c *GraphClient) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}
