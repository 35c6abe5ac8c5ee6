package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// VectorClient talks to the vector store. Every vector crossing this
// boundary is checked against the collection dimension before it is
// transmitted; a mismatch is PermanentInvalid and never retried.
type VectorClient struct {
	*transport

	collection string
	dimension  int
}

// VectorRecord is one point in the vector store.
type VectorRecord struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// VectorMatch is one similarity search hit.
type VectorMatch struct {
	ID      string                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

type collectionSpec struct {
	Metric    string `json:"metric"`
	Dimension int    `json:"dimension"`
}

type upsertRequest struct {
	Points []VectorRecord `json:"points"`
}

type searchRequest struct {
	Vector []float32 `json:"vector"`
	TopK   int       `json:"top_k"`
}

type searchResponse struct {
	Matches []VectorMatch `json:"matches"`
}

// NewVectorClient creates a vector store client bound to one collection.
func NewVectorClient(baseURL, collection string, dimension int, opts ...Option) *VectorClient {
	return &VectorClient{
		transport:  newTransport("vector", baseURL, opts...),
		collection: collection,
		dimension:  dimension,
	}
}

// Dimension returns the collection's vector dimension.
func (c *VectorClient) Dimension() int {
	return c.dimension
}

// EnsureCollection records the cosine metric and dimension for the
// collection. Called once at startup.
func (c *VectorClient) EnsureCollection(ctx context.Context) error {
	path := fmt.Sprintf("/collections/%s", url.PathEscape(c.collection))
	return c.doJSON(ctx, http.MethodPut, path, collectionSpec{Metric: "cosine", Dimension: c.dimension}, nil)
}

// Upsert writes points to the collection. Rejects wrong-size vectors
// before anything reaches the wire.
func (c *VectorClient) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	for _, rec := range records {
		if len(rec.Vector) != c.dimension {
			return c.dimensionMismatch(rec.ID, len(rec.Vector))
		}
	}

	path := fmt.Sprintf("/collections/%s/points", url.PathEscape(c.collection))
	return c.doJSON(ctx, http.MethodPost, path, upsertRequest{Points: records}, nil)
}

// Search returns the topK nearest points by cosine similarity.
func (c *VectorClient) Search(ctx context.Context, vector []float32, topK int) ([]VectorMatch, error) {
	if len(vector) != c.dimension {
		return nil, c.dimensionMismatch("query", len(vector))
	}
	if topK <= 0 {
		topK = 10
	}

	path := fmt.Sprintf("/collections/%s/search", url.PathEscape(c.collection))

	var resp searchResponse
	if err := c.doJSON(ctx, http.MethodPost, path, searchRequest{Vector: vector, TopK: topK}, &resp); err != nil {
		return nil, err
	}

	if resp.Matches == nil {
		return []VectorMatch{}, nil
	}
	return resp.Matches, nil
}

// Ping probes the vector store's health endpoint.
func (c *VectorClient) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *VectorClient) dimensionMismatch(id string, got int) *Error {
	return &Error{
		Class:    ClassPermanentInvalid,
		Service:  "vector",
		Endpoint: "/collections/" + c.collection,
		Message:  fmt.Sprintf("vector %s has dimension %d, collection requires %d", id, got, c.dimension),
	}
}
