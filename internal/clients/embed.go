package clients

// -----------------------------------------------------------------------
// Embedding providers. The embed server is the default; Google's
// gemini-embedding model is the cloud alternative selected through
// providers.embed in config. Both enforce the configured dimension on
// every vector they hand back.
// -----------------------------------------------------------------------

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// EmbedClient talks to the embed server in bounded batches.
type EmbedClient struct {
	*transport

	dimension int
	batchSize int
}

// NewEmbedClient creates an embed server client.
func NewEmbedClient(baseURL string, dimension, batchSize int, opts ...Option) *EmbedClient {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &EmbedClient{
		transport: newTransport("embed", baseURL, opts...),
		dimension: dimension,
		batchSize: batchSize,
	}
}

// Dimension returns the vector dimension this client enforces.
func (c *EmbedClient) Dimension() int {
	return c.dimension
}

// Embed returns one vector per input text, preserving order. Inputs are
// sent in batches; a wrong-size vector from the server is a contract
// violation, not a retryable fault.
func (c *EmbedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		var resp embedResponse
		if err := c.doJSON(ctx, http.MethodPost, "/embed", embedRequest{Texts: texts[start:end]}, &resp); err != nil {
			return nil, err
		}

		if len(resp.Vectors) != end-start {
			return nil, &Error{
				Class:    ClassPermanentInvalid,
				Service:  "embed",
				Endpoint: "/embed",
				Message:  fmt.Sprintf("embed server returned %d vectors for %d texts", len(resp.Vectors), end-start),
			}
		}

		for _, vec := range resp.Vectors {
			if len(vec) != c.dimension {
				return nil, &Error{
					Class:    ClassPermanentInvalid,
					Service:  "embed",
					Endpoint: "/embed",
					Message:  fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", c.dimension, len(vec)),
				}
			}
			vectors = append(vectors, vec)
		}
	}

	return vectors, nil
}

// GoogleEmbedder embeds through the Gemini API.
type GoogleEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
	logger    arbor.ILogger
}

// NewGoogleEmbedder creates a Gemini-backed embedder.
func NewGoogleEmbedder(ctx context.Context, apiKey, model string, dimension int, logger arbor.ILogger) (*GoogleEmbedder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("google API key is required for the google embed provider")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GoogleEmbedder{
		client:    client,
		model:     model,
		dimension: dimension,
		logger:    logger,
	}, nil
}

// Dimension returns the vector dimension this embedder enforces.
func (g *GoogleEmbedder) Dimension() int {
	return g.dimension
}

// Embed returns one vector per input text, preserving order.
func (g *GoogleEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	outputDim := int32(g.dimension)

	for _, text := range texts {
		config := &genai.EmbedContentConfig{
			OutputDimensionality: &outputDim,
		}

		result, err := g.client.Models.EmbedContent(ctx, g.model,
			[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, config)
		if err != nil {
			return nil, &Error{
				Class:   ClassifyTransport(err),
				Service: "embed",
				Message: "gemini embedding call failed",
				Err:     err,
			}
		}

		if result == nil || len(result.Embeddings) == 0 || result.Embeddings[0].Values == nil {
			return nil, &Error{
				Class:   ClassTransient,
				Service: "embed",
				Message: "gemini returned no embedding",
			}
		}

		vec := result.Embeddings[0].Values
		if len(vec) != g.dimension {
			return nil, &Error{
				Class:   ClassPermanentInvalid,
				Service: "embed",
				Message: fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", g.dimension, len(vec)),
			}
		}
		vectors = append(vectors, vec)
	}

	return vectors, nil
}
