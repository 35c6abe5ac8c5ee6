package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sync"
)

// LogicClient talks to the logic server for schema-constrained
// generation. Responses that fail the caller's schema are classified
// PermanentInvalid and never retried.
type LogicClient struct {
	*transport

	mu      sync.RWMutex
	schemas map[string]*regexp.Regexp
}

// GenerateRequest is a structured generation request.
type GenerateRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	SchemaRegex string  `json:"schema_regex,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// NewLogicClient creates a logic server client.
func NewLogicClient(baseURL string, opts ...Option) *LogicClient {
	return &LogicClient{
		transport: newTransport("logic", baseURL, opts...),
		schemas:   make(map[string]*regexp.Regexp),
	}
}

// Generate requests constrained text and enforces the schema regex on
// the returned text.
func (c *LogicClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	var resp generateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/generate", req, &resp); err != nil {
		return "", err
	}

	if req.SchemaRegex != "" {
		re, err := c.compiledSchema(req.SchemaRegex)
		if err != nil {
			return "", err
		}
		if !re.MatchString(resp.Text) {
			return "", c.invalidSchema("response does not match schema_regex")
		}
	}

	return resp.Text, nil
}

// GenerateJSON requests constrained text and unmarshals it into out.
// Both a regex miss and an unmarshal failure are schema violations.
func (c *LogicClient) GenerateJSON(ctx context.Context, req GenerateRequest, out interface{}) error {
	text, err := c.Generate(ctx, req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(text), out); err != nil {
		return c.invalidSchema(fmt.Sprintf("response is not valid JSON: %v", err))
	}

	return nil
}

func (c *LogicClient) invalidSchema(detail string) *Error {
	return &Error{
		Class:    ClassPermanentInvalid,
		Service:  "logic",
		Endpoint: "/generate",
		Message:  "invalid_schema",
		Err:      fmt.Errorf("%s", detail),
	}
}

func (c *LogicClient) compiledSchema(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.schemas[pattern]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &Error{
			Class:    ClassPermanentInvalid,
			Service:  "logic",
			Endpoint: "/generate",
			Message:  "schema_regex does not compile",
			Err:      err,
		}
	}

	c.mu.Lock()
	c.schemas[pattern] = re
	c.mu.Unlock()

	return re, nil
}
