package clients

// -----------------------------------------------------------------------
// Drafting providers. The draft server is the default; Anthropic is the
// drop-in cloud alternative selected through providers.draft in config.
// -----------------------------------------------------------------------

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
)

// Drafter produces manuscript prose from a conversation.
type Drafter interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// ChatMessage is one turn of a drafting conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a drafting request.
type ChatRequest struct {
	System      string        `json:"system,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Content string `json:"content"`
}

// DraftClient talks to the draft server.
type DraftClient struct {
	*transport
}

// NewDraftClient creates a draft server client.
func NewDraftClient(baseURL string, opts ...Option) *DraftClient {
	return &DraftClient{transport: newTransport("draft", baseURL, opts...)}
}

// Chat requests a completion from the draft server.
func (c *DraftClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", &Error{
			Class:    ClassPermanentInvalid,
			Service:  "draft",
			Endpoint: "/chat",
			Message:  "messages cannot be empty",
		}
	}

	var resp chatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/chat", req, &resp); err != nil {
		return "", err
	}

	if strings.TrimSpace(resp.Content) == "" {
		return "", &Error{
			Class:    ClassTransient,
			Service:  "draft",
			Endpoint: "/chat",
			Message:  "draft server returned empty content",
		}
	}

	return resp.Content, nil
}

// AnthropicDrafter drafts through the Anthropic API.
type AnthropicDrafter struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    arbor.ILogger
}

// NewAnthropicDrafter creates an Anthropic-backed drafter.
func NewAnthropicDrafter(apiKey, model string, maxTokens int, logger arbor.ILogger) (*AnthropicDrafter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("anthropic API key is required for the anthropic draft provider")
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &AnthropicDrafter{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}, nil
}

// Chat generates a completion through the Anthropic API. Failures are
// classified transient so the retry loop treats the provider like any
// other remote.
func (d *AnthropicDrafter) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", &Error{
			Class:   ClassPermanentInvalid,
			Service: "draft",
			Message: "messages cannot be empty",
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(d.model),
		MaxTokens: int64(d.maxTokens),
		Messages:  convertMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}

	resp, err := d.client.Messages.New(ctx, params)
	if err != nil {
		return "", &Error{
			Class:   ClassifyTransport(err),
			Service: "draft",
			Message: "anthropic call failed",
			Err:     err,
		}
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	if content.Len() == 0 {
		return "", &Error{
			Class:   ClassTransient,
			Service: "draft",
			Message: "anthropic returned no text content",
		}
	}

	return content.String(), nil
}

func convertMessages(messages []ChatMessage) []anthropic.MessageParam {
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		default:
			converted = append(converted, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}
	return converted
}
