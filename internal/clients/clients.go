package clients

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/common"
)

// Bundle groups the remote service clients the pipeline depends on.
// All five share one breaker registry so clients pointed at the same
// host share failure history.
type Bundle struct {
	Logic  *LogicClient
	Draft  Drafter
	Embed  Embedder
	Graph  *GraphClient
	Vector *VectorClient
}

// NewBundle builds the client set from configuration, selecting the
// draft and embed providers.
func NewBundle(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*Bundle, error) {
	registry := NewBreakerRegistry(DefaultBreakerConfig())

	endpointOpts := func(endpoint common.EndpointConfig, fallback time.Duration) []Option {
		opts := []Option{
			WithLogger(logger),
			WithTimeout(common.EndpointTimeout(endpoint.Timeout, fallback)),
			WithBreakerRegistry(registry),
		}
		if endpoint.RateLimit > 0 {
			opts = append(opts, WithRateLimit(endpoint.RateLimit))
		}
		return opts
	}

	bundle := &Bundle{
		Logic: NewLogicClient(cfg.Services.Logic.URL,
			endpointOpts(cfg.Services.Logic, 2*time.Minute)...),
	}

	switch cfg.Providers.Draft {
	case "anthropic":
		drafter, err := NewAnthropicDrafter(
			cfg.Providers.AnthropicAPIKey,
			cfg.Providers.AnthropicModel,
			cfg.Providers.AnthropicMaxTokens,
			logger,
		)
		if err != nil {
			return nil, err
		}
		bundle.Draft = drafter
	default:
		bundle.Draft = NewDraftClient(cfg.Services.Draft.URL,
			endpointOpts(cfg.Services.Draft, 2*time.Minute)...)
	}

	switch cfg.Providers.Embed {
	case "google":
		embedder, err := NewGoogleEmbedder(ctx,
			cfg.Providers.GoogleAPIKey,
			cfg.Providers.GoogleEmbedModel,
			cfg.Services.Vector.Dimension,
			logger,
		)
		if err != nil {
			return nil, err
		}
		bundle.Embed = embedder
	default:
		bundle.Embed = NewEmbedClient(cfg.Services.Embed.URL,
			cfg.Services.Vector.Dimension,
			cfg.Providers.EmbedBatchSize,
			endpointOpts(cfg.Services.Embed, time.Minute)...)
	}

	graphEndpoint := common.EndpointConfig{
		URL:       cfg.Services.Graph.URL,
		Timeout:   cfg.Services.Graph.Timeout,
		RateLimit: cfg.Services.Graph.RateLimit,
	}
	graphOpts := endpointOpts(graphEndpoint, 30*time.Second)
	if cfg.Services.Graph.Password != "" {
		graphOpts = append(graphOpts, WithAuthToken(cfg.Services.Graph.Password))
	}
	bundle.Graph = NewGraphClient(cfg.Services.Graph.URL, graphOpts...)

	vectorEndpoint := common.EndpointConfig{
		URL:       cfg.Services.Vector.URL,
		Timeout:   cfg.Services.Vector.Timeout,
		RateLimit: cfg.Services.Vector.RateLimit,
	}
	bundle.Vector = NewVectorClient(cfg.Services.Vector.URL,
		cfg.Services.Vector.Collection,
		cfg.Services.Vector.Dimension,
		endpointOpts(vectorEndpoint, 30*time.Second)...)

	return bundle, nil
}
