package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/evermem/evermem/internal/config"
	emb "github.com/evermem/evermem/internal/embeddings"
	"github.com/evermem/evermem/internal/embeddings/ollama"
	"github.com/evermem/evermem/internal/embeddings/openrouter"
)

// NewEmbeddingProvider creates an embedding provider based on config.
// Launches optional async warmup; returns provider immediately for fast startup.
func NewEmbeddingProvider(ctx context.Context, cfg *config.Config, log zerolog.Logger) (emb.Provider, error) {
	var provider emb.Provider

	switch cfg.EmbedProvider {
	case "openrouter":
		if cfg.EmbedAPIKey == "" {
			return nil, fmt.Errorf("EMBED_PROVIDER=openrouter requires MEMORY_EMBED_API_KEY")
		}
		provider = openrouter.New(openrouter.Config{
			APIKey:       cfg.EmbedAPIKey,
			BaseURL:      cfg.EmbedBaseURL,
			Model:        cfg.EmbedModel,
			Dimensions:   cfg.EmbedDimensions,
			MaxBatchSize: cfg.EmbedMaxBatch,
			Timeout:      cfg.EmbedTimeout,
			Policy:       emb.Policy{MaxAttempts: cfg.EmbedRetries, BaseDelay: time.Second},
		})
	case "", "ollama":
		provider = ollama.New(ollama.Config{
			BaseURL:    cfg.EmbedBaseURL,
			Model:      cfg.EmbedModel,
			Dimensions: cfg.EmbedDimensions,
			Timeout:    cfg.EmbedTimeout,
			Policy:     emb.Policy{MaxAttempts: cfg.EmbedRetries, BaseDelay: time.Second},
		})
	default:
		return nil, fmt.Errorf("unknown EMBED_PROVIDER: %s", cfg.EmbedProvider)
	}

	// Optional async warmup; don't block startup
	go func() {
		warmupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		if vec, err := provider.Embed(warmupCtx, "factory-warmup-check"); err != nil || len(vec) == 0 {
			log.Warn().Err(err).Int("vec_len", len(vec)).
				Str("provider", cfg.EmbedProvider).Str("model", cfg.EmbedModel).
				Msg("embedding provider warmup failed")
		} else {
			log.Debug().Str("provider", cfg.EmbedProvider).Str("model", cfg.EmbedModel).
				Msg("embedding provider warmup completed")
		}
	}()

	return provider, nil
}
