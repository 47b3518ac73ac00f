package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/evermem/evermem/internal/config"
	"github.com/evermem/evermem/internal/vectorindex"
	"github.com/evermem/evermem/internal/vectorindex/chromem"
	"github.com/evermem/evermem/internal/vectorindex/weaviate"
)

const indexProbeTimeout = 5 * time.Second

// NewVectorIndex creates a vector index implementation based on config.
// The Weaviate instance is probed once at startup: an unreachable index
// disables the memory subsystem rather than failing every later call. The
// class itself is still ensured lazily on first use.
func NewVectorIndex(ctx context.Context, cfg *config.Config, log zerolog.Logger) (vectorindex.Index, error) {
	switch cfg.VectorStore {
	case "weaviate":
		if cfg.WeaviateURL == "" {
			return nil, fmt.Errorf("MEMORY_WEAVIATE_URL is required when VECTOR_STORE=weaviate")
		}
		idx, err := weaviate.New(cfg.WeaviateURL, cfg.Collection, cfg.EmbedDimensions)
		if err != nil {
			return nil, err
		}
		probeCtx, cancel := context.WithTimeout(ctx, indexProbeTimeout)
		defer cancel()
		if err := idx.HealthPing(probeCtx); err != nil {
			return nil, fmt.Errorf("weaviate unreachable at %s: %w", cfg.WeaviateURL, err)
		}
		log.Debug().Str("url", cfg.WeaviateURL).Str("collection", cfg.Collection).Msg("weaviate index configured")
		return idx, nil
	case "chromem":
		idx, err := chromem.New(cfg.ChromemPath, cfg.Collection)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("path", cfg.ChromemPath).Str("collection", cfg.Collection).Msg("chromem index configured")
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_STORE: %s", cfg.VectorStore)
	}
}
