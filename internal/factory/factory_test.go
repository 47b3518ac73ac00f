package factory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermem/evermem/internal/config"
)

func TestNewEmbeddingProviderRequiresOpenRouterKey(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.EmbedProvider = "openrouter"
	cfg.EmbedAPIKey = ""

	_, err := NewEmbeddingProvider(context.Background(), cfg, zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMBED_API_KEY")
}

func TestNewEmbeddingProviderBuildsOllama(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.EmbedProvider = "ollama"

	p, err := NewEmbeddingProvider(context.Background(), cfg, zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, cfg.EmbedDimensions, p.Dimensions())
}

func TestNewEmbeddingProviderRejectsUnknown(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.EmbedProvider = "bedrock"

	_, err := NewEmbeddingProvider(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewVectorIndexBuildsChromem(t *testing.T) {
	cfg := config.NewForTesting()

	idx, err := NewVectorIndex(context.Background(), cfg, zerolog.Nop())

	require.NoError(t, err)
	assert.NotNil(t, idx)
}

func TestNewVectorIndexProbesWeaviate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"1.31.4"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := config.NewForTesting()
	cfg.VectorStore = "weaviate"
	cfg.WeaviateURL = strings.TrimPrefix(srv.URL, "http://")

	idx, err := NewVectorIndex(context.Background(), cfg, zerolog.Nop())

	require.NoError(t, err)
	assert.NotNil(t, idx)
}

func TestNewVectorIndexFailsWhenWeaviateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	cfg := config.NewForTesting()
	cfg.VectorStore = "weaviate"
	cfg.WeaviateURL = addr

	_, err := NewVectorIndex(context.Background(), cfg, zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestNewMetaStoreBuildsSQLite(t *testing.T) {
	cfg := config.NewForTesting()

	meta, err := NewMetaStore(cfg, zerolog.Nop())

	require.NoError(t, err)
	require.NoError(t, meta.Ping(context.Background()))
	require.NoError(t, meta.Close())
}
