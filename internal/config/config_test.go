package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaultsDerivesSQLiteWithoutDSN(t *testing.T) {
	cfg := NewForTesting()
	cfg.DBDriver = "auto"
	cfg.PostgresDSN = ""

	require.NoError(t, cfg.ResolveDefaults())
	assert.Equal(t, "sqlite", cfg.DBDriver)
}

func TestResolveDefaultsDerivesPostgresWithDSN(t *testing.T) {
	cfg := NewForTesting()
	cfg.DBDriver = "auto"
	cfg.PostgresDSN = "postgres://localhost/evermem"

	require.NoError(t, cfg.ResolveDefaults())
	assert.Equal(t, "postgres", cfg.DBDriver)
}

func TestResolveDefaultsDerivesWeaviate(t *testing.T) {
	cfg := NewForTesting()
	cfg.VectorStore = "auto"

	require.NoError(t, cfg.ResolveDefaults())
	assert.Equal(t, "weaviate", cfg.VectorStore)
}

func TestResolveDefaultsRejectsUnknownDrivers(t *testing.T) {
	cfg := NewForTesting()
	cfg.DBDriver = "oracle"
	assert.Error(t, cfg.ResolveDefaults())

	cfg = NewForTesting()
	cfg.VectorStore = "pinecone"
	assert.Error(t, cfg.ResolveDefaults())

	cfg = NewForTesting()
	cfg.EmbedProvider = "bedrock"
	assert.Error(t, cfg.ResolveDefaults())

	cfg = NewForTesting()
	cfg.MCPTransport = "grpc"
	assert.Error(t, cfg.ResolveDefaults())
}

func TestResolveDefaultsRequiresPostgresDSN(t *testing.T) {
	cfg := NewForTesting()
	cfg.DBDriver = "postgres"
	cfg.PostgresDSN = ""
	assert.Error(t, cfg.ResolveDefaults())
}

func TestResolveDefaultsAcceptsOpenRouterWithoutKey(t *testing.T) {
	// The missing credential disables the memory subsystem at factory time;
	// config loading itself must not kill the process.
	cfg := NewForTesting()
	cfg.EmbedProvider = "openrouter"
	cfg.EmbedAPIKey = ""
	assert.NoError(t, cfg.ResolveDefaults())
}

func TestResolveDefaultsValidatesDecayFactor(t *testing.T) {
	cfg := NewForTesting()
	cfg.DecayFactor = 0
	assert.Error(t, cfg.ResolveDefaults())

	cfg = NewForTesting()
	cfg.DecayFactor = 1.2
	assert.Error(t, cfg.ResolveDefaults())
}

func TestResolveDefaultsValidatesProfiles(t *testing.T) {
	cfg := NewForTesting()
	cfg.Profiles = nil
	require.NoError(t, cfg.ResolveDefaults())
	assert.Equal(t, []string{"default"}, cfg.Profiles)

	cfg = NewForTesting()
	cfg.Profiles = []string{"jack", " family "}
	require.NoError(t, cfg.ResolveDefaults())
	assert.Equal(t, []string{"jack", "family"}, cfg.Profiles)

	cfg = NewForTesting()
	cfg.Profiles = []string{"jack", "jack"}
	assert.Error(t, cfg.ResolveDefaults())

	cfg = NewForTesting()
	cfg.Profiles = []string{""}
	assert.Error(t, cfg.ResolveDefaults())
}

func TestNewReadsEnvironment(t *testing.T) {
	t.Setenv("MEMORY_EMBED_PROVIDER", "openrouter")
	t.Setenv("MEMORY_EMBED_API_KEY", "sk-test")
	t.Setenv("MEMORY_EMBED_MODEL", "openai/text-embedding-3-small")
	t.Setenv("MEMORY_EMBED_DIMENSIONS", "1536")
	t.Setenv("MEMORY_CLEANUP_INTERVAL", "5m")
	t.Setenv("MEMORY_PROFILES", "jack,family")
	t.Setenv("MEMORY_VECTOR_STORE", "chromem")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "openrouter", cfg.EmbedProvider)
	assert.Equal(t, "openai/text-embedding-3-small", cfg.EmbedModel)
	assert.Equal(t, 1536, cfg.EmbedDimensions)
	assert.Equal(t, 5*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, []string{"jack", "family"}, cfg.Profiles)
	assert.Equal(t, "chromem", cfg.VectorStore)
	assert.Equal(t, "sqlite", cfg.DBDriver)
}

func TestDecayMinAge(t *testing.T) {
	cfg := NewForTesting()
	cfg.DecayMinAgeDays = 3
	assert.Equal(t, 72*time.Hour, cfg.DecayMinAge())
}

func TestAddrHelpers(t *testing.T) {
	cfg := NewForTesting()
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, ":9090", cfg.GetMCPAddr())
}
