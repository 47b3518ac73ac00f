package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermem/evermem/internal/model"
)

func integrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("MEMORY_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEMORY_POSTGRES_DSN not set; skipping postgres store integration test")
	}
	st, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPostgresInsertDeleteRoundTrip(t *testing.T) {
	st := integrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	profile := "it-" + uuid.New().String()[:8]
	m := &model.Memory{
		ID:             uuid.New().String(),
		ProfileID:      profile,
		Content:        "user prefers dark roast coffee",
		Category:       model.CategoryPreference,
		Tags:           []string{"coffee"},
		Importance:     0.6,
		SessionID:      "s1",
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	require.NoError(t, st.Insert(ctx, m))

	stats, err := st.Stats(ctx, profile)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, map[string]int64{"preference": 1}, stats.ByCategory)

	n, err := st.Delete(ctx, []string{m.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = st.Delete(ctx, []string{m.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPostgresDecayAndExpiry(t *testing.T) {
	st := integrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	profile := "it-" + uuid.New().String()[:8]
	past := now.Add(-time.Hour)
	expired := &model.Memory{
		ID:             uuid.New().String(),
		ProfileID:      profile,
		Content:        "short lived",
		Category:       model.CategoryFact,
		Importance:     0.8,
		CreatedAt:      now.Add(-10 * 24 * time.Hour),
		LastAccessedAt: now,
		ExpiresAt:      &past,
	}
	require.NoError(t, st.Insert(ctx, expired))
	t.Cleanup(func() { _, _ = st.Delete(context.Background(), []string{expired.ID}) })

	ids, err := st.GetExpired(ctx, now)
	require.NoError(t, err)
	assert.Contains(t, ids, expired.ID)

	n, err := st.DecayImportance(ctx, 0.95, 7*24*time.Hour, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}
