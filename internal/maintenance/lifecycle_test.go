package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermem/evermem/internal/metastore/sqlite"
	"github.com/evermem/evermem/internal/model"
	"github.com/evermem/evermem/internal/vectorindex/chromem"
)

// End-to-end lifecycle against real stores: a memory with a 1h TTL disappears
// from both stores once the clock passes the deadline, pinned records never do.
func TestCleanupEvictsExpiredMemoryWithSimulatedClock(t *testing.T) {
	ctx := context.Background()

	meta, err := sqlite.New(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	idx, err := chromem.New("", "memories_test")
	require.NoError(t, err)

	now := time.Now().UTC()
	expiresAt := now.Add(time.Hour)

	ttl := &model.Memory{
		ID:             uuid.New().String(),
		ProfileID:      "default",
		Content:        "meeting at noon",
		Category:       model.CategoryFact,
		Importance:     0.5,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      &expiresAt,
	}
	pinned := &model.Memory{
		ID:             uuid.New().String(),
		ProfileID:      "default",
		Content:        "user has a peanut allergy",
		Category:       model.CategoryFact,
		Importance:     0.0, // stale by every measure, but pinned
		Pinned:         true,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      &expiresAt,
	}
	for _, m := range []*model.Memory{ttl, pinned} {
		require.NoError(t, meta.Insert(ctx, m))
		require.NoError(t, idx.Upsert(ctx, m, []float32{1, 0, 0, 0}))
	}

	w := NewWorker(meta, idx, Config{}, zerolog.Nop())

	// Before the deadline nothing is evicted except... nothing: the TTL
	// record is live and the pinned record is exempt from staleness.
	require.NoError(t, w.CleanupOnce(ctx))
	stats, err := meta.Stats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)

	// Two hours later the TTL record goes, the pinned one stays.
	w.nowFn = func() time.Time { return now.Add(2 * time.Hour) }
	require.NoError(t, w.CleanupOnce(ctx))

	stats, err = meta.Stats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Pinned)

	n, err := idx.Count(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Re-running is idempotent.
	require.NoError(t, w.CleanupOnce(ctx))
	stats, err = meta.Stats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
}
