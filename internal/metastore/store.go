// Package metastore defines the durable metadata store contract. The store
// is the source of truth for every lifecycle decision maintenance makes.
package metastore

import (
	"context"
	"time"

	"github.com/evermem/evermem/internal/model"
)

// ForgetFilter selects records for category/age-based deletion within a
// profile. At least one of Category/OlderThan must be set; the memory service
// validates that before calling the store.
type ForgetFilter struct {
	Category      model.Category
	OlderThan     *time.Time
	IncludePinned bool
}

// Store exposes durable CRUD over memory records plus the aggregate queries
// maintenance needs. Implementations live under metastore/<driver>/.
//
// Delete and DeleteBySession are idempotent: deleting missing ids reports a
// zero count, never an error. Explicit `now` parameters keep expiry and decay
// decisions testable with a simulated clock.
type Store interface {
	Insert(ctx context.Context, m *model.Memory) error
	Delete(ctx context.Context, ids []string) (int64, error)
	DeleteBySession(ctx context.Context, profileID, sessionID string, includePinned bool) ([]string, error)
	FindByFilter(ctx context.Context, profileID string, f ForgetFilter) ([]string, error)

	// IsPinned reports the pin flag for id. A missing id is (false, nil) so
	// idempotent deletes stay quiet.
	IsPinned(ctx context.Context, id string) (bool, error)

	// RecordAccess increments access_count and stamps last_accessed_at for
	// every id in one logical batch. Callers treat a failure here as
	// best-effort bookkeeping, not a recall failure.
	RecordAccess(ctx context.Context, ids []string, now time.Time) error

	// GetExpired returns non-pinned records whose expires_at is before now.
	GetExpired(ctx context.Context, now time.Time) ([]string, error)
	// GetStale returns non-pinned records that are both unimportant and
	// unused: importance < minImportance and access_count <= maxAccessCount.
	// Age is intentionally ignored.
	GetStale(ctx context.Context, minImportance float64, maxAccessCount int64) ([]string, error)
	// DecayImportance multiplies importance by factor for every non-pinned
	// record created before now-minAge. Repeatable; the scheduler's interval
	// prevents double-penalizing within one maintenance window.
	DecayImportance(ctx context.Context, factor float64, minAge time.Duration, now time.Time) (int64, error)

	Stats(ctx context.Context, profileID string) (*model.ProfileStats, error)

	Ping(ctx context.Context) error
	Close() error
}
