// Package vectorindex defines the vector similarity index contract.
package vectorindex

import (
	"context"
	"time"

	"github.com/evermem/evermem/internal/model"
)

// SearchQuery is the filter set for a similarity search. Filters combine with
// logical AND. ProfileID is mandatory; results never cross profiles. Points
// whose expiresAt is in the past are always excluded. MinScore is a hard
// cutoff, not a ranking hint.
type SearchQuery struct {
	ProfileID    string
	Category     model.Category
	Tags         []string // any-match
	SessionID    string
	CreatedAfter *time.Time
	Limit        int
	MinScore     float64
}

// Filter selects points for bulk deletion. ProfileID is mandatory.
type Filter struct {
	ProfileID     string
	SessionID     string
	Category      model.Category
	IncludePinned bool
}

// Index stores (id, vector, payload) points in a collection created lazily on
// first use with a fixed dimensionality and cosine similarity.
//
// Delete and DeleteByFilter are idempotent: removing a missing point is not
// an error. Connectivity failures surface as plain errors; the memory service
// classifies them for callers.
type Index interface {
	// Upsert replaces any existing point with the same id.
	Upsert(ctx context.Context, mem *model.Memory, vec []float32) error
	// Search returns points ordered by descending similarity.
	Search(ctx context.Context, vec []float32, q SearchQuery) ([]model.ScoredMemory, error)
	Delete(ctx context.Context, ids []string) error
	DeleteByFilter(ctx context.Context, f Filter) error
	Count(ctx context.Context, profileID string) (int64, error)
}

// HealthPinger is optionally implemented by an Index to expose a cheap
// connectivity probe. Returns nil when healthy.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}
