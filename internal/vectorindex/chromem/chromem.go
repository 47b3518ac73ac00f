// Package chromem implements the vector index on chromem-go, an embedded
// pure-Go vector database. It backs the local build target and hermetic
// tests; no external service is required.
package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/evermem/evermem/internal/model"
	"github.com/evermem/evermem/internal/vectorindex"
)

// Index is a vectorindex.Index with one chromem collection per profile, so
// cross-profile leakage is structurally impossible: a query can only ever see
// the collection named after its own profile.
type Index struct {
	db     *chromem.DB
	prefix string
}

// New creates an Index. With a non-empty path the index persists to disk;
// otherwise it is in-memory (tests, throwaway dev runs).
func New(path, collection string) (*Index, error) {
	if collection == "" {
		collection = "memories"
	}
	if path == "" {
		return &Index{db: chromem.NewDB(), prefix: collection}, nil
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, err
	}
	return &Index{db: db, prefix: collection}, nil
}

func (c *Index) collectionName(profileID string) string {
	return c.prefix + "_" + profileID
}

func (c *Index) collection(profileID string) (*chromem.Collection, error) {
	return c.db.GetOrCreateCollection(c.collectionName(profileID), nil, nil)
}

// Upsert replaces any existing document with the same id.
func (c *Index) Upsert(ctx context.Context, mem *model.Memory, vec []float32) error {
	col, err := c.collection(mem.ProfileID)
	if err != nil {
		return err
	}
	// AddDocument is additive for distinct ids but replaces a matching one
	// only after an explicit delete. A missing id is not an error.
	_ = col.Delete(ctx, nil, nil, mem.ID)

	meta := map[string]string{
		"profileId":  mem.ProfileID,
		"category":   string(mem.Category),
		"sessionId":  mem.SessionID,
		"pinned":     strconv.FormatBool(mem.Pinned),
		"importance": strconv.FormatFloat(mem.Importance, 'f', -1, 64),
		"createdAt":  mem.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(mem.Tags) > 0 {
		b, err := json.Marshal(mem.Tags)
		if err != nil {
			return err
		}
		meta["tags"] = string(b)
	}
	if mem.ExpiresAt != nil {
		meta["expiresAt"] = mem.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	return col.AddDocument(ctx, chromem.Document{
		ID:        mem.ID,
		Content:   mem.Content,
		Embedding: vec,
		Metadata:  meta,
	})
}

// Search queries the profile's collection. chromem's metadata filters are
// exact-match only, so tag any-match, creation-time range, expiry exclusion
// and the similarity cutoff are applied here after the vector query.
func (c *Index) Search(ctx context.Context, vec []float32, q vectorindex.SearchQuery) ([]model.ScoredMemory, error) {
	if q.ProfileID == "" {
		return nil, errors.New("chromem: profile id is required for search")
	}
	col, err := c.collection(q.ProfileID)
	if err != nil {
		return nil, err
	}
	total := col.Count()
	if total == 0 {
		return []model.ScoredMemory{}, nil
	}

	where := map[string]string{}
	if q.Category != "" {
		where["category"] = string(q.Category)
	}
	if q.SessionID != "" {
		where["sessionId"] = q.SessionID
	}

	// Over-fetch: post-filtering can drop results, and nResults must not
	// exceed the collection size.
	results, err := col.QueryEmbedding(ctx, vec, total, where, nil)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	now := time.Now().UTC()

	out := make([]model.ScoredMemory, 0, limit)
	for _, r := range results {
		if float64(r.Similarity) < q.MinScore {
			continue
		}
		mem, err := fromResult(r)
		if err != nil {
			return nil, fmt.Errorf("chromem: corrupt document %s: %w", r.ID, err)
		}
		if mem.ExpiresAt != nil && mem.ExpiresAt.Before(now) {
			continue
		}
		if q.CreatedAfter != nil && mem.CreatedAt.Before(*q.CreatedAfter) {
			continue
		}
		if len(q.Tags) > 0 && !anyTagMatch(mem.Tags, q.Tags) {
			continue
		}
		out = append(out, model.ScoredMemory{Memory: mem, Similarity: float64(r.Similarity)})
		if len(out) == limit {
			break
		}
	}
	// QueryEmbedding already ranks by similarity; keep the order explicit for
	// stability within one call.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

// Delete removes ids from every profile collection that holds them. Missing
// ids are ignored.
func (c *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for name := range c.db.ListCollections() {
		col := c.db.GetCollection(name, nil)
		if col == nil || col.Count() == 0 {
			continue
		}
		if err := col.Delete(ctx, nil, nil, ids...); err != nil {
			return err
		}
	}
	return nil
}

// DeleteByFilter bulk-deletes within one profile collection.
func (c *Index) DeleteByFilter(ctx context.Context, f vectorindex.Filter) error {
	if f.ProfileID == "" {
		return errors.New("chromem: profile id is required for filtered delete")
	}
	col := c.db.GetCollection(c.collectionName(f.ProfileID), nil)
	if col == nil || col.Count() == 0 {
		return nil
	}

	where := map[string]string{}
	if f.SessionID != "" {
		where["sessionId"] = f.SessionID
	}
	if f.Category != "" {
		where["category"] = string(f.Category)
	}
	if !f.IncludePinned {
		where["pinned"] = "false"
	}
	if len(where) == 0 {
		// Filter selects the whole profile; drop the collection.
		return c.db.DeleteCollection(c.collectionName(f.ProfileID))
	}
	return col.Delete(ctx, where, nil)
}

// Count returns the number of documents stored for a profile.
func (c *Index) Count(ctx context.Context, profileID string) (int64, error) {
	col := c.db.GetCollection(c.collectionName(profileID), nil)
	if col == nil {
		return 0, nil
	}
	return int64(col.Count()), nil
}

func anyTagMatch(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func fromResult(r chromem.Result) (model.Memory, error) {
	mem := model.Memory{
		ID:        r.ID,
		ProfileID: r.Metadata["profileId"],
		Content:   r.Content,
		Category:  model.Category(r.Metadata["category"]),
		SessionID: r.Metadata["sessionId"],
		Pinned:    r.Metadata["pinned"] == "true",
	}
	if s := r.Metadata["importance"]; s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return mem, err
		}
		mem.Importance = f
	}
	if s := r.Metadata["createdAt"]; s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return mem, err
		}
		mem.CreatedAt = t
	}
	if s := r.Metadata["expiresAt"]; s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return mem, err
		}
		mem.ExpiresAt = &t
	}
	if s := r.Metadata["tags"]; s != "" {
		if err := json.Unmarshal([]byte(s), &mem.Tags); err != nil {
			return mem, err
		}
	}
	return mem, nil
}
