package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermem/evermem/internal/embeddings"
	"github.com/evermem/evermem/internal/metastore"
	"github.com/evermem/evermem/internal/model"
	"github.com/evermem/evermem/internal/vectorindex"
)

// fakeProvider returns a fixed vector, or fails.
type fakeProvider struct {
	vec []float32
	err error
}

func (f *fakeProvider) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeProvider) Dimensions() int { return len(f.vec) }

// fakeIndex records calls and keeps upserted memories by id.
type fakeIndex struct {
	docs map[string]*model.Memory

	upsertErr error
	deleteErr error
	searchErr error
	countErr  error

	deleted       [][]string
	filterDeletes []vectorindex.Filter
	searchHits    []model.ScoredMemory
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: map[string]*model.Memory{}}
}

func (f *fakeIndex) Upsert(_ context.Context, m *model.Memory, _ []float32) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.docs[m.ID] = m
	return nil
}

func (f *fakeIndex) Search(context.Context, []float32, vectorindex.SearchQuery) ([]model.ScoredMemory, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchHits, nil
}

func (f *fakeIndex) Delete(_ context.Context, ids []string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, ids)
	for _, id := range ids {
		delete(f.docs, id)
	}
	return nil
}

func (f *fakeIndex) DeleteByFilter(_ context.Context, filter vectorindex.Filter) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.filterDeletes = append(f.filterDeletes, filter)
	return nil
}

func (f *fakeIndex) Count(context.Context, string) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return int64(len(f.docs)), nil
}

// fakeStore keeps memories in a map and records bookkeeping calls.
type fakeStore struct {
	docs map[string]*model.Memory

	insertErr error
	deleteErr error

	accessed [][]string
	stats    *model.ProfileStats
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string]*model.Memory{}}
}

func (f *fakeStore) Insert(_ context.Context, m *model.Memory) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.docs[m.ID] = m
	return nil
}

func (f *fakeStore) Delete(_ context.Context, ids []string) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	var n int64
	for _, id := range ids {
		if _, ok := f.docs[id]; ok {
			delete(f.docs, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteBySession(_ context.Context, profileID, sessionID string, includePinned bool) ([]string, error) {
	var ids []string
	for id, m := range f.docs {
		if m.ProfileID != profileID || m.SessionID != sessionID {
			continue
		}
		if m.Pinned && !includePinned {
			continue
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		delete(f.docs, id)
	}
	return ids, nil
}

func (f *fakeStore) FindByFilter(_ context.Context, profileID string, filter metastore.ForgetFilter) ([]string, error) {
	var ids []string
	for id, m := range f.docs {
		if m.ProfileID != profileID {
			continue
		}
		if filter.Category != "" && m.Category != filter.Category {
			continue
		}
		if filter.OlderThan != nil && !m.CreatedAt.Before(*filter.OlderThan) {
			continue
		}
		if m.Pinned && !filter.IncludePinned {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) IsPinned(_ context.Context, id string) (bool, error) {
	if m, ok := f.docs[id]; ok {
		return m.Pinned, nil
	}
	return false, nil
}

func (f *fakeStore) RecordAccess(_ context.Context, ids []string, _ time.Time) error {
	f.accessed = append(f.accessed, ids)
	return nil
}

func (f *fakeStore) GetExpired(context.Context, time.Time) ([]string, error) { return nil, nil }

func (f *fakeStore) GetStale(context.Context, float64, int64) ([]string, error) { return nil, nil }

func (f *fakeStore) DecayImportance(context.Context, float64, time.Duration, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) Stats(context.Context, string) (*model.ProfileStats, error) {
	if f.stats != nil {
		return f.stats, nil
	}
	return &model.ProfileStats{Total: int64(len(f.docs)), ByCategory: map[string]int64{}}, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) Close() error { return nil }

func newTestService(idx *fakeIndex, meta *fakeStore) *Service {
	svc := NewService(&fakeProvider{vec: []float32{1, 0, 0}}, idx, meta, zerolog.Nop())
	svc.syncBookkeeping = true
	return svc
}

func TestStoreWritesBothStores(t *testing.T) {
	idx := newFakeIndex()
	meta := newFakeStore()
	svc := newTestService(idx, meta)

	res, err := svc.Store(context.Background(), StoreRequest{
		ProfileID:  "default",
		Content:    "user prefers dark roast coffee",
		Importance: 0.7,
		TTL:        time.Hour,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.MemoryID)
	assert.Equal(t, model.CategoryFact, res.Category)
	require.NotNil(t, res.ExpiresAt)
	assert.Contains(t, idx.docs, res.MemoryID)
	assert.Contains(t, meta.docs, res.MemoryID)
}

func TestStoreCompensatesIndexOnMetadataFailure(t *testing.T) {
	idx := newFakeIndex()
	meta := newFakeStore()
	meta.insertErr = errors.New("disk full")
	svc := newTestService(idx, meta)

	_, err := svc.Store(context.Background(), StoreRequest{
		ProfileID:  "default",
		Content:    "ephemeral",
		Importance: 0.5,
	})

	require.True(t, IsMetadataUnavailable(err))
	assert.Empty(t, idx.docs, "vector must be compensated away after metadata failure")
	require.Len(t, idx.deleted, 1)
}

func TestStoreValidation(t *testing.T) {
	svc := newTestService(newFakeIndex(), newFakeStore())
	ctx := context.Background()

	cases := []StoreRequest{
		{Content: "x", Importance: 0.5},                                          // missing profile
		{ProfileID: "default", Importance: 0.5},                                  // missing content
		{ProfileID: "default", Content: "x", Category: "gossip"},                 // bad category
		{ProfileID: "default", Content: "x", Importance: 1.5},                    // importance out of range
		{ProfileID: "default", Content: "x", Importance: 0.5, TTL: -time.Second}, // negative ttl
	}
	for _, req := range cases {
		_, err := svc.Store(ctx, req)
		assert.True(t, IsInvalidRequest(err), "want InvalidRequest for %+v, got %v", req, err)
	}
}

func TestStoreWrapsProviderFailure(t *testing.T) {
	idx := newFakeIndex()
	meta := newFakeStore()
	svc := newTestService(idx, meta)
	svc.emb = &fakeProvider{err: &embeddings.ExhaustedError{Attempts: 3, Last: errors.New("503")}}

	_, err := svc.Store(context.Background(), StoreRequest{
		ProfileID: "default", Content: "x", Importance: 0.5,
	})

	require.True(t, IsProviderError(err))
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Attempts)
	assert.Empty(t, idx.docs)
}

func TestStorePreviewIsTruncated(t *testing.T) {
	svc := newTestService(newFakeIndex(), newFakeStore())

	long := make([]rune, 150)
	for i := range long {
		long[i] = 'a'
	}
	res, err := svc.Store(context.Background(), StoreRequest{
		ProfileID: "default", Content: string(long), Importance: 0.5,
	})
	require.NoError(t, err)
	assert.Len(t, []rune(res.ContentPreview), 103)
	assert.Equal(t, "...", res.ContentPreview[100:])
}

func TestRecallEmptyResultIsSuccess(t *testing.T) {
	idx := newFakeIndex()
	meta := newFakeStore()
	svc := newTestService(idx, meta)

	hits, err := svc.Recall(context.Background(), RecallRequest{
		ProfileID: "default",
		Query:     "anything",
	})
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Empty(t, meta.accessed, "no bookkeeping for empty results")
}

func TestRecallRecordsAccess(t *testing.T) {
	idx := newFakeIndex()
	idx.searchHits = []model.ScoredMemory{
		{Memory: model.Memory{ID: "id-1"}, Similarity: 0.9},
		{Memory: model.Memory{ID: "id-2"}, Similarity: 0.7},
	}
	meta := newFakeStore()
	svc := newTestService(idx, meta)

	hits, err := svc.Recall(context.Background(), RecallRequest{
		ProfileID: "default",
		Query:     "coffee",
	})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	require.Len(t, meta.accessed, 1)
	assert.Equal(t, []string{"id-1", "id-2"}, meta.accessed[0])
}

func TestForgetRequiresExactlyOneSelector(t *testing.T) {
	svc := newTestService(newFakeIndex(), newFakeStore())
	ctx := context.Background()

	_, err := svc.Forget(ctx, ForgetRequest{ProfileID: "default"})
	assert.True(t, IsInvalidRequest(err))

	_, err = svc.Forget(ctx, ForgetRequest{
		ProfileID: "default",
		MemoryID:  uuid.New().String(),
		SessionID: "s1",
	})
	assert.True(t, IsInvalidRequest(err))

	_, err = svc.Forget(ctx, ForgetRequest{
		ProfileID: "default",
		MemoryID:  "not-a-uuid",
	})
	assert.True(t, IsInvalidRequest(err))
}

func TestForgetByIDIsIdempotent(t *testing.T) {
	idx := newFakeIndex()
	meta := newFakeStore()
	svc := newTestService(idx, meta)

	res, err := svc.Store(context.Background(), StoreRequest{
		ProfileID: "default", Content: "to be forgotten", Importance: 0.5,
	})
	require.NoError(t, err)

	n, err := svc.Forget(context.Background(), ForgetRequest{ProfileID: "default", MemoryID: res.MemoryID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = svc.Forget(context.Background(), ForgetRequest{ProfileID: "default", MemoryID: res.MemoryID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestForgetByIDHonorsPinOverride(t *testing.T) {
	idx := newFakeIndex()
	meta := newFakeStore()
	svc := newTestService(idx, meta)
	id := uuid.New().String()

	pinned := &model.Memory{ID: id, ProfileID: "default", Pinned: true}
	meta.docs[id] = pinned
	idx.docs[id] = pinned

	_, err := svc.Forget(context.Background(), ForgetRequest{ProfileID: "default", MemoryID: id})
	require.True(t, IsInvalidRequest(err))
	assert.Contains(t, meta.docs, id)
	assert.Contains(t, idx.docs, id)

	n, err := svc.Forget(context.Background(), ForgetRequest{
		ProfileID: "default", MemoryID: id, IncludePinned: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NotContains(t, meta.docs, id)
	assert.NotContains(t, idx.docs, id)
}

func TestForgetBySessionPassesPinOverride(t *testing.T) {
	idx := newFakeIndex()
	meta := newFakeStore()
	svc := newTestService(idx, meta)

	meta.docs["m1"] = &model.Memory{ID: "m1", ProfileID: "default", SessionID: "s1"}
	meta.docs["m2"] = &model.Memory{ID: "m2", ProfileID: "default", SessionID: "s1", Pinned: true}

	n, err := svc.Forget(context.Background(), ForgetRequest{ProfileID: "default", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.Len(t, idx.filterDeletes, 1)
	assert.False(t, idx.filterDeletes[0].IncludePinned)

	n, err = svc.Forget(context.Background(), ForgetRequest{
		ProfileID: "default", SessionID: "s1", IncludePinned: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.Len(t, idx.filterDeletes, 2)
	assert.True(t, idx.filterDeletes[1].IncludePinned)
}

func TestForgetByCategoryAndAge(t *testing.T) {
	idx := newFakeIndex()
	meta := newFakeStore()
	svc := newTestService(idx, meta)
	now := time.Now().UTC()
	svc.nowFn = func() time.Time { return now }

	meta.docs["old"] = &model.Memory{
		ID: "old", ProfileID: "default", Category: model.CategoryFact,
		CreatedAt: now.Add(-48 * time.Hour),
	}
	meta.docs["recent"] = &model.Memory{
		ID: "recent", ProfileID: "default", Category: model.CategoryFact,
		CreatedAt: now.Add(-time.Hour),
	}
	idx.docs["old"] = meta.docs["old"]
	idx.docs["recent"] = meta.docs["recent"]

	n, err := svc.Forget(context.Background(), ForgetRequest{
		ProfileID: "default",
		Category:  model.CategoryFact,
		OlderThan: 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NotContains(t, meta.docs, "old")
	assert.Contains(t, meta.docs, "recent")
	assert.NotContains(t, idx.docs, "old")
}

func TestReflectStoresPinnedEpisode(t *testing.T) {
	idx := newFakeIndex()
	meta := newFakeStore()
	svc := newTestService(idx, meta)

	res, err := svc.Reflect(context.Background(), "default", "s1", "session covered allergy management")
	require.NoError(t, err)

	assert.Equal(t, model.CategoryEpisode, res.Category)
	assert.True(t, res.Pinned)

	stored := meta.docs[res.MemoryID]
	require.NotNil(t, stored)
	assert.Equal(t, "s1", stored.SessionID)
	assert.InDelta(t, 0.9, stored.Importance, 1e-9)
	assert.True(t, stored.Pinned)
}

func TestReflectValidation(t *testing.T) {
	svc := newTestService(newFakeIndex(), newFakeStore())

	_, err := svc.Reflect(context.Background(), "default", "", "summary")
	assert.True(t, IsInvalidRequest(err))

	_, err = svc.Reflect(context.Background(), "default", "s1", "")
	assert.True(t, IsInvalidRequest(err))
}

func TestStatsFlagsDivergence(t *testing.T) {
	idx := newFakeIndex()
	meta := newFakeStore()
	svc := newTestService(idx, meta)

	meta.stats = &model.ProfileStats{Total: 3, ByCategory: map[string]int64{"fact": 3}}
	idx.docs["only-one"] = &model.Memory{ID: "only-one"}

	res, err := svc.Stats(context.Background(), "default")
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.Total)
	assert.Equal(t, int64(1), res.VectorCount)
	assert.True(t, res.CountDivergent)
}

func TestStatsAgreementHasNoDivergence(t *testing.T) {
	idx := newFakeIndex()
	meta := newFakeStore()
	svc := newTestService(idx, meta)

	m := &model.Memory{ID: "m1", ProfileID: "default"}
	meta.docs["m1"] = m
	idx.docs["m1"] = m

	res, err := svc.Stats(context.Background(), "default")
	require.NoError(t, err)
	assert.False(t, res.CountDivergent)
}

func TestOperationsSurfaceIndexUnavailable(t *testing.T) {
	idx := newFakeIndex()
	idx.upsertErr = errors.New("connection refused")
	idx.searchErr = errors.New("connection refused")
	meta := newFakeStore()
	svc := newTestService(idx, meta)
	ctx := context.Background()

	_, err := svc.Store(ctx, StoreRequest{ProfileID: "default", Content: "x", Importance: 0.5})
	assert.True(t, IsIndexUnavailable(err))
	assert.Empty(t, meta.docs, "metadata must not be written after index failure")

	_, err = svc.Recall(ctx, RecallRequest{ProfileID: "default", Query: "x"})
	assert.True(t, IsIndexUnavailable(err))
}
