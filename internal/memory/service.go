// Package memory orchestrates the embedding client, the vector index and the
// metadata store behind the five memory operations.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evermem/evermem/internal/embeddings"
	"github.com/evermem/evermem/internal/metastore"
	"github.com/evermem/evermem/internal/metrics"
	"github.com/evermem/evermem/internal/model"
	"github.com/evermem/evermem/internal/vectorindex"
)

const (
	// previewRunes bounds the content preview returned by Store.
	previewRunes = 100

	// reflectImportance pins session capstones near the top of the scale so
	// decay and staleness eviction never reach them.
	reflectImportance = 0.9

	defaultOpTimeout = 10 * time.Second
)

// Service is the unit of atomicity callers see, even though each operation
// spans two stores. All operations are safe for concurrent use.
type Service struct {
	emb  embeddings.Provider
	idx  vectorindex.Index
	meta metastore.Store
	log  zerolog.Logger

	opTimeout time.Duration
	nowFn     func() time.Time

	// syncBookkeeping makes recall's access bookkeeping synchronous. Tests
	// only; production recall never waits on it.
	syncBookkeeping bool
}

// NewService wires a Service from its three collaborators.
func NewService(emb embeddings.Provider, idx vectorindex.Index, meta metastore.Store, log zerolog.Logger) *Service {
	return &Service{
		emb:       emb,
		idx:       idx,
		meta:      meta,
		log:       log,
		opTimeout: defaultOpTimeout,
		nowFn:     time.Now,
	}
}

// StoreRequest creates one memory. ProfileID is mandatory; TTL of zero means
// the memory never expires.
type StoreRequest struct {
	ProfileID  string
	Content    string
	Category   model.Category
	Tags       []string
	Importance float64
	SessionID  string
	Pinned     bool
	TTL        time.Duration
}

// StoreResult reports the created memory.
type StoreResult struct {
	MemoryID       string         `json:"memoryId"`
	ContentPreview string         `json:"contentPreview"`
	Category       model.Category `json:"category"`
	Pinned         bool           `json:"pinned"`
	ExpiresAt      *time.Time     `json:"expiresAt,omitempty"`
}

// Store embeds the content, writes the vector first and the metadata record
// second. If the metadata write fails after a successful index write, the
// index write is compensated with a best-effort delete before the error is
// reported: a partial success is never reported as a success.
func (s *Service) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	if req.ProfileID == "" {
		return nil, NewInvalidRequest("profile_id", "required")
	}
	if req.Content == "" {
		return nil, NewInvalidRequest("content", "required")
	}
	if req.Category == "" {
		req.Category = model.CategoryFact
	}
	if !model.ValidCategory(req.Category) {
		return nil, NewInvalidRequest("category", "unknown category "+string(req.Category))
	}
	if req.Importance < 0 || req.Importance > 1 {
		return nil, NewInvalidRequest("importance", "must be in [0,1]")
	}
	if req.TTL < 0 {
		return nil, NewInvalidRequest("ttl", "must not be negative")
	}

	vec, err := s.embed(ctx, req.Content)
	if err != nil {
		return nil, err
	}

	now := s.nowFn().UTC()
	mem := &model.Memory{
		ID:             uuid.New().String(),
		ProfileID:      req.ProfileID,
		Content:        req.Content,
		Category:       req.Category,
		Tags:           req.Tags,
		Importance:     req.Importance,
		Pinned:         req.Pinned,
		SessionID:      req.SessionID,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if req.TTL > 0 {
		exp := now.Add(req.TTL)
		mem.ExpiresAt = &exp
	}

	ictx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.idx.Upsert(ictx, mem, vec); err != nil {
		return nil, &IndexUnavailableError{Op: "upsert", Cause: err}
	}

	mctx, cancel2 := context.WithTimeout(ctx, s.opTimeout)
	defer cancel2()
	if err := s.meta.Insert(mctx, mem); err != nil {
		// Compensating delete so the index does not keep a vector the
		// metadata store never learned about. Best effort: log and move on
		// if the compensation itself fails; the stats divergence diagnostic
		// picks it up later.
		cctx, cancel3 := context.WithTimeout(context.WithoutCancel(ctx), s.opTimeout)
		defer cancel3()
		if derr := s.idx.Delete(cctx, []string{mem.ID}); derr != nil {
			s.log.Error().Err(derr).Str("memoryId", mem.ID).Msg("compensating index delete failed")
		}
		return nil, &MetadataUnavailableError{Op: "insert", Cause: err}
	}

	metrics.MemoriesStored.Inc()
	return &StoreResult{
		MemoryID:       mem.ID,
		ContentPreview: contentPreview(req.Content),
		Category:       mem.Category,
		Pinned:         mem.Pinned,
		ExpiresAt:      mem.ExpiresAt,
	}, nil
}

// RecallRequest is a similarity search. TimeRange of zero means unbounded.
type RecallRequest struct {
	ProfileID     string
	Query         string
	Category      model.Category
	Tags          []string
	SessionID     string
	TimeRange     time.Duration
	Limit         int
	MinSimilarity float64
}

// Recall embeds the query and searches the index, then records access
// bookkeeping asynchronously: a bookkeeping failure never invalidates the
// search result. An empty result is success.
func (s *Service) Recall(ctx context.Context, req RecallRequest) ([]model.ScoredMemory, error) {
	if req.ProfileID == "" {
		return nil, NewInvalidRequest("profile_id", "required")
	}
	if req.Query == "" {
		return nil, NewInvalidRequest("query", "required")
	}
	if req.Category != "" && !model.ValidCategory(req.Category) {
		return nil, NewInvalidRequest("category", "unknown category "+string(req.Category))
	}

	vec, err := s.embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	q := vectorindex.SearchQuery{
		ProfileID: req.ProfileID,
		Category:  req.Category,
		Tags:      req.Tags,
		SessionID: req.SessionID,
		Limit:     req.Limit,
		MinScore:  req.MinSimilarity,
	}
	if req.TimeRange > 0 {
		cutoff := s.nowFn().UTC().Add(-req.TimeRange)
		q.CreatedAfter = &cutoff
	}

	ictx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	hits, err := s.idx.Search(ictx, vec, q)
	if err != nil {
		return nil, &IndexUnavailableError{Op: "search", Cause: err}
	}

	if len(hits) > 0 {
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
		if s.syncBookkeeping {
			s.recordAccess(ids)
		} else {
			go s.recordAccess(ids)
		}
	}

	metrics.Recalls.Inc()
	return hits, nil
}

// recordAccess is best-effort: failures are logged, never surfaced.
func (s *Service) recordAccess(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	if err := s.meta.RecordAccess(ctx, ids, s.nowFn().UTC()); err != nil {
		s.log.Warn().Err(err).Int("count", len(ids)).Msg("access bookkeeping failed")
	}
}

// ForgetRequest deletes by exactly one selector: MemoryID, SessionID, or a
// category/age filter (Category and/or OlderThan). Pinned memories need
// IncludePinned regardless of selector.
type ForgetRequest struct {
	ProfileID     string
	MemoryID      string
	SessionID     string
	Category      model.Category
	OlderThan     time.Duration
	IncludePinned bool
}

// Forget removes memories from both stores, index first. Supplying no
// selector is a caller error: it fails fast rather than deleting everything.
// Deleting ids that no longer exist reports zero, not an error.
func (s *Service) Forget(ctx context.Context, req ForgetRequest) (int64, error) {
	if req.ProfileID == "" {
		return 0, NewInvalidRequest("profile_id", "required")
	}

	selectors := 0
	if req.MemoryID != "" {
		selectors++
	}
	if req.SessionID != "" {
		selectors++
	}
	if req.Category != "" || req.OlderThan > 0 {
		selectors++
	}
	if selectors == 0 {
		return 0, NewInvalidRequest("filter", "one of memory_id, session_id, or category/older_than is required")
	}
	if selectors > 1 {
		return 0, NewInvalidRequest("filter", "memory_id, session_id and category/older_than are mutually exclusive")
	}

	switch {
	case req.MemoryID != "":
		if _, err := uuid.Parse(req.MemoryID); err != nil {
			return 0, NewInvalidRequest("memory_id", "malformed id")
		}
		return s.deleteByID(ctx, req.MemoryID, req.IncludePinned)
	case req.SessionID != "":
		return s.deleteBySession(ctx, req.ProfileID, req.SessionID, req.IncludePinned)
	default:
		return s.deleteByFilter(ctx, req)
	}
}

func (s *Service) deleteByID(ctx context.Context, id string, includePinned bool) (int64, error) {
	if !includePinned {
		pctx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
		pinned, err := s.meta.IsPinned(pctx, id)
		if err != nil {
			return 0, &MetadataUnavailableError{Op: "isPinned", Cause: err}
		}
		if pinned {
			return 0, NewInvalidRequest("include_pinned", "memory is pinned; set include_pinned to delete it")
		}
	}

	ictx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.idx.Delete(ictx, []string{id}); err != nil {
		return 0, &IndexUnavailableError{Op: "delete", Cause: err}
	}
	mctx, cancel2 := context.WithTimeout(ctx, s.opTimeout)
	defer cancel2()
	n, err := s.meta.Delete(mctx, []string{id})
	if err != nil {
		return 0, &MetadataUnavailableError{Op: "delete", Cause: err}
	}
	metrics.MemoriesForgotten.Add(float64(n))
	return n, nil
}

func (s *Service) deleteBySession(ctx context.Context, profileID, sessionID string, includePinned bool) (int64, error) {
	ictx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	f := vectorindex.Filter{ProfileID: profileID, SessionID: sessionID, IncludePinned: includePinned}
	if err := s.idx.DeleteByFilter(ictx, f); err != nil {
		return 0, &IndexUnavailableError{Op: "deleteByFilter", Cause: err}
	}

	mctx, cancel2 := context.WithTimeout(ctx, s.opTimeout)
	defer cancel2()
	ids, err := s.meta.DeleteBySession(mctx, profileID, sessionID, includePinned)
	if err != nil {
		return 0, &MetadataUnavailableError{Op: "deleteBySession", Cause: err}
	}
	metrics.MemoriesForgotten.Add(float64(len(ids)))
	return int64(len(ids)), nil
}

func (s *Service) deleteByFilter(ctx context.Context, req ForgetRequest) (int64, error) {
	filter := metastore.ForgetFilter{
		Category:      req.Category,
		IncludePinned: req.IncludePinned,
	}
	if req.OlderThan > 0 {
		cutoff := s.nowFn().UTC().Add(-req.OlderThan)
		filter.OlderThan = &cutoff
	}

	fctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	ids, err := s.meta.FindByFilter(fctx, req.ProfileID, filter)
	if err != nil {
		return 0, &MetadataUnavailableError{Op: "findByFilter", Cause: err}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	ictx, cancel2 := context.WithTimeout(ctx, s.opTimeout)
	defer cancel2()
	if err := s.idx.Delete(ictx, ids); err != nil {
		return 0, &IndexUnavailableError{Op: "delete", Cause: err}
	}

	mctx, cancel3 := context.WithTimeout(ctx, s.opTimeout)
	defer cancel3()
	n, err := s.meta.Delete(mctx, ids)
	if err != nil {
		return 0, &MetadataUnavailableError{Op: "delete", Cause: err}
	}
	metrics.MemoriesForgotten.Add(float64(n))
	return n, nil
}

// Reflect stores a durable session capstone: category episode, high
// importance, pinned, so routine cleanup never touches it.
func (s *Service) Reflect(ctx context.Context, profileID, sessionID, summary string) (*StoreResult, error) {
	if sessionID == "" {
		return nil, NewInvalidRequest("session_id", "required")
	}
	if summary == "" {
		return nil, NewInvalidRequest("summary", "required")
	}
	return s.Store(ctx, StoreRequest{
		ProfileID:  profileID,
		Content:    summary,
		Category:   model.CategoryEpisode,
		Importance: reflectImportance,
		SessionID:  sessionID,
		Pinned:     true,
	})
}

// StatsResult pairs the metadata store's aggregates with the index's point
// count. A disagreement between Total and VectorCount is surfaced as a
// diagnostic, never silently reconciled.
type StatsResult struct {
	model.ProfileStats
	VectorCount    int64 `json:"vectorCount"`
	CountDivergent bool  `json:"countDivergent,omitempty"`
}

// Stats aggregates both stores' views of a profile.
func (s *Service) Stats(ctx context.Context, profileID string) (*StatsResult, error) {
	if profileID == "" {
		return nil, NewInvalidRequest("profile_id", "required")
	}

	mctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	st, err := s.meta.Stats(mctx, profileID)
	if err != nil {
		return nil, &MetadataUnavailableError{Op: "stats", Cause: err}
	}

	ictx, cancel2 := context.WithTimeout(ctx, s.opTimeout)
	defer cancel2()
	vc, err := s.idx.Count(ictx, profileID)
	if err != nil {
		return nil, &IndexUnavailableError{Op: "count", Cause: err}
	}

	res := &StatsResult{ProfileStats: *st, VectorCount: vc}
	if vc != st.Total {
		res.CountDivergent = true
		s.log.Warn().Str("profileId", profileID).
			Int64("metadataCount", st.Total).Int64("vectorCount", vc).
			Msg("store counts diverge")
	}
	return res, nil
}

// embed wraps provider failures in ProviderError, preserving the attempt
// count when the retry budget was exhausted.
func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.emb.Embed(ctx, text)
	if err != nil {
		attempts := 1
		var ex *embeddings.ExhaustedError
		if errors.As(err, &ex) {
			attempts = ex.Attempts
		}
		return nil, &ProviderError{Attempts: attempts, Cause: err}
	}
	return vec, nil
}

func contentPreview(content string) string {
	r := []rune(content)
	if len(r) <= previewRunes {
		return content
	}
	return string(r[:previewRunes]) + "..."
}
