// Package weaviate implements the vector index on a Weaviate instance using
// the native Go client.
package weaviate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	gql "github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/evermem/evermem/internal/model"
	"github.com/evermem/evermem/internal/vectorindex"
)

// Index is a vectorindex.Index backed by one Weaviate class per collection.
// The class is created lazily on first use with cosine distance and the
// configured dimensionality.
type Index struct {
	client  *weaviate.Client
	baseURL string // host:port without scheme
	class   string
	dims    int

	mu    sync.Mutex
	ready bool
}

// New constructs an Index against baseURL (host:port, no scheme). The
// collection name is normalized into a Weaviate class name.
func New(baseURL, collection string, dims int) (*Index, error) {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Index{client: cl, baseURL: baseURL, class: className(collection), dims: dims}, nil
}

// className normalizes a collection name ("memories" -> "Memories").
func className(collection string) string {
	if collection == "" {
		collection = "memories"
	}
	return strings.ToUpper(collection[:1]) + collection[1:]
}

// Upsert replaces any point with the same id: Weaviate object creation is not
// an upsert, so an existing object is removed first (missing ids ignored).
func (w *Index) Upsert(ctx context.Context, mem *model.Memory, vec []float32) error {
	if err := w.ensureClass(ctx); err != nil {
		return err
	}
	if len(vec) != w.dims {
		return fmt.Errorf("weaviate: vector has %d dimensions, index expects %d", len(vec), w.dims)
	}

	if err := w.client.Data().Deleter().WithClassName(w.class).WithID(mem.ID).Do(ctx); err != nil && !isNotFound(err) {
		return err
	}

	props := map[string]interface{}{
		"profileId":  mem.ProfileID,
		"content":    mem.Content,
		"category":   string(mem.Category),
		"tags":       mem.Tags,
		"sessionId":  mem.SessionID,
		"pinned":     mem.Pinned,
		"importance": mem.Importance,
		"createdAt":  mem.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if mem.ExpiresAt != nil {
		props["expiresAt"] = mem.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := w.client.Data().Creator().
		WithClassName(w.class).
		WithID(mem.ID).
		WithProperties(props).
		WithVector(vec).
		Do(ctx)
	return err
}

// Search runs a filtered nearVector query. The hard MinScore cutoff maps to a
// maximum cosine distance of 1-MinScore; similarity is recovered from the
// returned distance.
func (w *Index) Search(ctx context.Context, vec []float32, q vectorindex.SearchQuery) ([]model.ScoredMemory, error) {
	if err := w.ensureClass(ctx); err != nil {
		return nil, err
	}
	if q.ProfileID == "" {
		return nil, errors.New("weaviate: profile id is required for search")
	}

	nv := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vec).
		WithDistance(float32(1 - q.MinScore))

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	req := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithNearVector(nv).
		WithWhere(searchWhere(q, time.Now().UTC())).
		WithLimit(limit).
		WithFields(
			gql.Field{Name: "profileId"},
			gql.Field{Name: "content"},
			gql.Field{Name: "category"},
			gql.Field{Name: "tags"},
			gql.Field{Name: "sessionId"},
			gql.Field{Name: "pinned"},
			gql.Field{Name: "importance"},
			gql.Field{Name: "createdAt"},
			gql.Field{Name: "expiresAt"},
			gql.Field{Name: "_additional", Fields: []gql.Field{{Name: "id"}, {Name: "distance"}}},
		)

	resp, err := req.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp.Errors))
	}

	getData, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return []model.ScoredMemory{}, nil
	}
	raw, ok := getData[w.class].([]interface{})
	if !ok {
		return []model.ScoredMemory{}, nil
	}

	out := make([]model.ScoredMemory, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		hit := model.ScoredMemory{
			Memory: model.Memory{
				ProfileID:  stringField(m, "profileId"),
				Content:    stringField(m, "content"),
				Category:   model.Category(stringField(m, "category")),
				SessionID:  stringField(m, "sessionId"),
				Tags:       stringSlice(m["tags"]),
				Pinned:     boolField(m, "pinned"),
				Importance: floatField(m, "importance"),
			},
		}
		if t, err := time.Parse(time.RFC3339Nano, stringField(m, "createdAt")); err == nil {
			hit.CreatedAt = t
		}
		if s := stringField(m, "expiresAt"); s != "" {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				hit.ExpiresAt = &t
			}
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			hit.ID = stringField(add, "id")
			hit.Similarity = 1 - floatField(add, "distance")
		}
		out = append(out, hit)
	}
	return out, nil
}

// Delete removes points by id. Ids that no longer exist simply do not match
// the batch filter, so the call is idempotent.
func (w *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := w.ensureClass(ctx); err != nil {
		return err
	}
	where := filters.Where().
		WithPath([]string{"id"}).
		WithOperator(filters.ContainsAny).
		WithValueText(ids...)
	_, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(w.class).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	return err
}

// DeleteByFilter bulk-deletes points matching the filter, always scoped to a
// profile. Pinned points survive unless IncludePinned is set.
func (w *Index) DeleteByFilter(ctx context.Context, f vectorindex.Filter) error {
	if f.ProfileID == "" {
		return errors.New("weaviate: profile id is required for filtered delete")
	}
	if err := w.ensureClass(ctx); err != nil {
		return err
	}

	conds := []*filters.WhereBuilder{
		filters.Where().WithPath([]string{"profileId"}).WithOperator(filters.Equal).WithValueText(f.ProfileID),
	}
	if f.SessionID != "" {
		conds = append(conds, filters.Where().WithPath([]string{"sessionId"}).WithOperator(filters.Equal).WithValueText(f.SessionID))
	}
	if f.Category != "" {
		conds = append(conds, filters.Where().WithPath([]string{"category"}).WithOperator(filters.Equal).WithValueText(string(f.Category)))
	}
	if !f.IncludePinned {
		conds = append(conds, filters.Where().WithPath([]string{"pinned"}).WithOperator(filters.Equal).WithValueBoolean(false))
	}

	_, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(w.class).
		WithWhere(filters.Where().WithOperator(filters.And).WithOperands(conds)).
		WithOutput("minimal").
		Do(ctx)
	return err
}

// Count returns the number of points stored for a profile.
func (w *Index) Count(ctx context.Context, profileID string) (int64, error) {
	if err := w.ensureClass(ctx); err != nil {
		return 0, err
	}
	where := filters.Where().WithPath([]string{"profileId"}).WithOperator(filters.Equal).WithValueText(profileID)
	resp, err := w.client.GraphQL().Aggregate().
		WithClassName(w.class).
		WithWhere(where).
		WithFields(gql.Field{Name: "meta", Fields: []gql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(resp.Errors) > 0 {
		return 0, fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp.Errors))
	}

	agg, ok := resp.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	arr, ok := agg[w.class].([]interface{})
	if !ok || len(arr) == 0 {
		return 0, nil
	}
	entry, ok := arr[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := entry["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	return int64(floatField(meta, "count")), nil
}

// HealthPing calls GET /v1/meta and expects 200 OK.
func (w *Index) HealthPing(ctx context.Context) error {
	url := w.baseURL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/v1/meta", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("weaviate status %d", resp.StatusCode)
	}
	return nil
}

// searchWhere builds the AND filter for a query: mandatory profile scope,
// exclusion of expired points, and the optional caller filters.
func searchWhere(q vectorindex.SearchQuery, now time.Time) *filters.WhereBuilder {
	conds := []*filters.WhereBuilder{
		filters.Where().WithPath([]string{"profileId"}).WithOperator(filters.Equal).WithValueText(q.ProfileID),
		filters.Where().WithOperator(filters.Or).WithOperands([]*filters.WhereBuilder{
			filters.Where().WithPath([]string{"expiresAt"}).WithOperator(filters.IsNull).WithValueBoolean(true),
			filters.Where().WithPath([]string{"expiresAt"}).WithOperator(filters.GreaterThan).WithValueDate(now),
		}),
	}
	if q.Category != "" {
		conds = append(conds, filters.Where().WithPath([]string{"category"}).WithOperator(filters.Equal).WithValueText(string(q.Category)))
	}
	if q.SessionID != "" {
		conds = append(conds, filters.Where().WithPath([]string{"sessionId"}).WithOperator(filters.Equal).WithValueText(q.SessionID))
	}
	if len(q.Tags) > 0 {
		conds = append(conds, filters.Where().WithPath([]string{"tags"}).WithOperator(filters.ContainsAny).WithValueText(q.Tags...))
	}
	if q.CreatedAfter != nil {
		conds = append(conds, filters.Where().WithPath([]string{"createdAt"}).WithOperator(filters.GreaterThanEqual).WithValueDate(q.CreatedAfter.UTC()))
	}
	return filters.Where().WithOperator(filters.And).WithOperands(conds)
}

func isNotFound(err error) bool {
	var ce *fault.WeaviateClientError
	return errors.As(err, &ce) && ce.StatusCode == http.StatusNotFound
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func floatField(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func stringSlice(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// formatGraphQLErrors returns a compact string with messages extracted for logging.
func formatGraphQLErrors(errs interface{}) string {
	if b, err := json.Marshal(errs); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", errs)
}
