package weaviate

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ensureClass creates the collection class on first use: cosine distance,
// vectorizer disabled (vectors are supplied by the embedding client), and the
// payload properties the search filters need. Safe to call concurrently; the
// check re-runs until a creation attempt succeeds so a temporarily
// unreachable index does not wedge the adapter.
func (w *Index) ensureClass(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ready {
		return nil
	}

	ex, err := w.client.Schema().ClassGetter().WithClassName(w.class).Do(ctx)
	if err == nil && ex != nil {
		w.ready = true
		return nil
	}

	desired := &models.Class{
		Class:      w.class,
		Vectorizer: "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{Name: "profileId", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "category", DataType: []string{"text"}},
			{Name: "tags", DataType: []string{"text[]"}},
			{Name: "sessionId", DataType: []string{"text"}},
			{Name: "pinned", DataType: []string{"boolean"}},
			{Name: "importance", DataType: []string{"number"}},
			{Name: "createdAt", DataType: []string{"date"}},
			{Name: "expiresAt", DataType: []string{"date"}},
		},
	}
	if err := w.client.Schema().ClassCreator().WithClass(desired).Do(ctx); err != nil {
		return err
	}
	w.ready = true
	return nil
}
