// Package embeddings defines the embedding provider contract and the retry
// policy shared by its implementations.
package embeddings

import "context"

// Provider produces vector representations for text.
//
// EmbedBatch is order-preserving: output[i] is the vector for texts[i]
// regardless of the order the provider answered in. Implementations bound the
// batch size; callers must not assume unlimited batching. Providers do not
// cache embeddings.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// HealthPinger is optionally implemented by a Provider to expose a cheap
// connectivity probe. Returns nil when healthy.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}
