// Package openrouter implements the embedding provider against an
// OpenAI-compatible embeddings endpoint (OpenRouter by default).
package openrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/evermem/evermem/internal/embeddings"
)

// DefaultBaseURL is the OpenRouter OpenAI-compatible API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Config carries the provider settings read at startup.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Dimensions   int
	MaxBatchSize int
	Timeout      time.Duration
	Policy       embeddings.Policy
}

// Provider calls the embeddings endpoint with the injected retry policy.
type Provider struct {
	client   *openai.Client
	model    string
	dims     int
	maxBatch int
	policy   embeddings.Policy
}

// New constructs a Provider. Zero-valued optional fields fall back to the
// contract defaults: 100-item batches, 15s request timeout, 3-attempt retry.
func New(cfg Config) *Provider {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 100
	}
	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = embeddings.DefaultPolicy(nil)
	}
	if policy.Retryable == nil {
		policy.Retryable = Retryable
	}

	cc := openai.DefaultConfig(cfg.APIKey)
	cc.BaseURL = base
	cc.HTTPClient = &http.Client{Timeout: timeout}

	return &Provider{
		client:   openai.NewClientWithConfig(cc),
		model:    cfg.Model,
		dims:     cfg.Dimensions,
		maxBatch: maxBatch,
		policy:   policy,
	}
}

// Dimensions returns the configured vector dimensionality.
func (p *Provider) Dimensions() int { return p.dims }

// Embed generates a vector for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates vectors for up to MaxBatchSize texts in one call.
// Results are re-sorted by the provider's declared index field so that
// output order always matches input order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("openrouter: no texts provided")
	}
	if len(texts) > p.maxBatch {
		return nil, &BatchTooLargeError{Size: len(texts), Limit: p.maxBatch}
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	}
	// Only text-embedding-3 class models accept an explicit dimension.
	if strings.Contains(p.model, "text-embedding-3") {
		req.Dimensions = p.dims
	}

	var resp openai.EmbeddingResponse
	err := p.policy.Do(ctx, func() error {
		var callErr error
		resp, callErr = p.client.CreateEmbeddings(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.New("openrouter: embedding count does not match input count")
	}

	data := make([]openai.Embedding, len(resp.Data))
	copy(data, resp.Data)
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// HealthPing verifies the credential is present and the endpoint answers a
// minimal embedding request.
func (p *Provider) HealthPing(ctx context.Context) error {
	_, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{"ping"},
		Model: openai.EmbeddingModel(p.model),
	})
	return err
}

// BatchTooLargeError reports a batch beyond the provider limit.
type BatchTooLargeError struct {
	Size  int
	Limit int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("openrouter: batch of %d exceeds provider limit of %d", e.Size, e.Limit)
}

// Retryable classifies provider failures. HTTP 5xx, rate limiting and
// transport errors are transient; any other 4xx fails immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	// Connection resets, DNS failures, timeouts.
	return true
}
