// Package ollama implements the embedding provider against a local Ollama
// instance. Useful for development without an external API credential.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/evermem/evermem/internal/embeddings"
)

// Config carries the provider settings read at startup.
type Config struct {
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
	Policy     embeddings.Policy
}

// Provider calls the Ollama embeddings HTTP API.
type Provider struct {
	client *resty.Client
	model  string
	dims   int
	policy embeddings.Policy
}

// New constructs a Provider against baseURL (default http://localhost:11434).
func New(cfg Config) *Provider {
	base := cfg.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = embeddings.DefaultPolicy(nil)
	}
	if policy.Retryable == nil {
		policy.Retryable = retryable
	}

	c := resty.New().
		SetBaseURL(base).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &Provider{client: c, model: cfg.Model, dims: cfg.Dimensions, policy: policy}
}

// Dimensions returns the configured vector dimensionality.
func (p *Provider) Dimensions() int { return p.dims }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error"`
}

// statusError distinguishes HTTP status failures from transport failures so
// the retry predicate can treat 4xx as permanent.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ollama status %d: %s", e.code, e.body)
}

// Embed generates a dense vector for the given text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("ollama: empty text")
	}

	var out embedResponse
	err := p.policy.Do(ctx, func() error {
		resp, err := p.client.R().
			SetContext(ctx).
			SetBody(&embedRequest{Model: p.model, Prompt: text}).
			SetResult(&out).
			// Ollama does not always set a JSON content type; without the
			// hint resty skips unmarshalling and out stays empty.
			ForceContentType("application/json").
			Post("/api/embeddings")
		if err != nil {
			return fmt.Errorf("ollama request: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return &statusError{code: resp.StatusCode(), body: resp.String()}
		}
		if out.Error != "" {
			return fmt.Errorf("ollama: %s", out.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama: response carried no embedding")
	}
	if p.dims > 0 && len(out.Embedding) != p.dims {
		return nil, fmt.Errorf("ollama: got %d dimensions, want %d", len(out.Embedding), p.dims)
	}

	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// EmbedBatch embeds texts one at a time; the Ollama API has no batch
// endpoint, so ordering is preserved trivially.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("ollama: no texts provided")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// HealthPing checks /api/tags for the configured model's presence.
func (p *Provider) HealthPing(ctx context.Context) error {
	var data struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&data).
		ForceContentType("application/json").
		Get("/api/tags")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("ollama status %d", resp.StatusCode())
	}
	want := strings.Split(p.model, ":")[0]
	for _, m := range data.Models {
		if strings.Split(m.Name, ":")[0] == want {
			return nil
		}
	}
	return fmt.Errorf("ollama model %s not found", want)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}
