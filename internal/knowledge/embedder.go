package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// ErrEmbeddingUnavailable wraps provider and network failures from the
// embedding backend. Callers decide the degradation policy; this package
// never fabricates vectors.
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// Provider generates a fixed-width vector for a piece of text.
// Defined by the consumer (retriever, ingester) rather than the
// implementation, like http.RoundTripper or io.Reader.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// retryBackoff is the pause before the single retry attempt.
const retryBackoff = 500 * time.Millisecond

// Embedder adapts a Genkit ai.Embedder to the Provider contract.
//
// It pins output dimensionality to VectorDimension, rate-limits calls to
// stay under provider quotas, and retries once with backoff. Any remaining
// failure is returned wrapped in ErrEmbeddingUnavailable, never swallowed.
type Embedder struct {
	embedder ai.Embedder
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewEmbedder creates an Embedder.
// rps bounds calls per second; rps <= 0 disables rate limiting.
func NewEmbedder(embedder ai.Embedder, rps float64, logger *slog.Logger) (*Embedder, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}

	return &Embedder{embedder: embedder, limiter: limiter, logger: logger}, nil
}

// Embed generates a vector for the given text.
// Returns ErrEmbeddingUnavailable-wrapped errors on provider failure.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %w", ErrEmbeddingUnavailable, err)
	}

	vec, err := e.embedOnce(ctx, text)
	if err == nil {
		return vec, nil
	}

	// Context errors are not worth retrying; the caller's deadline governs.
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}

	e.logger.Debug("embedding failed, retrying once", "error", err)

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, ctx.Err())
	case <-time.After(retryBackoff):
	}

	vec, retryErr := e.embedOnce(ctx, text)
	if retryErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, retryErr)
	}
	return vec, nil
}

// embedOnce performs a single embedding call with the dimensionality pinned
// to VectorDimension.
func (e *Embedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	dim := VectorDimension
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Embeddings[0].Embedding, nil
}
