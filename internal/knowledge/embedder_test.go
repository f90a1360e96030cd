package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"

	"github.com/Abhi-Verma2005/oms-assistant/internal/log"
)

// scriptedEmbedder fails the first failN calls, then returns a fixed vector.
type scriptedEmbedder struct {
	failN int
	calls int
}

func (e *scriptedEmbedder) Name() string            { return "scripted-embedder" }
func (e *scriptedEmbedder) Register(_ api.Registry) {}

func (e *scriptedEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	e.calls++
	if e.calls <= e.failN {
		return nil, errors.New("backend overloaded")
	}
	vec := make([]float32, VectorDimension)
	vec[0] = 1
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i := range req.Input {
		embeddings[i] = &ai.Embedding{Embedding: vec}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func TestEmbedder_Success(t *testing.T) {
	e, err := NewEmbedder(&scriptedEmbedder{}, 0, log.NewNop())
	if err != nil {
		t.Fatalf("NewEmbedder() = %v", err)
	}

	vec, err := e.Embed(context.Background(), "what is my favorite color?")
	if err != nil {
		t.Fatalf("Embed() = %v", err)
	}
	if len(vec) != int(VectorDimension) {
		t.Errorf("Embed() dimension = %d, want %d", len(vec), VectorDimension)
	}
}

func TestEmbedder_EmptyText(t *testing.T) {
	e, _ := NewEmbedder(&scriptedEmbedder{}, 0, log.NewNop())
	if _, err := e.Embed(context.Background(), ""); err == nil {
		t.Fatal("Embed(\"\") accepted empty text")
	}
}

func TestEmbedder_RetriesOnce(t *testing.T) {
	backend := &scriptedEmbedder{failN: 1}
	e, _ := NewEmbedder(backend, 0, log.NewNop())

	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() = %v, want recovery after one retry", err)
	}
	if len(vec) == 0 {
		t.Fatal("Embed() returned empty vector")
	}
	if backend.calls != 2 {
		t.Errorf("backend calls = %d, want 2", backend.calls)
	}
}

func TestEmbedder_GivesUpAfterRetry(t *testing.T) {
	backend := &scriptedEmbedder{failN: 10}
	e, _ := NewEmbedder(backend, 0, log.NewNop())

	_, err := e.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("Embed() = %v, want ErrEmbeddingUnavailable", err)
	}
	if backend.calls != 2 {
		t.Errorf("backend calls = %d, want exactly 2 (one retry)", backend.calls)
	}
}

func TestEmbedder_CancelledContext(t *testing.T) {
	backend := &scriptedEmbedder{failN: 10}
	e, _ := NewEmbedder(backend, 0, log.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Embed(ctx, "hello")
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("Embed() with cancelled ctx = %v, want ErrEmbeddingUnavailable", err)
	}
}

func TestNewEmbedder_NilBackend(t *testing.T) {
	if _, err := NewEmbedder(nil, 0, log.NewNop()); err == nil {
		t.Fatal("NewEmbedder(nil) accepted nil backend")
	}
}
