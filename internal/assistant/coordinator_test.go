package assistant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Abhi-Verma2005/oms-assistant/internal/knowledge"
	"github.com/Abhi-Verma2005/oms-assistant/internal/log"
	"github.com/Abhi-Verma2005/oms-assistant/internal/retrieval"
	"github.com/Abhi-Verma2005/oms-assistant/internal/semcache"
)

type upsertCall struct {
	userID    string
	query     string
	embedding []float32
	resp      semcache.Response
	ttl       time.Duration
}

// fakeCache records every call; RecordHit may arrive from a detached
// goroutine, so access is guarded.
type fakeCache struct {
	mu        sync.Mutex
	entry     *semcache.Entry
	found     bool
	lookupErr error
	upsertErr error
	hits      []uuid.UUID
	upserts   []upsertCall
}

func (f *fakeCache) Lookup(_ context.Context, userID, query string) (*semcache.Entry, bool, error) {
	if userID == "" {
		return nil, false, knowledge.ErrUserScope
	}
	if f.lookupErr != nil {
		return nil, false, f.lookupErr
	}
	return f.entry, f.found, nil
}

func (f *fakeCache) RecordHit(_ context.Context, entryID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = append(f.hits, entryID)
	return nil
}

func (f *fakeCache) Upsert(_ context.Context, userID, query string, queryEmbedding []float32, resp semcache.Response, ttl time.Duration) (*semcache.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, upsertCall{userID, query, queryEmbedding, resp, ttl})
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	return &semcache.Entry{ID: uuid.New(), UserID: userID}, nil
}

func (f *fakeCache) recordedUpserts() []upsertCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upsertCall(nil), f.upserts...)
}

type fakeRetriever struct {
	res *retrieval.Result
	err error
}

func (f *fakeRetriever) RetrieveContext(_ context.Context, userID, _ string) (*retrieval.Result, error) {
	if userID == "" {
		return nil, knowledge.ErrUserScope
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fakeGenerator struct {
	answer   string
	err      error
	fn       func(ctx context.Context)
	calls    int
	gotItems []retrieval.ContextItem
}

func (f *fakeGenerator) Generate(ctx context.Context, _ string, items []retrieval.ContextItem) (string, error) {
	f.calls++
	f.gotItems = items
	if f.fn != nil {
		f.fn(ctx)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func contextItem(content string, confidence float64) retrieval.ContextItem {
	return retrieval.ContextItem{
		Item: knowledge.Item{
			ID:          uuid.New(),
			UserID:      "u-1",
			Content:     content,
			ContentType: knowledge.TypeUserFact,
			CreatedAt:   time.Now(),
		},
		Tier:       2.5,
		Confidence: confidence,
		Similarity: 0.6,
	}
}

func newTestCoordinator(t *testing.T, cache QueryCache, r ContextRetriever, g Generator) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(cache, r, g, time.Hour, log.NewNop())
	if err != nil {
		t.Fatalf("NewCoordinator() = %v", err)
	}
	return c
}

func TestRespond_EmptyUserFailsClosed(t *testing.T) {
	c := newTestCoordinator(t, &fakeCache{}, &fakeRetriever{res: &retrieval.Result{}}, &fakeGenerator{answer: "x"})

	if _, err := c.Respond(context.Background(), "", "what is my name"); !errors.Is(err, knowledge.ErrUserScope) {
		t.Fatalf("Respond() error = %v, want ErrUserScope", err)
	}
}

func TestRespond_BlankQueryRejected(t *testing.T) {
	c := newTestCoordinator(t, &fakeCache{}, &fakeRetriever{res: &retrieval.Result{}}, &fakeGenerator{answer: "x"})

	if _, err := c.Respond(context.Background(), "u-1", "   "); err == nil {
		t.Fatal("Respond() with blank query should fail")
	}
}

func TestRespond_CacheHit(t *testing.T) {
	entry := &semcache.Entry{
		ID:     uuid.New(),
		UserID: "u-1",
		Response: semcache.Response{
			Answer:     "your favorite color is blue",
			Sources:    []string{"abc"},
			Confidence: 0.9,
		},
	}
	cache := &fakeCache{entry: entry, found: true}
	gen := &fakeGenerator{answer: "should not be used"}
	c := newTestCoordinator(t, cache, &fakeRetriever{res: &retrieval.Result{}}, gen)

	got, err := c.Respond(context.Background(), "u-1", "what is my favorite color?")
	if err != nil {
		t.Fatalf("Respond() = %v", err)
	}
	if !got.CacheHit {
		t.Error("CacheHit = false, want true")
	}
	if got.Answer != entry.Response.Answer {
		t.Errorf("Answer = %q, want cached answer", got.Answer)
	}
	if got.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", got.Confidence)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times on a hit, want 0", gen.calls)
	}

	c.Wait()
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if len(cache.hits) != 1 || cache.hits[0] != entry.ID {
		t.Errorf("recorded hits = %v, want exactly one for %s", cache.hits, entry.ID)
	}
}

func TestRespond_MissGeneratesAndStores(t *testing.T) {
	item := contextItem("my favorite color is blue", 0.9)
	embedding := make([]float32, knowledge.VectorDimension)
	cache := &fakeCache{}
	c := newTestCoordinator(t, cache,
		&fakeRetriever{res: &retrieval.Result{Items: []retrieval.ContextItem{item}, QueryEmbedding: embedding}},
		&fakeGenerator{answer: "blue"})

	got, err := c.Respond(context.Background(), "u-1", "what is my favorite color?")
	if err != nil {
		t.Fatalf("Respond() = %v", err)
	}
	if got.CacheHit {
		t.Error("CacheHit = true on a miss")
	}
	if got.Answer != "blue" {
		t.Errorf("Answer = %q, want %q", got.Answer, "blue")
	}
	if got.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want top item confidence 0.9", got.Confidence)
	}
	if len(got.Sources) != 1 || got.Sources[0] != item.Item.ID.String() {
		t.Errorf("Sources = %v, want the context item id", got.Sources)
	}

	ups := cache.recordedUpserts()
	if len(ups) != 1 {
		t.Fatalf("upserts = %d, want 1", len(ups))
	}
	if ups[0].userID != "u-1" {
		t.Errorf("upsert user = %q", ups[0].userID)
	}
	if len(ups[0].embedding) != int(knowledge.VectorDimension) {
		t.Error("upsert should reuse the retrieval query embedding")
	}
	if ups[0].resp.Answer != "blue" {
		t.Errorf("cached answer = %q", ups[0].resp.Answer)
	}
	if ups[0].ttl != time.Hour {
		t.Errorf("ttl = %s, want 1h", ups[0].ttl)
	}
}

func TestRespond_LookupErrorTreatedAsMiss(t *testing.T) {
	cache := &fakeCache{lookupErr: errors.New("connection refused")}
	c := newTestCoordinator(t, cache,
		&fakeRetriever{res: &retrieval.Result{}},
		&fakeGenerator{answer: "answer"})

	got, err := c.Respond(context.Background(), "u-1", "hello")
	if err != nil {
		t.Fatalf("Respond() = %v, broken cache must not fail the request", err)
	}
	if got.Answer != "answer" {
		t.Errorf("Answer = %q", got.Answer)
	}
	if len(cache.recordedUpserts()) != 1 {
		t.Error("fresh answer should still be written back")
	}
}

func TestRespond_RetrievalFailureDegrades(t *testing.T) {
	cache := &fakeCache{}
	gen := &fakeGenerator{answer: "best-effort answer"}
	c := newTestCoordinator(t, cache,
		&fakeRetriever{err: errors.New("embedding provider down")}, gen)

	got, err := c.Respond(context.Background(), "u-1", "what do you know about me?")
	if err != nil {
		t.Fatalf("Respond() = %v, degraded retrieval must not fail the request", err)
	}
	if len(gen.gotItems) != 0 {
		t.Error("generator should run with empty context in degraded mode")
	}
	if got.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0 without context", got.Confidence)
	}

	ups := cache.recordedUpserts()
	if len(ups) != 1 || ups[0].embedding != nil {
		t.Errorf("upsert embedding should be nil in degraded mode, got %v", ups)
	}
}

func TestRespond_GenerationFailureNoCacheWrite(t *testing.T) {
	cache := &fakeCache{}
	c := newTestCoordinator(t, cache,
		&fakeRetriever{res: &retrieval.Result{}},
		&fakeGenerator{err: errors.New("model overloaded")})

	_, err := c.Respond(context.Background(), "u-1", "hello")
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("Respond() error = %v, want ErrGenerationFailed", err)
	}
	if len(cache.recordedUpserts()) != 0 {
		t.Error("a failed generation must never be cached")
	}
}

func TestRespond_CancelledDuringGenerationNoStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cache := &fakeCache{}
	gen := &fakeGenerator{
		answer: "late answer",
		fn:     func(context.Context) { cancel() },
	}
	c := newTestCoordinator(t, cache, &fakeRetriever{res: &retrieval.Result{}}, gen)

	if _, err := c.Respond(ctx, "u-1", "hello"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Respond() error = %v, want context.Canceled", err)
	}
	if len(cache.recordedUpserts()) != 0 {
		t.Error("an abandoned request must not write to the cache")
	}
}

func TestRespond_UpsertFailureStillReturnsAnswer(t *testing.T) {
	cache := &fakeCache{upsertErr: errors.New("disk full")}
	c := newTestCoordinator(t, cache,
		&fakeRetriever{res: &retrieval.Result{}},
		&fakeGenerator{answer: "answer"})

	got, err := c.Respond(context.Background(), "u-1", "hello")
	if err != nil {
		t.Fatalf("Respond() = %v, cache write failure must not fail the request", err)
	}
	if got.Answer != "answer" {
		t.Errorf("Answer = %q", got.Answer)
	}
}
