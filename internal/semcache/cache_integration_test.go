//go:build integration

package semcache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Abhi-Verma2005/oms-assistant/internal/semcache"
	"github.com/Abhi-Verma2005/oms-assistant/internal/testutil"
)

func newCache(t *testing.T) *semcache.Cache {
	t.Helper()
	db := testutil.SetupTestDB(t)
	cache, err := semcache.New(db.Pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cache
}

func TestCacheMissThenHit(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	_, found, err := cache.Lookup(ctx, "alice", "what is my favorite color?")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found {
		t.Fatal("hit on empty cache")
	}

	resp := semcache.Response{Answer: "Your favorite color is teal.", Confidence: 0.9}
	if _, err := cache.Upsert(ctx, "alice", "what is my favorite color?", nil, resp, time.Hour); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	entry, found, err := cache.Lookup(ctx, "alice", "What Is My Favorite Color?")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found {
		t.Fatal("miss after upsert; normalization should make casing irrelevant")
	}
	if entry.Response.Answer != resp.Answer {
		t.Errorf("answer = %q, want %q", entry.Response.Answer, resp.Answer)
	}
}

func TestCacheScopedToUser(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	resp := semcache.Response{Answer: "teal"}
	if _, err := cache.Upsert(ctx, "alice", "favorite color?", nil, resp, time.Hour); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	_, found, err := cache.Lookup(ctx, "bob", "favorite color?")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found {
		t.Fatal("bob hit alice's cache entry")
	}
}

// Expired entries are filtered at lookup time even before any sweep runs.
func TestCacheLazyExpiry(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	resp := semcache.Response{Answer: "stale"}
	if _, err := cache.Upsert(ctx, "alice", "q", nil, resp, time.Millisecond); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	_, found, err := cache.Lookup(ctx, "alice", "q")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found {
		t.Fatal("expired entry served")
	}

	removed, err := cache.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
}

// Concurrent misses for the same normalized query must converge onto a
// single row rather than erroring on the unique constraint.
func TestCacheConcurrentUpsertsConverge(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := semcache.Response{Answer: "converged"}
			if _, err := cache.Upsert(ctx, "alice", "same question", nil, resp, time.Hour); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Upsert: %v", err)
	}

	entry, found, err := cache.Lookup(ctx, "alice", "same question")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found {
		t.Fatal("no entry after concurrent upserts")
	}
	if entry.Response.Answer != "converged" {
		t.Errorf("answer = %q", entry.Response.Answer)
	}
}

func TestCacheRecordHit(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	entry, err := cache.Upsert(ctx, "alice", "q", nil, semcache.Response{Answer: "a"}, time.Hour)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if entry.HitCount != 0 {
		t.Fatalf("fresh entry hit count = %d, want 0", entry.HitCount)
	}

	if err := cache.RecordHit(ctx, entry.ID); err != nil {
		t.Fatalf("RecordHit: %v", err)
	}
	if err := cache.RecordHit(ctx, entry.ID); err != nil {
		t.Fatalf("RecordHit: %v", err)
	}

	after, found, err := cache.Lookup(ctx, "alice", "q")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found {
		t.Fatal("entry vanished")
	}
	if after.HitCount != 2 {
		t.Errorf("hit count = %d, want 2", after.HitCount)
	}
	if after.LastHit == nil {
		t.Error("LastHit not set after RecordHit")
	}
}

// An upsert for an existing (user, query) pair refreshes the answer and
// the expiry instead of accumulating rows.
func TestCacheUpsertRefreshes(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	first, err := cache.Upsert(ctx, "alice", "q", nil, semcache.Response{Answer: "old"}, time.Hour)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	second, err := cache.Upsert(ctx, "alice", "q", nil, semcache.Response{Answer: "new"}, 2*time.Hour)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("refresh created a new row: %v != %v", second.ID, first.ID)
	}
	if second.Response.Answer != "new" {
		t.Errorf("answer = %q, want %q", second.Response.Answer, "new")
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Errorf("expiry not extended: %v <= %v", second.ExpiresAt, first.ExpiresAt)
	}
}

func TestCacheStoresQueryEmbedding(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	vec, err := testutil.DeterministicEmbedder{}.Embed(ctx, "embedded question")
	if err != nil {
		t.Fatalf("embedding: %v", err)
	}

	if _, err := cache.Upsert(ctx, "alice", "embedded question", vec, semcache.Response{Answer: "a"}, time.Hour); err != nil {
		t.Fatalf("Upsert with embedding: %v", err)
	}

	_, found, err := cache.Lookup(ctx, "alice", "embedded question")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found {
		t.Fatal("miss after upsert with embedding")
	}
}
