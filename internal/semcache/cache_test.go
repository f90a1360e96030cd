package semcache

import (
	"testing"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"already normalized", "what is my name", "what is my name"},
		{"mixed case", "What Is My Name", "what is my name"},
		{"surrounding whitespace", "  what is my name  ", "what is my name"},
		{"internal whitespace", "what\tis\n  my name", "what is my name"},
		{"blank", "   \t\n ", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeQuery(tt.query); got != tt.want {
				t.Errorf("NormalizeQuery(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestQueryHash_Deterministic(t *testing.T) {
	a := QueryHash(NormalizeQuery("What's the deploy process?"))
	b := QueryHash(NormalizeQuery("  what's   THE deploy process?  "))
	if a != b {
		t.Errorf("hashes differ for equivalent queries: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}

	other := QueryHash(NormalizeQuery("what's the release process?"))
	if a == other {
		t.Error("distinct queries produced the same hash")
	}
}

func TestMemoryLayer_RechecksExpiry(t *testing.T) {
	c := &Cache{mem: gocache.New(memDefaultExpiry, memCleanup)}

	live := &Entry{
		UserID:    "u1",
		QueryHash: QueryHash("live"),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	c.memSet(live)

	got, ok := c.memGet("u1", live.QueryHash)
	if !ok {
		t.Fatal("expected memory-layer hit for live entry")
	}
	if got.QueryHash != live.QueryHash {
		t.Errorf("got entry for hash %s, want %s", got.QueryHash, live.QueryHash)
	}

	// An entry whose durable expiry has passed must not be served even if
	// the memory layer still holds it.
	expired := &Entry{
		UserID:    "u1",
		QueryHash: QueryHash("expired"),
		ExpiresAt: time.Now().Add(50 * time.Millisecond),
	}
	c.memSet(expired)
	time.Sleep(60 * time.Millisecond)

	if _, ok := c.memGet("u1", expired.QueryHash); ok {
		t.Error("memory layer served an entry past its durable expiry")
	}
}

func TestMemoryLayer_SkipsAlreadyExpired(t *testing.T) {
	c := &Cache{mem: gocache.New(memDefaultExpiry, memCleanup)}

	e := &Entry{
		UserID:    "u1",
		QueryHash: QueryHash("dead"),
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	c.memSet(e)

	if _, ok := c.memGet("u1", e.QueryHash); ok {
		t.Error("expired entry should never enter the memory layer")
	}
}

func TestMemoryLayer_ScopedByUser(t *testing.T) {
	c := &Cache{mem: gocache.New(memDefaultExpiry, memCleanup)}

	e := &Entry{
		UserID:    "alice",
		QueryHash: QueryHash("what is my name"),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	c.memSet(e)

	if _, ok := c.memGet("bob", e.QueryHash); ok {
		t.Error("memory layer leaked an entry across users")
	}
	if _, ok := c.memGet("alice", e.QueryHash); !ok {
		t.Error("owner should see their own entry")
	}
}

func TestMemoryLayer_DisabledByDefault(t *testing.T) {
	c := &Cache{}

	e := &Entry{
		UserID:    "u1",
		QueryHash: QueryHash("q"),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	c.memSet(e) // must not panic
	if _, ok := c.memGet("u1", e.QueryHash); ok {
		t.Error("disabled memory layer returned a hit")
	}
}
