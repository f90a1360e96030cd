//go:build integration

package retrieval_test

import (
	"context"
	"testing"
	"time"

	"github.com/Abhi-Verma2005/oms-assistant/internal/config"
	"github.com/Abhi-Verma2005/oms-assistant/internal/knowledge"
	"github.com/Abhi-Verma2005/oms-assistant/internal/retrieval"
	"github.com/Abhi-Verma2005/oms-assistant/internal/testutil"
)

func setupRetriever(t *testing.T) (*knowledge.Store, *retrieval.Retriever) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store, err := knowledge.NewStore(db.Pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	r, err := retrieval.NewRetriever(store, testutil.DeterministicEmbedder{}, config.DefaultRetrieval(), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	return store, r
}

func insertFact(t *testing.T, store *knowledge.Store, userID, content string, age time.Duration) {
	t.Helper()
	vec, err := testutil.DeterministicEmbedder{}.Embed(context.Background(), content)
	if err != nil {
		t.Fatalf("embedding: %v", err)
	}
	_, err = store.Insert(context.Background(), knowledge.Item{
		UserID:      userID,
		Content:     content,
		ContentType: knowledge.TypeUserFact,
		Embedding:   vec,
		CreatedAt:   time.Now().Add(-age),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

// A restated fact must outrank the older, contradictory one: rows are
// immutable, so recency is the tiebreaker for conflicting facts.
func TestRetrieveNewerFactWins(t *testing.T) {
	store, r := setupRetriever(t)
	ctx := context.Background()

	insertFact(t, store, "alice", "I work at Initech", 30*24*time.Hour)
	insertFact(t, store, "alice", "I work at Globex", time.Hour)

	items, err := r.Retrieve(ctx, "alice", "where do I work")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("no context retrieved")
	}
	if items[0].Item.Content != "I work at Globex" {
		t.Errorf("top item = %q, want the recent job", items[0].Item.Content)
	}
}

func TestRetrieveExactMatchTopTier(t *testing.T) {
	store, r := setupRetriever(t)
	ctx := context.Background()

	insertFact(t, store, "alice", "my favorite color is teal", time.Hour)
	insertFact(t, store, "alice", "I enjoy hiking on weekends", time.Hour)

	items, err := r.Retrieve(ctx, "alice", "favorite color")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("no context retrieved")
	}
	top := items[0]
	if top.Item.Content != "my favorite color is teal" {
		t.Errorf("top item = %q, want the exact match", top.Item.Content)
	}
	if top.Confidence != 0.95 {
		t.Errorf("exact-match confidence = %v, want 0.95", top.Confidence)
	}
}

func TestRetrieveIsolatedAcrossUsers(t *testing.T) {
	store, r := setupRetriever(t)
	ctx := context.Background()

	insertFact(t, store, "alice", "my favorite color is teal", time.Hour)

	items, err := r.Retrieve(ctx, "bob", "favorite color")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("bob retrieved %d of alice's items", len(items))
	}
}

func TestRetrieveCapsAtTopK(t *testing.T) {
	store, r := setupRetriever(t)
	ctx := context.Background()

	contents := []string{
		"my favorite color is teal",
		"my favorite food is ramen",
		"my favorite city is Lisbon",
		"my favorite season is autumn",
		"my favorite sport is climbing",
		"my favorite book is Dune",
		"my favorite language is Go",
		"my favorite drink is coffee",
	}
	for _, c := range contents {
		insertFact(t, store, "alice", c, time.Hour)
	}

	items, err := r.Retrieve(ctx, "alice", "favorite")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) > config.DefaultTopK {
		t.Errorf("retrieved %d items, cap is %d", len(items), config.DefaultTopK)
	}
}
