package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Abhi-Verma2005/oms-assistant/internal/config"
	"github.com/Abhi-Verma2005/oms-assistant/internal/knowledge"
)

// candidateLimit caps the raw candidate scan before ranking. Wider than the
// final top-K so recency reordering has material to work with.
const candidateLimit = 50

// Searcher is the slice of the knowledge store the retriever needs.
type Searcher interface {
	SearchByUser(ctx context.Context, userID, query string, queryEmbedding []float32, limit int) ([]knowledge.ScoredItem, error)
}

// ContextItem is one ranked, confidence-annotated piece of context.
type ContextItem struct {
	Item       knowledge.Item
	Tier       float64
	Confidence float64
	Similarity float64
}

// Retriever turns a user query into a ranked context list by combining
// keyword, vector-similarity, recency, and content-type signals.
//
// When the embedding provider is down it degrades to keyword-only retrieval
// instead of failing: context is an enrichment, not a precondition.
type Retriever struct {
	store    Searcher
	embedder knowledge.Provider
	policy   config.RetrievalConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewRetriever creates a Retriever with the given ranking policy.
func NewRetriever(store Searcher, embedder knowledge.Provider, policy config.RetrievalConfig, logger *slog.Logger) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Result carries the ranked context plus the query embedding that produced
// it, so callers that go on to cache the answer can reuse the vector instead
// of paying for a second embedding call.
type Result struct {
	Items          []ContextItem
	QueryEmbedding []float32 // nil when retrieval ran in keyword-only mode
}

// Retrieve returns the top-ranked context items for the query, capped at the
// configured top-K. An empty result with a nil error means "no relevant
// memory", which callers must not treat as a failure.
func (r *Retriever) Retrieve(ctx context.Context, userID, query string) ([]ContextItem, error) {
	res, err := r.RetrieveContext(ctx, userID, query)
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// RetrieveContext is Retrieve plus the query embedding used for the search.
func (r *Retriever) RetrieveContext(ctx context.Context, userID, query string) (*Result, error) {
	if userID == "" {
		return nil, knowledge.ErrUserScope
	}

	normalized := normalizeQuery(query)
	if normalized == "" {
		return &Result{Items: []ContextItem{}}, nil
	}

	queryEmbedding := r.embedQuery(ctx, normalized)

	candidates, err := r.store.SearchByUser(ctx, userID, normalized, queryEmbedding, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("searching candidates: %w", err)
	}

	now := r.now()
	ranked := make([]ContextItem, 0, len(candidates))
	for _, c := range candidates {
		if !validSimilarity(c.Similarity) {
			r.logger.Warn("skipping item with malformed similarity",
				"item_id", c.Item.ID, "similarity", c.Similarity)
			continue
		}

		rank := Score(Match{
			Exact:       c.ExactMatch,
			Similarity:  c.Similarity,
			Age:         now.Sub(c.Item.CreatedAt),
			ContentType: c.Item.ContentType,
		}, r.policy)
		if rank.Confidence == 0 {
			continue
		}

		ranked = append(ranked, ContextItem{
			Item:       c.Item,
			Tier:       rank.Tier,
			Confidence: rank.Confidence,
			Similarity: c.Similarity,
		})
	}

	// Ranking key: tier desc, similarity desc, createdAt desc.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Tier != ranked[j].Tier {
			return ranked[i].Tier > ranked[j].Tier
		}
		if ranked[i].Similarity != ranked[j].Similarity {
			return ranked[i].Similarity > ranked[j].Similarity
		}
		return ranked[i].Item.CreatedAt.After(ranked[j].Item.CreatedAt)
	})

	if len(ranked) > r.policy.TopK {
		ranked = ranked[:r.policy.TopK]
	}
	return &Result{Items: ranked, QueryEmbedding: queryEmbedding}, nil
}

// embedQuery returns the query embedding, or nil when the provider is
// unavailable (degraded, keyword-only mode). Embedding failures are logged,
// never propagated.
func (r *Retriever) embedQuery(ctx context.Context, query string) []float32 {
	embedCtx, cancel := context.WithTimeout(ctx, knowledge.EmbedTimeout)
	defer cancel()

	vec, err := r.embedder.Embed(embedCtx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, degrading to keyword-only retrieval", "error", err)
		return nil
	}
	return vec
}

// normalizeQuery lower-cases, trims, and collapses internal whitespace.
// Must stay in sync with the semantic cache's query normalization so both
// layers agree on what "the same query" means.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
