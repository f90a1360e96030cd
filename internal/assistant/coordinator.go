package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Abhi-Verma2005/oms-assistant/internal/knowledge"
	"github.com/Abhi-Verma2005/oms-assistant/internal/retrieval"
	"github.com/Abhi-Verma2005/oms-assistant/internal/semcache"
)

// ErrGenerationFailed wraps model failures. These propagate to the caller
// and never produce a cache write.
var ErrGenerationFailed = errors.New("generation failed")

// hitRecordTimeout bounds the detached hit-accounting write.
const hitRecordTimeout = 5 * time.Second

// Response is the outbound answer payload for one chat turn.
type Response struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
	CacheHit   bool     `json:"cacheHit"`
}

// QueryCache is the slice of the semantic cache the coordinator needs.
type QueryCache interface {
	Lookup(ctx context.Context, userID, query string) (*semcache.Entry, bool, error)
	RecordHit(ctx context.Context, entryID uuid.UUID) error
	Upsert(ctx context.Context, userID, query string, queryEmbedding []float32, resp semcache.Response, ttl time.Duration) (*semcache.Entry, error)
}

// ContextRetriever produces ranked context plus the query embedding.
type ContextRetriever interface {
	RetrieveContext(ctx context.Context, userID, query string) (*retrieval.Result, error)
}

// Coordinator drives one chat turn:
//
//	LOOKUP -> hit -> return cached answer
//	       -> miss -> RETRIEVE -> GENERATE -> STORE -> return fresh answer
//
// Cache and retrieval failures degrade (an answer is still produced);
// generation failures propagate and nothing is cached.
type Coordinator struct {
	cache     QueryCache
	retriever ContextRetriever
	generator Generator
	cacheTTL  time.Duration
	logger    *slog.Logger

	// tracks detached hit-accounting goroutines so Wait can drain them
	hits sync.WaitGroup
}

// NewCoordinator creates a Coordinator. cacheTTL bounds how long fresh
// answers stay servable from the cache.
func NewCoordinator(cache QueryCache, retriever ContextRetriever, generator Generator, cacheTTL time.Duration, logger *slog.Logger) (*Coordinator, error) {
	if cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cacheTTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", cacheTTL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cache:     cache,
		retriever: retriever,
		generator: generator,
		cacheTTL:  cacheTTL,
		logger:    logger,
	}, nil
}

// Respond answers one query for one user.
func (c *Coordinator) Respond(ctx context.Context, userID, query string) (*Response, error) {
	if userID == "" {
		return nil, knowledge.ErrUserScope
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	entry, found, err := c.cache.Lookup(ctx, userID, query)
	switch {
	case errors.Is(err, knowledge.ErrUserScope):
		return nil, err
	case err != nil:
		// Cache is soft state: a broken lookup is a miss, not a failure.
		c.logger.Warn("cache lookup failed, treating as miss",
			"user_id", userID, "error", err)
	case found:
		c.recordHit(ctx, entry.ID)
		return &Response{
			Answer:     entry.Response.Answer,
			Sources:    entry.Response.Sources,
			Confidence: entry.Response.Confidence,
			CacheHit:   true,
		}, nil
	}

	var (
		items          []retrieval.ContextItem
		queryEmbedding []float32
	)
	res, err := c.retriever.RetrieveContext(ctx, userID, query)
	switch {
	case errors.Is(err, knowledge.ErrUserScope):
		return nil, err
	case err != nil:
		c.logger.Warn("retrieval failed, answering without context",
			"user_id", userID, "error", err)
	default:
		items = res.Items
		queryEmbedding = res.QueryEmbedding
	}

	answer, err := c.generator.Generate(ctx, query, items)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	resp := &Response{
		Answer:     answer,
		Sources:    sources(items),
		Confidence: topConfidence(items),
	}

	// An abandoned request must not write back: the caller is gone and an
	// orphaned entry would pollute the cache.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if _, err := c.cache.Upsert(ctx, userID, query, queryEmbedding, semcache.Response{
		Answer:     resp.Answer,
		Sources:    resp.Sources,
		Confidence: resp.Confidence,
	}, c.cacheTTL); err != nil {
		c.logger.Warn("cache write failed, returning uncached answer",
			"user_id", userID, "error", err)
	}

	return resp, nil
}

// Wait blocks until all detached hit-accounting writes have finished.
// Call during shutdown so in-flight counters are not dropped.
func (c *Coordinator) Wait() {
	c.hits.Wait()
}

// recordHit updates hit accounting off the response path. The write outlives
// the request context but gets its own deadline.
func (c *Coordinator) recordHit(ctx context.Context, entryID uuid.UUID) {
	c.hits.Add(1)
	go func() {
		defer c.hits.Done()
		hitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hitRecordTimeout)
		defer cancel()
		if err := c.cache.RecordHit(hitCtx, entryID); err != nil {
			c.logger.Warn("recording cache hit failed", "entry_id", entryID, "error", err)
		}
	}()
}

// sources lists the ids of the items that informed the answer.
func sources(items []retrieval.ContextItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Item.ID.String())
	}
	return out
}

// topConfidence is the confidence of the best-ranked item, 0 with no context.
func topConfidence(items []retrieval.ContextItem) float64 {
	best := 0.0
	for _, it := range items {
		if it.Confidence > best {
			best = it.Confidence
		}
	}
	return best
}
