package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Abhi-Verma2005/oms-assistant/internal/knowledge"
)

// DefaultQueueSize is the default depth of the turn queue.
const DefaultQueueSize = 64

const (
	// dedupSimilarity is the cosine similarity above which a new fact is
	// considered a restatement of an existing one.
	dedupSimilarity = 0.90

	// dedupRecentWindow bounds how old the existing item may be for the new
	// fact to be skipped. Older near-duplicates get re-stated so recency
	// ranking sees a fresh createdAt.
	dedupRecentWindow = 7 * 24 * time.Hour

	// turnTimeout bounds the processing of one turn (extraction + writes).
	turnTimeout = 30 * time.Second
)

// ErrQueueFull signals a dropped turn. Ingestion is best-effort; callers
// log this, they never fail the chat response over it.
var ErrQueueFull = errors.New("ingest queue is full")

// DocumentExcerpt is a document fragment attached to a turn.
type DocumentExcerpt struct {
	Source string
	Text   string
}

// Turn is one completed chat exchange handed off for background learning.
type Turn struct {
	UserID        string
	UserText      string
	AssistantText string
	Excerpts      []DocumentExcerpt
}

// ItemStore is the slice of the knowledge store the ingester needs.
type ItemStore interface {
	Insert(ctx context.Context, item knowledge.Item) (uuid.UUID, error)
	Nearest(ctx context.Context, userID string, embedding []float32) (knowledge.Item, float64, bool, error)
}

// Ingester learns from completed turns off the response path. Turns enter
// through Enqueue and are processed one at a time by Run. Every failure in
// here is logged and swallowed; nothing propagates back to the chat flow.
type Ingester struct {
	store     ItemStore
	embedder  knowledge.Provider
	extractor Extractor
	queue     chan Turn
	logger    *slog.Logger
	now       func() time.Time
}

// NewIngester creates an Ingester with the given queue depth.
func NewIngester(store ItemStore, embedder knowledge.Provider, extractor Extractor, queueSize int, logger *slog.Logger) (*Ingester, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		store:     store,
		embedder:  embedder,
		extractor: extractor,
		queue:     make(chan Turn, queueSize),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Enqueue hands a finished turn to the background worker. Never blocks:
// when the queue is full the turn is dropped and ErrQueueFull returned.
func (in *Ingester) Enqueue(turn Turn) error {
	if turn.UserID == "" {
		return knowledge.ErrUserScope
	}
	select {
	case in.queue <- turn:
		return nil
	default:
		in.logger.Warn("ingest queue full, dropping turn", "user_id", turn.UserID)
		return ErrQueueFull
	}
}

// Process ingests a single turn synchronously, bypassing the queue.
// Used by one-shot commands that exit right after answering, where a
// queued turn would be lost to shutdown.
func (in *Ingester) Process(ctx context.Context, turn Turn) error {
	if turn.UserID == "" {
		return knowledge.ErrUserScope
	}
	turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()
	in.processTurn(turnCtx, turn)
	return nil
}

// Run blocks until ctx is canceled, processing queued turns one at a time.
// Callers must track the goroutine with a WaitGroup.
func (in *Ingester) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case turn := <-in.queue:
			turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
			in.processTurn(turnCtx, turn)
			cancel()
		}
	}
}

// processTurn extracts and stores what one turn has to teach.
func (in *Ingester) processTurn(ctx context.Context, turn Turn) {
	stored := 0

	if CarriesDurableInfo(turn.UserText) {
		transcript := SanitizeLines(FormatTurn(turn.UserText, turn.AssistantText))
		facts, err := in.extractor.Extract(ctx, transcript)
		if err != nil {
			in.logger.Warn("fact extraction failed", "user_id", turn.UserID, "error", err)
		}
		for _, f := range facts {
			if ContainsSecrets(f.Content) {
				in.logger.Warn("dropping extracted fact containing a secret", "user_id", turn.UserID)
				continue
			}
			if in.storeFact(ctx, turn.UserID, f) {
				stored++
			}
		}
	}

	for _, ex := range turn.Excerpts {
		if in.storeExcerpt(ctx, turn.UserID, ex) {
			stored++
		}
	}

	if stored > 0 {
		in.logger.Debug("turn ingested", "user_id", turn.UserID, "items", stored)
	}
}

// storeFact inserts one extracted fact unless a recent near-duplicate
// already exists. Existing items are never edited; a genuinely newer
// statement of an old fact becomes a new row and wins on recency.
func (in *Ingester) storeFact(ctx context.Context, userID string, f ExtractedFact) bool {
	embedding := in.embed(ctx, f.Content)

	if embedding != nil {
		near, similarity, found, err := in.store.Nearest(ctx, userID, embedding)
		if err != nil {
			in.logger.Warn("near-duplicate check failed", "user_id", userID, "error", err)
		} else if found && similarity >= dedupSimilarity && in.now().Sub(near.CreatedAt) < dedupRecentWindow {
			in.logger.Debug("skipping near-duplicate fact",
				"user_id", userID, "similarity", similarity, "existing_id", near.ID)
			return false
		}
	}

	return in.insert(ctx, knowledge.Item{
		UserID:      userID,
		Content:     f.Content,
		ContentType: f.ContentType(),
		Embedding:   embedding,
		Topics:      f.Topics,
	})
}

// storeExcerpt inserts one attached document fragment.
func (in *Ingester) storeExcerpt(ctx context.Context, userID string, ex DocumentExcerpt) bool {
	content := SanitizeLines(ex.Text)
	if content == "" {
		return false
	}
	content = clampContent(content)

	item := knowledge.Item{
		UserID:      userID,
		Content:     content,
		ContentType: knowledge.TypeDocumentExcerpt,
		Embedding:   in.embed(ctx, content),
	}
	if ex.Source != "" {
		item.Metadata = map[string]string{"source": ex.Source}
	}
	return in.insert(ctx, item)
}

func (in *Ingester) insert(ctx context.Context, item knowledge.Item) bool {
	if _, err := in.store.Insert(ctx, item); err != nil {
		in.logger.Warn("inserting knowledge item failed",
			"user_id", item.UserID, "content_type", item.ContentType, "error", err)
		return false
	}
	return true
}

// embed returns the content embedding, or nil when the provider is down.
// Items stored without an embedding still participate in exact-match
// retrieval.
func (in *Ingester) embed(ctx context.Context, text string) []float32 {
	embedCtx, cancel := context.WithTimeout(ctx, knowledge.EmbedTimeout)
	defer cancel()

	vec, err := in.embedder.Embed(embedCtx, text)
	if err != nil {
		in.logger.Warn("embedding failed, storing item without vector", "error", err)
		return nil
	}
	return vec
}
