package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ErrUserScope indicates a query was attempted without a user filter.
// This is a programming error, not a recoverable condition: the store fails
// closed rather than risk returning another user's data.
var ErrUserScope = errors.New("user scope violation: empty user id")

// itemCols is the standard SELECT column list for scanItems.
const itemCols = `id, user_id, content, content_type, topics, metadata, created_at`

// searchTimeout bounds vector search queries so a slow index scan cannot
// block the synchronous response path.
const searchTimeout = 10 * time.Second

// Store manages knowledge items backed by PostgreSQL + pgvector.
//
// Every read path filters by user id in SQL; isolation is enforced at the
// query boundary, not by post-filtering rows.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a knowledge Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Insert appends a new immutable item and returns its generated id.
// There is intentionally no update path: corrections are new items.
func (s *Store) Insert(ctx context.Context, item Item) (uuid.UUID, error) {
	if item.UserID == "" {
		return uuid.Nil, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(item.Content) == "" {
		return uuid.Nil, fmt.Errorf("content is required")
	}
	if len(item.Content) > MaxContentLength {
		return uuid.Nil, fmt.Errorf("content length %d exceeds maximum %d", len(item.Content), MaxContentLength)
	}
	if !item.ContentType.Valid() {
		return uuid.Nil, fmt.Errorf("invalid content type: %q", item.ContentType)
	}

	var embedding *pgvector.Vector
	if item.Embedding != nil {
		if len(item.Embedding) != int(VectorDimension) {
			return uuid.Nil, fmt.Errorf("embedding dimension %d, want %d", len(item.Embedding), VectorDimension)
		}
		v := pgvector.NewVector(item.Embedding)
		embedding = &v
	}

	metadataJSON, err := json.Marshal(item.Metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	topics := item.Topics
	if topics == nil {
		topics = []string{}
	}

	var id uuid.UUID
	err = s.pool.QueryRow(ctx,
		`INSERT INTO knowledge_items (user_id, content, content_type, embedding, topics, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
		 RETURNING id`,
		item.UserID, item.Content, string(item.ContentType), embedding, topics, metadataJSON,
		nullableTime(item.CreatedAt),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting knowledge item: %w", err)
	}

	s.logger.Debug("inserted knowledge item",
		"id", id, "user_id", item.UserID, "content_type", item.ContentType,
		"has_embedding", embedding != nil)

	return id, nil
}

// SearchByUser returns candidate items for the given user only, with raw
// match signals (cosine similarity and exact-substring flag) populated.
//
// query must already be normalized (lower-cased, trimmed) by the caller.
// queryEmbedding may be nil, which restricts the scan to keyword candidates
// (degraded mode when the embedding provider is down).
//
// Other users' items never appear, regardless of match strength.
func (s *Store) SearchByUser(ctx context.Context, userID, query string, queryEmbedding []float32, limit int) ([]ScoredItem, error) {
	if userID == "" {
		return nil, ErrUserScope
	}
	if limit <= 0 {
		limit = 50
	}

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	if queryEmbedding == nil {
		return s.searchKeyword(queryCtx, userID, query, limit)
	}

	vec := pgvector.NewVector(queryEmbedding)

	// Candidates are the union of vector neighbors and keyword matches.
	// Items without an embedding can only enter via the keyword leg.
	// exact_match sorts first so keyword hits survive the LIMIT even when
	// the user has more embedded items than the window holds; their
	// similarity may be 0 yet they must reach the ranking stage.
	rows, err := s.pool.Query(queryCtx,
		`SELECT `+itemCols+`,
		        CASE WHEN embedding IS NULL THEN 0.0
		             ELSE 1 - (embedding <=> $3)
		        END AS similarity,
		        position($2 in lower(content)) > 0 AS exact_match
		 FROM knowledge_items
		 WHERE user_id = $1
		   AND (embedding IS NOT NULL OR position($2 in lower(content)) > 0)
		 ORDER BY exact_match DESC, similarity DESC, created_at DESC
		 LIMIT $4`,
		userID, query, vec, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge items: %w", err)
	}
	defer rows.Close()

	return s.scanScoredItems(rows)
}

// searchKeyword is the degraded, keyword-only scan.
func (s *Store) searchKeyword(ctx context.Context, userID, query string, limit int) ([]ScoredItem, error) {
	if strings.TrimSpace(query) == "" {
		return []ScoredItem{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+itemCols+`, 0.0 AS similarity, true AS exact_match
		 FROM knowledge_items
		 WHERE user_id = $1 AND position($2 in lower(content)) > 0
		 ORDER BY created_at DESC
		 LIMIT $3`,
		userID, query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword searching knowledge items: %w", err)
	}
	defer rows.Close()

	return s.scanScoredItems(rows)
}

// Nearest returns the most similar existing item for dedup checks.
// Returns found=false when the user has no embedded items.
func (s *Store) Nearest(ctx context.Context, userID string, embedding []float32) (item Item, similarity float64, found bool, err error) {
	if userID == "" {
		return Item{}, 0, false, ErrUserScope
	}

	vec := pgvector.NewVector(embedding)

	rows, err := s.pool.Query(ctx,
		`SELECT `+itemCols+`, 1 - (embedding <=> $2) AS similarity, false AS exact_match
		 FROM knowledge_items
		 WHERE user_id = $1 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $2
		 LIMIT 1`,
		userID, vec,
	)
	if err != nil {
		return Item{}, 0, false, fmt.Errorf("querying nearest item: %w", err)
	}
	defer rows.Close()

	scored, err := s.scanScoredItems(rows)
	if err != nil {
		return Item{}, 0, false, err
	}
	if len(scored) == 0 {
		return Item{}, 0, false, nil
	}
	return scored[0].Item, scored[0].Similarity, true, nil
}

// CountByUser returns the number of items owned by userID.
// Maintenance helper, not on the hot path.
func (s *Store) CountByUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrUserScope
	}

	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM knowledge_items WHERE user_id = $1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting knowledge items: %w", err)
	}
	return count, nil
}

// RecentByUser lists the user's newest items, optionally filtered by type.
func (s *Store) RecentByUser(ctx context.Context, userID string, contentType ContentType, limit int) ([]Item, error) {
	if userID == "" {
		return nil, ErrUserScope
	}
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error
	if contentType != "" {
		if !contentType.Valid() {
			return nil, fmt.Errorf("invalid content type: %q", contentType)
		}
		rows, err = s.pool.Query(ctx,
			`SELECT `+itemCols+`, 0.0 AS similarity, false AS exact_match
			 FROM knowledge_items
			 WHERE user_id = $1 AND content_type = $2
			 ORDER BY created_at DESC
			 LIMIT $3`,
			userID, string(contentType), limit,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+itemCols+`, 0.0 AS similarity, false AS exact_match
			 FROM knowledge_items
			 WHERE user_id = $1
			 ORDER BY created_at DESC
			 LIMIT $2`,
			userID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing knowledge items: %w", err)
	}
	defer rows.Close()

	scored, err := s.scanScoredItems(rows)
	if err != nil {
		return nil, err
	}
	items := make([]Item, len(scored))
	for i, sc := range scored {
		items[i] = sc.Item
	}
	return items, nil
}

// scanScoredItems reads ScoredItem rows (itemCols + similarity + exact_match).
func (s *Store) scanScoredItems(rows pgx.Rows) ([]ScoredItem, error) {
	var results []ScoredItem
	for rows.Next() {
		var (
			it           Item
			contentType  string
			metadataJSON []byte
		)
		sc := ScoredItem{}
		if err := rows.Scan(
			&it.ID, &it.UserID, &it.Content, &contentType,
			&it.Topics, &metadataJSON, &it.CreatedAt,
			&sc.Similarity, &sc.ExactMatch,
		); err != nil {
			return nil, fmt.Errorf("scanning knowledge item: %w", err)
		}
		it.ContentType = ContentType(contentType)

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &it.Metadata); err != nil {
				s.logger.Warn("failed to parse item metadata", "item_id", it.ID, "error", err)
				it.Metadata = map[string]string{}
			}
		}

		sc.Item = it
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating knowledge items: %w", err)
	}
	if results == nil {
		results = []ScoredItem{}
	}
	return results, nil
}

// nullableTime maps the zero time to NULL so the column default applies.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
