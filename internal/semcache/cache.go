package semcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pgvector/pgvector-go"

	"github.com/Abhi-Verma2005/oms-assistant/internal/knowledge"
)

// Response is the memoized answer payload stored as JSONB.
type Response struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// Entry is one (query -> answer) memo scoped to a single user.
// (UserID, QueryHash) is unique; concurrent misses for the same query
// converge onto one row via Upsert.
type Entry struct {
	ID        uuid.UUID
	UserID    string
	QueryHash string
	QueryText string
	Response  Response
	HitCount  int
	CreatedAt time.Time
	LastHit   *time.Time
	ExpiresAt time.Time
}

// Memory-layer tuning. The in-process layer is a pure read optimization:
// the durable row stays the source of truth, so short lifetimes are fine.
const (
	memDefaultExpiry = 5 * time.Minute
	memCleanup       = 10 * time.Minute
)

// Cache is the durable per-user semantic cache backed by PostgreSQL, with
// an optional in-process read-through layer in front of it.
//
// Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	pool   *pgxpool.Pool
	mem    *gocache.Cache // nil when the memory layer is disabled
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithMemoryLayer enables the in-process read-through layer.
// It only ever serves entries already read from or written to the durable
// store, and expiry is re-checked on every hit.
func WithMemoryLayer() Option {
	return func(c *Cache) {
		c.mem = gocache.New(memDefaultExpiry, memCleanup)
	}
}

// New creates a Cache.
func New(pool *pgxpool.Pool, logger *slog.Logger, opts ...Option) (*Cache, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{pool: pool, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NormalizeQuery lower-cases, trims, and collapses internal whitespace so
// trivially different spellings of the same question share a cache key.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// QueryHash returns the deterministic hash of a normalized query.
func QueryHash(normalizedQuery string) string {
	sum := sha256.Sum256([]byte(normalizedQuery))
	return hex.EncodeToString(sum[:])
}

// entryCols is the standard SELECT column list for scanEntry.
const entryCols = `id, user_id, query_hash, query_text, cached_response,
	hit_count, created_at, last_hit, expires_at`

// Lookup fetches the entry for (userID, normalized query).
// Expired entries are treated as absent (lazy expiry); the row itself is
// removed later by Sweep.
func (c *Cache) Lookup(ctx context.Context, userID, query string) (*Entry, bool, error) {
	if userID == "" {
		return nil, false, knowledge.ErrUserScope
	}

	normalized := NormalizeQuery(query)
	if normalized == "" {
		return nil, false, nil
	}
	hash := QueryHash(normalized)

	if entry, ok := c.memGet(userID, hash); ok {
		return entry, true, nil
	}

	row := c.pool.QueryRow(ctx,
		`SELECT `+entryCols+`
		 FROM cache_entries
		 WHERE user_id = $1 AND query_hash = $2 AND expires_at > now()`,
		userID, hash,
	)

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("looking up cache entry: %w", err)
	}

	c.memSet(entry)
	return entry, true, nil
}

// RecordHit increments hit_count and stamps last_hit.
// Side-effect only; callers fire it off the response path.
func (c *Cache) RecordHit(ctx context.Context, entryID uuid.UUID) error {
	_, err := c.pool.Exec(ctx,
		`UPDATE cache_entries
		 SET hit_count = hit_count + 1, last_hit = now()
		 WHERE id = $1`,
		entryID,
	)
	if err != nil {
		return fmt.Errorf("recording cache hit: %w", err)
	}
	return nil
}

// Upsert inserts a new entry, or, when a concurrent identical miss already
// wrote one, updates that row instead of failing. A uniqueness violation is
// never surfaced: cache entries are soft state, and the second writer simply
// overwrites.
//
// queryEmbedding may be nil (degraded mode). ttl <= 0 produces an entry that
// is already expired, which the next Lookup treats as absent.
func (c *Cache) Upsert(ctx context.Context, userID, query string, queryEmbedding []float32, resp Response, ttl time.Duration) (*Entry, error) {
	if userID == "" {
		return nil, knowledge.ErrUserScope
	}

	normalized := NormalizeQuery(query)
	if normalized == "" {
		return nil, fmt.Errorf("query is required")
	}
	hash := QueryHash(normalized)

	respJSON, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshaling cached response: %w", err)
	}

	var embedding *pgvector.Vector
	if queryEmbedding != nil {
		if len(queryEmbedding) != int(knowledge.VectorDimension) {
			return nil, fmt.Errorf("query embedding dimension %d, want %d", len(queryEmbedding), knowledge.VectorDimension)
		}
		v := pgvector.NewVector(queryEmbedding)
		embedding = &v
	}

	if ttl < 0 {
		ttl = 0
	}
	expiresAt := time.Now().Add(ttl)

	row := c.pool.QueryRow(ctx,
		`INSERT INTO cache_entries (user_id, query_hash, query_text, query_embedding, cached_response, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT ON CONSTRAINT cache_entries_user_query_unique
		 DO UPDATE SET cached_response = EXCLUDED.cached_response,
		               query_embedding = EXCLUDED.query_embedding,
		               expires_at = EXCLUDED.expires_at
		 RETURNING `+entryCols,
		userID, hash, normalized, embedding, respJSON, expiresAt,
	)

	entry, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("upserting cache entry: %w", err)
	}

	c.memSet(entry)
	c.logger.Debug("cache entry upserted",
		"user_id", userID, "query_hash", hash, "expires_at", entry.ExpiresAt)
	return entry, nil
}

// Sweep deletes expired entries. Maintenance only; the hot path relies on
// lazy expiry in Lookup. Returns the number of rows removed.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	tag, err := c.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE expires_at < now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired cache entries: %w", err)
	}

	if c.mem != nil {
		c.mem.Flush()
	}
	return int(tag.RowsAffected()), nil
}

// memKey builds the in-process cache key.
func memKey(userID, hash string) string {
	return userID + "\x00" + hash
}

// memGet consults the in-process layer, re-checking expiry.
func (c *Cache) memGet(userID, hash string) (*Entry, bool) {
	if c.mem == nil {
		return nil, false
	}
	v, ok := c.mem.Get(memKey(userID, hash))
	if !ok {
		return nil, false
	}
	entry, ok := v.(*Entry)
	if !ok || time.Now().After(entry.ExpiresAt) {
		c.mem.Delete(memKey(userID, hash))
		return nil, false
	}
	return entry, true
}

// memSet stores an entry in the in-process layer, never past its durable
// expiry.
func (c *Cache) memSet(entry *Entry) {
	if c.mem == nil {
		return
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if ttl > memDefaultExpiry {
		ttl = memDefaultExpiry
	}
	c.mem.Set(memKey(entry.UserID, entry.QueryHash), entry, ttl)
}

// scanEntry reads an Entry from a row (entryCols order).
func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e        Entry
		respJSON []byte
	)
	if err := row.Scan(
		&e.ID, &e.UserID, &e.QueryHash, &e.QueryText, &respJSON,
		&e.HitCount, &e.CreatedAt, &e.LastHit, &e.ExpiresAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(respJSON, &e.Response); err != nil {
		return nil, fmt.Errorf("parsing cached response: %w", err)
	}
	return &e, nil
}
