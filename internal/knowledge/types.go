package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// ContentType classifies a knowledge item.
type ContentType string

// Known content types. user_fact items earn a higher recency tier during
// ranking because stated facts supersede older contradictory ones.
const (
	// TypeUserFact is a durable fact the user stated about themselves.
	TypeUserFact ContentType = "user_fact"

	// TypeConversation is a chat exchange snippet.
	TypeConversation ContentType = "conversation"

	// TypeDocumentExcerpt is pre-extracted text from an uploaded document.
	TypeDocumentExcerpt ContentType = "document_excerpt"

	// TypePreference is a stated preference (notification settings, favorites).
	TypePreference ContentType = "preference"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case TypeUserFact, TypeConversation, TypeDocumentExcerpt, TypePreference:
		return true
	}
	return false
}

// AllContentTypes returns the known content types.
func AllContentTypes() []ContentType {
	return []ContentType{TypeUserFact, TypeConversation, TypeDocumentExcerpt, TypePreference}
}

const (
	// VectorDimension is the pgvector column width. The Gemini embedder is
	// configured to truncate its output to this dimensionality.
	VectorDimension int32 = 768

	// MaxContentLength bounds item content to keep prompts and storage sane.
	MaxContentLength = 4096

	// EmbedTimeout bounds a single embedding call.
	EmbedTimeout = 15 * time.Second
)

// Item is a durable fact or conversation snippet belonging to exactly one user.
//
// Items are immutable once created. Corrections are appended as new items,
// never edited in place, so recency-based ranking can resolve conflicts by
// timestamp rather than by mutation.
type Item struct {
	ID          uuid.UUID
	UserID      string
	Content     string
	ContentType ContentType
	// Embedding is nil when embedding generation failed at ingest time.
	// Such items participate in retrieval via the exact-match tier only.
	Embedding []float32
	Topics    []string
	Metadata  map[string]string
	CreatedAt time.Time
}

// ScoredItem is an item with the raw match signals from SearchByUser.
// Tier and confidence assignment happens in the retrieval package.
type ScoredItem struct {
	Item Item

	// Similarity is the cosine similarity to the query embedding,
	// 0 when either vector is absent.
	Similarity float64

	// ExactMatch reports whether the normalized query is a case-insensitive
	// substring of the item content.
	ExactMatch bool
}
