package retrieval

import (
	"math"
	"time"

	"github.com/Abhi-Verma2005/oms-assistant/internal/config"
	"github.com/Abhi-Verma2005/oms-assistant/internal/knowledge"
)

// Priority tiers. Exact substring matches always win; recency breaks the
// rest into coarse buckets so a fact stated yesterday outranks a
// contradictory fact stated a month ago, even at identical similarity.
const (
	// TierExact is assigned to literal substring matches.
	TierExact = 3.0

	// TierRecentFact is a user_fact created within the recent window.
	TierRecentFact = 2.5

	// TierRecent is any other item created within the recent window.
	TierRecent = 1.5

	// TierWeek is an item created within the week window.
	TierWeek = 1.0

	// TierOlder is everything else.
	TierOlder = 0.5
)

// Confidence bands. An exact match is unambiguous ground truth; vector
// similarity maps to decreasing bands and anything at or below the floor is
// excluded outright.
const (
	ConfidenceExact  = 0.95
	ConfidenceStrong = 0.90
	ConfidenceGood   = 0.80
	ConfidenceWeak   = 0.70
)

// Match holds the raw signals for one candidate item.
type Match struct {
	// Exact reports a case-insensitive substring match of the normalized
	// query in the item content.
	Exact bool

	// Similarity is the cosine similarity to the query embedding
	// (0 when either vector is absent).
	Similarity float64

	// Age is how long ago the item was created.
	Age time.Duration

	// ContentType is the item's classification.
	ContentType knowledge.ContentType
}

// Rank is the scored outcome for one candidate.
// Confidence 0 means the candidate is excluded from results.
type Rank struct {
	Tier       float64
	Confidence float64
}

// Score converts raw match signals into a priority tier and confidence,
// following the configured policy. It is a pure function so the ranking
// rules are unit-testable in isolation from storage.
func Score(m Match, policy config.RetrievalConfig) Rank {
	// Tier 1: literal matches win regardless of other signals.
	if m.Exact {
		return Rank{Tier: TierExact, Confidence: ConfidenceExact}
	}

	// Tier 2: similarity bands. Below the floor is noise, not signal.
	var confidence float64
	switch {
	case m.Similarity > policy.SimilarityStrong:
		confidence = ConfidenceStrong
	case m.Similarity > policy.SimilarityGood:
		confidence = ConfidenceGood
	case m.Similarity > policy.SimilarityFloor:
		confidence = ConfidenceWeak
	default:
		return Rank{}
	}

	// Tier 3: recency bonus (tie-break, never a confidence override).
	var tier float64
	switch {
	case m.Age <= policy.RecentWindow:
		if m.ContentType == knowledge.TypeUserFact {
			tier = TierRecentFact
		} else {
			tier = TierRecent
		}
	case m.Age <= policy.WeekWindow:
		tier = TierWeek
	default:
		tier = TierOlder
	}

	return Rank{Tier: tier, Confidence: confidence}
}

// validSimilarity rejects NaN and infinities produced by malformed stored
// vectors. Such items are skipped during ranking rather than aborting the
// whole retrieval.
func validSimilarity(s float64) bool {
	return !math.IsNaN(s) && !math.IsInf(s, 0)
}
