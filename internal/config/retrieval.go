package config

import "time"

// Default retrieval policy values. These were reverse-engineered from the
// previous generation of ad hoc scoring scripts whose constants had drifted
// apart; treat them as a starting policy, not a contract.
const (
	// DefaultSimilarityStrong maps to confidence 0.90.
	DefaultSimilarityStrong = 0.40

	// DefaultSimilarityGood maps to confidence 0.80.
	DefaultSimilarityGood = 0.30

	// DefaultSimilarityFloor maps to confidence 0.70; anything at or below
	// the floor is excluded. Uncalibrated embedding spaces produce false
	// positives under this line.
	DefaultSimilarityFloor = 0.25

	// DefaultRecentWindow is the age under which an item earns the recency
	// priority tier (2.5 for user facts, 1.5 otherwise).
	DefaultRecentWindow = 24 * time.Hour

	// DefaultWeekWindow is the age under which an item earns tier 1.0.
	DefaultWeekWindow = 7 * 24 * time.Hour

	// DefaultTopK caps the context list injected into generation.
	DefaultTopK = 6

	// MaxTopK is the absolute cap regardless of configuration.
	MaxTopK = 20
)

// RetrievalConfig holds the hybrid ranking policy knobs.
type RetrievalConfig struct {
	// SimilarityStrong, SimilarityGood and SimilarityFloor are the cosine
	// similarity band boundaries, strictly decreasing.
	SimilarityStrong float64 `mapstructure:"similarity_strong" json:"similarity_strong"`
	SimilarityGood   float64 `mapstructure:"similarity_good" json:"similarity_good"`
	SimilarityFloor  float64 `mapstructure:"similarity_floor" json:"similarity_floor"`

	// RecentWindow and WeekWindow are the recency tier boundaries.
	RecentWindow time.Duration `mapstructure:"recent_window" json:"recent_window"`
	WeekWindow   time.Duration `mapstructure:"week_window" json:"week_window"`

	// TopK caps the number of ranked context items returned.
	TopK int `mapstructure:"top_k" json:"top_k"`
}

// DefaultRetrieval returns the default ranking policy.
func DefaultRetrieval() RetrievalConfig {
	return RetrievalConfig{
		SimilarityStrong: DefaultSimilarityStrong,
		SimilarityGood:   DefaultSimilarityGood,
		SimilarityFloor:  DefaultSimilarityFloor,
		RecentWindow:     DefaultRecentWindow,
		WeekWindow:       DefaultWeekWindow,
		TopK:             DefaultTopK,
	}
}
