package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Hosted providers need an API key; Ollama runs locally without one.
	switch c.Provider {
	case ProviderOllama:
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	default:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if err := c.Retrieval.validate(); err != nil {
		return err
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache_ttl must be positive, got %v", ErrInvalidCacheTTL, c.CacheTTL)
	}

	// PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	// Warn if using the default dev password (but don't block - user might be in dev).
	if c.PostgresPassword == "assistant_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable).
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v\n"+
			"Note: 'allow' and 'prefer' modes are deprecated (vulnerable to MITM attacks)",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// validate checks the retrieval policy for internal consistency.
func (r *RetrievalConfig) validate() error {
	if r.SimilarityFloor <= 0 || r.SimilarityFloor >= 1 {
		return fmt.Errorf("%w: similarity_floor must be in (0, 1), got %v", ErrInvalidRetrieval, r.SimilarityFloor)
	}
	if r.SimilarityGood <= r.SimilarityFloor || r.SimilarityGood >= 1 {
		return fmt.Errorf("%w: similarity_good must be in (floor, 1), got %v", ErrInvalidRetrieval, r.SimilarityGood)
	}
	if r.SimilarityStrong <= r.SimilarityGood || r.SimilarityStrong >= 1 {
		return fmt.Errorf("%w: similarity_strong must be in (good, 1), got %v", ErrInvalidRetrieval, r.SimilarityStrong)
	}
	if r.RecentWindow <= 0 {
		return fmt.Errorf("%w: recent_window must be positive, got %v", ErrInvalidRetrieval, r.RecentWindow)
	}
	if r.WeekWindow <= r.RecentWindow {
		return fmt.Errorf("%w: week_window (%v) must exceed recent_window (%v)",
			ErrInvalidRetrieval, r.WeekWindow, r.RecentWindow)
	}
	if r.TopK < 1 || r.TopK > MaxTopK {
		return fmt.Errorf("%w: top_k must be between 1 and %d, got %d", ErrInvalidRetrieval, MaxTopK, r.TopK)
	}
	return nil
}
