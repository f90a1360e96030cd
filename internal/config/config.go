// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.oms-assistant/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: generation model and embedder selection
//   - Storage: PostgreSQL connection (see storage.go)
//   - Retrieval: ranking policy knobs (see retrieval.go)
//   - Cache: semantic cache TTL and in-memory layer
//   - Observability: Datadog APM tracing
//
// The retrieval thresholds and recency windows were historically hardcoded in
// several places with drifting values; they are configuration here on purpose.
// The defaults are policy, not contract.
//
// Security: Sensitive data (passwords) are never logged; config directory uses
// 0750 permissions. Validation is fail-fast in validation.go with sentinel
// errors for errors.Is() checks.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the generation model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidRetrieval indicates retrieval policy values are out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval policy")

	// ErrInvalidCacheTTL indicates the semantic cache TTL is out of range.
	ErrInvalidCacheTTL = errors.New("invalid cache TTL")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality (Matryoshka Representation
	// Learning). The pgvector schema uses 768; see knowledge.VectorDimension.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultCacheTTL is the default semantic cache entry lifetime.
	DefaultCacheTTL = 24 * time.Hour
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider   string `mapstructure:"provider" json:"provider"`       // "gemini" (default), "ollama", "openai"
	ModelName  string `mapstructure:"model_name" json:"model_name"`   // Generation model (e.g., "gemini-2.5-flash")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"` // Ollama server address when provider is "ollama"

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Embedding configuration
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedRPS      float64 `mapstructure:"embed_rps" json:"embed_rps"` // requests/sec against the embedding backend; <=0 disables limiting

	// Retrieval policy (see retrieval.go)
	Retrieval RetrievalConfig `mapstructure:"retrieval" json:"retrieval"`

	// Semantic cache policy
	CacheTTL         time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	CacheMemoryLayer bool          `mapstructure:"cache_memory_layer" json:"cache_memory_layer"`

	// Ingestion policy
	IngestQueueSize int  `mapstructure:"ingest_queue_size" json:"ingest_queue_size"`
	IngestEnabled   bool `mapstructure:"ingest_enabled" json:"ingest_enabled"` // background learning from completed turns

	// Serve mode
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy" json:"trust_proxy"` // honor X-Forwarded-For when behind a reverse proxy

	// Observability configuration
	Datadog DatadogConfig `mapstructure:"datadog" json:"datadog"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".oms-assistant")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("ollama_host", "http://localhost:11434")
	viper.SetDefault("embed_rps", 5.0)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "assistant")
	viper.SetDefault("postgres_password", "assistant_dev_password")
	viper.SetDefault("postgres_db_name", "assistant")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Retrieval policy defaults
	viper.SetDefault("retrieval.similarity_strong", DefaultSimilarityStrong)
	viper.SetDefault("retrieval.similarity_good", DefaultSimilarityGood)
	viper.SetDefault("retrieval.similarity_floor", DefaultSimilarityFloor)
	viper.SetDefault("retrieval.recent_window", DefaultRecentWindow)
	viper.SetDefault("retrieval.week_window", DefaultWeekWindow)
	viper.SetDefault("retrieval.top_k", DefaultTopK)

	// Semantic cache defaults
	viper.SetDefault("cache_ttl", DefaultCacheTTL)
	viper.SetDefault("cache_memory_layer", true)

	// Ingestion defaults
	viper.SetDefault("ingest_queue_size", 64)
	viper.SetDefault("ingest_enabled", true)

	// Serve defaults
	viper.SetDefault("listen_addr", "localhost:8080")
	viper.SetDefault("trust_proxy", false)

	// Datadog defaults
	viper.SetDefault("datadog.agent_host", "localhost:4318")
	viper.SetDefault("datadog.environment", "dev")
	viper.SetDefault("datadog.service_name", "oms-assistant")
}

// bindEnvVariables binds sensitive environment variables explicitly.
//
// GEMINI_API_KEY is read directly by Genkit (not via Viper); its presence is
// checked in cfg.Validate() based on the selected provider.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("datadog.api_key", "DD_API_KEY")
	mustBind("provider", "ASSISTANT_PROVIDER")
	mustBind("model_name", "ASSISTANT_MODEL_NAME")
	mustBind("listen_addr", "ASSISTANT_LISTEN_ADDR")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matching against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//   - Datadog.APIKey (via DatadogConfig.MarshalJSON)
//
// When adding new sensitive fields, update this method or the nested struct's
// MarshalJSON.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
