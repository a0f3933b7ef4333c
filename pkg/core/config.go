// Package core provides the main CraveCore client and insight orchestration.
package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for a CraveCore client.
//
// It includes settings for:
//   - Inference backend (base model plus persona fine-tunes)
//   - Embedding provider (for craving vector generation)
//   - Vector index (for craving log persistence)
//   - Blob store (cold tier for persona adapter payloads)
//   - Cache, swap, usage, and retrieval tuning
//
// Example:
//
//	config := &core.Config{
//	    Inference: core.InferenceConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	        Model:    "gpt-4",
//	    },
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-ada-002",
//	        Dimensions: 1536,
//	    },
//	    VectorIndex: core.VectorIndexConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./cravings.db",
//	        },
//	    },
//	}
type Config struct {
	// Inference contains inference backend configuration.
	Inference InferenceConfig `json:"inference"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// VectorIndex contains vector index configuration.
	VectorIndex VectorIndexConfig `json:"vector_index"`

	// BlobStore contains cold-tier adapter storage configuration.
	BlobStore BlobStoreConfig `json:"blob_store"`

	// Cache contains tiered cache tuning (optional, defaults applied).
	Cache CacheConfig `json:"cache,omitempty"`

	// Swap contains swap scheduler tuning (optional, defaults applied).
	Swap SwapConfig `json:"swap,omitempty"`

	// Usage contains usage predictor tuning (optional, defaults applied).
	Usage UsageConfig `json:"usage,omitempty"`

	// Retrieval contains retrieval pipeline tuning (optional, defaults applied).
	Retrieval RetrievalConfig `json:"retrieval,omitempty"`

	// Personas lists the persona adapters registered at client construction.
	Personas []PersonaConfig `json:"personas,omitempty"`
}

// PersonaConfig describes one persona adapter available to the client.
type PersonaConfig struct {
	// ID is the persona adapter identifier (e.g., "NighttimeBinger").
	ID string `json:"id"`

	// SizeBytes is the approximate adapter payload size in bytes.
	SizeBytes int64 `json:"size_bytes"`

	// Location is the backend model reference for the persona fine-tune.
	// Defaults to ID when empty.
	Location string `json:"location,omitempty"`
}

// InferenceConfig contains configuration for the inference backend.
//
// Supported providers: openai
type InferenceConfig struct {
	// Provider is the inference provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the provider.
	APIKey string `json:"api_key"`

	// Model is the base model used when no persona adapter applies.
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// Timeout bounds a single generation attempt (optional).
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxRetries is the bounded retry count for transient failures.
	MaxRetries uint64 `json:"max_retries,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name (e.g., "text-embedding-ada-002").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors (e.g., 1536).
	Dimensions int `json:"dimensions,omitempty"`
}

// VectorIndexConfig contains configuration for the craving log vector index.
//
// Supported providers: sqlite, postgres
type VectorIndexConfig struct {
	// Provider is the vector index provider name (sqlite, postgres).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path
	// For PostgreSQL: host, port, user, password, db_name, ssl_mode
	Config map[string]interface{} `json:"config"`
}

// BlobStoreConfig contains configuration for cold-tier adapter storage.
//
// Supported providers: filesystem, mysql
type BlobStoreConfig struct {
	// Provider is the blob store provider name (filesystem, mysql).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For filesystem: root
	// For MySQL: host, port, user, password, db_name
	Config map[string]interface{} `json:"config"`
}

// CacheConfig contains tiered cache tuning.
type CacheConfig struct {
	// HotCapacityBytes is the hot tier byte capacity.
	HotCapacityBytes int64 `json:"hot_capacity_bytes,omitempty"`

	// WarmCapacityBytes is the warm tier byte capacity.
	WarmCapacityBytes int64 `json:"warm_capacity_bytes,omitempty"`

	// RecencyWeight scales the recency term of the eviction score.
	RecencyWeight float64 `json:"recency_weight,omitempty"`

	// FrequencyWeight scales the frequency term of the eviction score.
	FrequencyWeight float64 `json:"frequency_weight,omitempty"`
}

// SwapConfig contains swap scheduler tuning.
type SwapConfig struct {
	// QueueSize bounds the pending transfer queue.
	QueueSize int `json:"queue_size,omitempty"`

	// MaxConcurrentTransfers bounds simultaneous physical transfers.
	MaxConcurrentTransfers int64 `json:"max_concurrent_transfers,omitempty"`

	// LoadTimeout bounds how long an insight request waits for its persona
	// adapter before degrading to the base model.
	LoadTimeout time.Duration `json:"load_timeout,omitempty"`

	// RetryInitialInterval is the first backoff delay for blob store reads.
	RetryInitialInterval time.Duration `json:"retry_initial_interval,omitempty"`

	// RetryMaxRetries is the retry count for blob store reads.
	RetryMaxRetries uint64 `json:"retry_max_retries,omitempty"`
}

// UsageConfig contains usage predictor tuning.
type UsageConfig struct {
	// DecayRate is the per-hour exponential decay rate of hit scores.
	DecayRate float64 `json:"decay_rate,omitempty"`

	// TopK is the number of personas nominated for the hot tier.
	TopK int `json:"top_k,omitempty"`

	// RecomputeInterval is the period between recompute cycles.
	RecomputeInterval time.Duration `json:"recompute_interval,omitempty"`

	// PromoteCycles is the promotion hysteresis in recompute cycles.
	PromoteCycles int `json:"promote_cycles,omitempty"`

	// DemoteIdle is the demotion idle threshold.
	DemoteIdle time.Duration `json:"demote_idle,omitempty"`
}

// RetrievalConfig contains retrieval pipeline tuning.
type RetrievalConfig struct {
	// TopK is the raw entry target count.
	TopK int `json:"top_k,omitempty"`

	// RecencyBoostDays is the full-weight recency window in days.
	RecencyBoostDays int `json:"recency_boost_days,omitempty"`

	// RawWindowDays is the raw-retention window in days.
	RawWindowDays int `json:"raw_window_days,omitempty"`

	// MaxItems is the context item budget.
	MaxItems int `json:"max_items,omitempty"`

	// MaxTokens is the context token budget. Zero disables the cap.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Timeout bounds context assembly per request (optional).
	Timeout time.Duration `json:"timeout,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - VECTOR_INDEX_PROVIDER (sqlite, postgres)
//   - SQLITE_PATH
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - BLOB_STORE_PROVIDER (filesystem, mysql)
//   - BLOB_STORE_ROOT
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, MYSQL_DATABASE
//   - INFERENCE_PROVIDER, INFERENCE_API_KEY, INFERENCE_MODEL, INFERENCE_BASE_URL
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL
//   - CACHE_HOT_CAPACITY_BYTES, CACHE_WARM_CAPACITY_BYTES
//
// Returns a Config instance, or an error if loading fails.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	// Use FindEnvFile to locate .env file (supports upward search)
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	indexProvider := getEnvOrDefault("VECTOR_INDEX_PROVIDER", "sqlite")
	indexConfig := make(map[string]interface{})

	switch indexProvider {
	case "sqlite":
		indexConfig = map[string]interface{}{
			"db_path": getEnvOrDefault("SQLITE_PATH", "./cravecore.db"),
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))

		indexConfig = map[string]interface{}{
			"host":     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":     port,
			"user":     getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password": os.Getenv("POSTGRES_PASSWORD"),
			"db_name":  getEnvOrDefault("POSTGRES_DATABASE", "cravecore"),
			"ssl_mode": getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	}

	blobProvider := getEnvOrDefault("BLOB_STORE_PROVIDER", "filesystem")
	blobConfig := make(map[string]interface{})

	switch blobProvider {
	case "filesystem":
		blobConfig = map[string]interface{}{
			"root": getEnvOrDefault("BLOB_STORE_ROOT", "./adapters"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))

		blobConfig = map[string]interface{}{
			"host":     getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":     port,
			"user":     getEnvOrDefault("MYSQL_USER", "root"),
			"password": os.Getenv("MYSQL_PASSWORD"),
			"db_name":  getEnvOrDefault("MYSQL_DATABASE", "cravecore"),
		}
	}

	hotCap, _ := strconv.ParseInt(getEnvOrDefault("CACHE_HOT_CAPACITY_BYTES", "0"), 10, 64)
	warmCap, _ := strconv.ParseInt(getEnvOrDefault("CACHE_WARM_CAPACITY_BYTES", "0"), 10, 64)

	config := &Config{
		Inference: InferenceConfig{
			Provider: getEnvOrDefault("INFERENCE_PROVIDER", "openai"),
			APIKey:   os.Getenv("INFERENCE_API_KEY"),
			Model:    getEnvOrDefault("INFERENCE_MODEL", "gpt-3.5-turbo"),
			BaseURL:  os.Getenv("INFERENCE_BASE_URL"),
		},
		Embedder: EmbedderConfig{
			Provider: getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
			APIKey:   os.Getenv("EMBEDDING_API_KEY"),
			Model:    getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-ada-002"),
			BaseURL:  os.Getenv("EMBEDDING_BASE_URL"),
		},
		VectorIndex: VectorIndexConfig{
			Provider: indexProvider,
			Config:   indexConfig,
		},
		BlobStore: BlobStoreConfig{
			Provider: blobProvider,
			Config:   blobConfig,
		},
		Cache: CacheConfig{
			HotCapacityBytes:  hotCap,
			WarmCapacityBytes: warmCap,
		},
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewInsightError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewInsightError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// Checks that all required fields are set:
//   - Inference provider must be specified
//   - Embedder provider must be specified
//   - Vector index provider must be specified
//   - Blob store provider must be specified
//
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.Inference.Provider == "" {
		return NewInsightError("Validate", ErrInvalidConfig)
	}
	if c.Embedder.Provider == "" {
		return NewInsightError("Validate", ErrInvalidConfig)
	}
	if c.VectorIndex.Provider == "" {
		return NewInsightError("Validate", ErrInvalidConfig)
	}
	if c.BlobStore.Provider == "" {
		return NewInsightError("Validate", ErrInvalidConfig)
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
