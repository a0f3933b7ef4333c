// Package core provides the main CraveCore client and insight orchestration.
package core

import (
	"fmt"

	"github.com/crave-labs/cravecore-go/pkg/blobstore"
	blobfs "github.com/crave-labs/cravecore-go/pkg/blobstore/filesystem"
	blobmysql "github.com/crave-labs/cravecore-go/pkg/blobstore/mysql"
	"github.com/crave-labs/cravecore-go/pkg/embedder"
	embopenai "github.com/crave-labs/cravecore-go/pkg/embedder/openai"
	"github.com/crave-labs/cravecore-go/pkg/inference"
	infopenai "github.com/crave-labs/cravecore-go/pkg/inference/openai"
	"github.com/crave-labs/cravecore-go/pkg/vectorindex"
	vipostgres "github.com/crave-labs/cravecore-go/pkg/vectorindex/postgres"
	visqlite "github.com/crave-labs/cravecore-go/pkg/vectorindex/sqlite"
)

// newVectorIndex creates a vector index backend from configuration.
func newVectorIndex(cfg VectorIndexConfig) (vectorindex.Index, error) {
	switch cfg.Provider {
	case "sqlite":
		return visqlite.NewClient(&visqlite.Config{
			DBPath:    getStringConfig(cfg.Config, "db_path", "./cravecore.db"),
			TableName: getStringConfig(cfg.Config, "table_name", ""),
		})
	case "postgres":
		return vipostgres.NewClient(&vipostgres.Config{
			Host:      getStringConfig(cfg.Config, "host", "localhost"),
			Port:      getIntConfig(cfg.Config, "port", 5432),
			User:      getStringConfig(cfg.Config, "user", "postgres"),
			Password:  getStringConfig(cfg.Config, "password", ""),
			DBName:    getStringConfig(cfg.Config, "db_name", "cravecore"),
			TableName: getStringConfig(cfg.Config, "table_name", ""),
			SSLMode:   getStringConfig(cfg.Config, "ssl_mode", "disable"),
		})
	default:
		return nil, fmt.Errorf("unsupported vector index provider: %s", cfg.Provider)
	}
}

// newBlobStore creates a cold-tier adapter store from configuration.
func newBlobStore(cfg BlobStoreConfig) (blobstore.Store, error) {
	switch cfg.Provider {
	case "filesystem":
		return blobfs.New(&blobfs.Config{
			Root: getStringConfig(cfg.Config, "root", "./adapters"),
		})
	case "mysql":
		return blobmysql.New(&blobmysql.Config{
			Host:      getStringConfig(cfg.Config, "host", "127.0.0.1"),
			Port:      getIntConfig(cfg.Config, "port", 3306),
			User:      getStringConfig(cfg.Config, "user", "root"),
			Password:  getStringConfig(cfg.Config, "password", ""),
			DBName:    getStringConfig(cfg.Config, "db_name", "cravecore"),
			TableName: getStringConfig(cfg.Config, "table_name", ""),
		})
	default:
		return nil, fmt.Errorf("unsupported blob store provider: %s", cfg.Provider)
	}
}

// newEmbedder creates an embedding provider from configuration.
func newEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return embopenai.NewClient(&embopenai.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// newInferenceEngine creates an inference backend from configuration.
func newInferenceEngine(cfg InferenceConfig) (inference.Engine, error) {
	switch cfg.Provider {
	case "openai":
		return infopenai.NewClient(&infopenai.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unsupported inference provider: %s", cfg.Provider)
	}
}

// getStringConfig extracts a string value from a provider config map.
func getStringConfig(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return defaultValue
}

// getIntConfig extracts an int value from a provider config map. JSON
// unmarshals numbers as float64, so both forms are accepted.
func getIntConfig(m map[string]interface{}, key string, defaultValue int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return defaultValue
}
