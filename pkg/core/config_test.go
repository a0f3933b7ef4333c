package core_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crave-labs/cravecore-go/pkg/core"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("VECTOR_INDEX_PROVIDER", "")
	t.Setenv("BLOB_STORE_PROVIDER", "")
	t.Setenv("INFERENCE_PROVIDER", "")
	t.Setenv("EMBEDDING_PROVIDER", "")

	config, err := core.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", config.VectorIndex.Provider)
	assert.Equal(t, "filesystem", config.BlobStore.Provider)
	assert.Equal(t, "openai", config.Inference.Provider)
	assert.Equal(t, "gpt-3.5-turbo", config.Inference.Model)
	assert.Equal(t, "text-embedding-ada-002", config.Embedder.Model)
}

func TestLoadConfigFromEnvPostgres(t *testing.T) {
	t.Setenv("VECTOR_INDEX_PROVIDER", "postgres")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("POSTGRES_USER", "crave")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DATABASE", "cravings")

	config, err := core.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "postgres", config.VectorIndex.Provider)
	assert.Equal(t, "db.internal", config.VectorIndex.Config["host"])
	assert.Equal(t, 5433, config.VectorIndex.Config["port"])
	assert.Equal(t, "crave", config.VectorIndex.Config["user"])
	assert.Equal(t, "secret", config.VectorIndex.Config["password"])
	assert.Equal(t, "cravings", config.VectorIndex.Config["db_name"])
}

func TestLoadConfigFromEnvMySQLBlobStore(t *testing.T) {
	t.Setenv("BLOB_STORE_PROVIDER", "mysql")
	t.Setenv("MYSQL_HOST", "blob.internal")
	t.Setenv("MYSQL_PORT", "3307")

	config, err := core.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "mysql", config.BlobStore.Provider)
	assert.Equal(t, "blob.internal", config.BlobStore.Config["host"])
	assert.Equal(t, 3307, config.BlobStore.Config["port"])
}

func TestLoadConfigFromJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	data := `{
		"inference": {"provider": "openai", "model": "gpt-4"},
		"embedder": {"provider": "openai", "model": "text-embedding-ada-002", "dimensions": 1536},
		"vector_index": {"provider": "sqlite", "config": {"db_path": "./test.db"}},
		"blob_store": {"provider": "filesystem", "config": {"root": "./adapters"}},
		"personas": [{"id": "NighttimeBinger", "size_bytes": 1024}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	config, err := core.LoadConfigFromJSON(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4", config.Inference.Model)
	assert.Equal(t, 1536, config.Embedder.Dimensions)
	assert.Equal(t, "./test.db", config.VectorIndex.Config["db_path"])
	require.Len(t, config.Personas, 1)
	assert.Equal(t, "NighttimeBinger", config.Personas[0].ID)
	assert.NoError(t, config.Validate())
}

func TestLoadConfigFromJSONMissingFile(t *testing.T) {
	_, err := core.LoadConfigFromJSON("/nonexistent/config.json")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := &core.Config{
		Inference:   core.InferenceConfig{Provider: "openai"},
		Embedder:    core.EmbedderConfig{Provider: "openai"},
		VectorIndex: core.VectorIndexConfig{Provider: "sqlite"},
		BlobStore:   core.BlobStoreConfig{Provider: "filesystem"},
	}
	assert.NoError(t, valid.Validate())

	for _, mutate := range []func(*core.Config){
		func(c *core.Config) { c.Inference.Provider = "" },
		func(c *core.Config) { c.Embedder.Provider = "" },
		func(c *core.Config) { c.VectorIndex.Provider = "" },
		func(c *core.Config) { c.BlobStore.Provider = "" },
	} {
		c := *valid
		mutate(&c)
		assert.ErrorIs(t, c.Validate(), core.ErrInvalidConfig)
	}
}
