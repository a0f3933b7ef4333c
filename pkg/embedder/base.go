// Package embedder provides the text embedding collaborator contract.
//
// Exactly one embedding is produced per incoming insight query; retry and
// backoff beyond a bounded attempt count are not this interface's concern.
package embedder

import "context"

// Provider defines the interface for embedding providers.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings in
	// one call. Used by the ingest path when backfilling histories.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of vectors produced by this provider.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}
