// Package vectorindex provides the craving-log vector index collaborator.
//
// It defines the Index interface the retrieval pipeline consumes, along with
// the log entry types. The CRUD layer writes entries through Insert; this
// core treats stored entries as read-only.
package vectorindex

import (
	"context"
	"time"
)

// Entry is a single logged craving event with its embedding.
type Entry struct {
	// ID is the unique identifier of the log entry.
	ID int64

	// UserID identifies the user who logged the craving.
	UserID string

	// Description is the free-text craving description.
	Description string

	// Intensity is the self-reported intensity on a 1-10 scale.
	Intensity int

	// Embedding is the vector embedding of the description.
	Embedding []float64

	// CreatedAt is when the craving was logged.
	CreatedAt time.Time
}

// Match is a query result: an entry with its similarity to the query vector.
type Match struct {
	// Entry is the matched log entry.
	Entry *Entry

	// Similarity is the cosine similarity to the query embedding (0.0-1.0
	// for normalized embeddings; higher is more similar).
	Similarity float64
}

// Index defines the interface for craving-log vector index backends.
//
// All implementations must be safe for concurrent use.
type Index interface {
	// Insert stores a log entry with its embedding. Entries with a zero ID
	// are assigned one by the backend.
	Insert(ctx context.Context, entry *Entry) error

	// Query returns the k entries most similar to the embedding for a user,
	// ordered by similarity (highest first).
	Query(ctx context.Context, userID string, embedding []float64, k int) ([]*Match, error)

	// EntriesBefore returns all of a user's entries logged strictly before
	// the cutoff, ordered by CreatedAt ascending. Used to fold old history
	// into trend markers.
	EntriesBefore(ctx context.Context, userID string, cutoff time.Time) ([]*Entry, error)

	// Close closes the index and releases resources.
	Close() error
}
