// Package blobstore provides the durable adapter payload store.
//
// The blob store is the cache's cold tier: every registered adapter payload
// is permanently resident here, and in-memory tiers are filled by reading
// from it. Implementations must be safe for concurrent use.
package blobstore

import (
	"context"
	"errors"
)

var (
	// ErrAdapterNotFound indicates the adapter payload does not exist in the
	// store. This error is permanent and must not be retried.
	ErrAdapterNotFound = errors.New("adapter payload not found")

	// ErrUnavailable indicates the store could not be reached. Callers retry
	// reads with bounded exponential backoff before degrading.
	ErrUnavailable = errors.New("blob store unavailable")
)

// Store defines the interface for adapter payload storage backends.
type Store interface {
	// Read returns the payload bytes for an adapter id.
	Read(ctx context.Context, adapterID string) ([]byte, error)

	// Exists reports whether a payload is stored for the adapter id.
	Exists(ctx context.Context, adapterID string) (bool, error)

	// Put stores the payload bytes for an adapter id, replacing any
	// previous payload.
	Put(ctx context.Context, adapterID string, payload []byte) error

	// Close closes the store and releases resources.
	Close() error
}
