// Package filesystem provides a directory-backed adapter payload store.
//
// Each adapter payload is a single file under the configured root directory,
// mirroring the usual on-disk layout of fine-tune checkpoints.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/crave-labs/cravecore-go/pkg/blobstore"
)

// Store implements blobstore.Store on the local filesystem.
type Store struct {
	root string
}

// Config contains configuration for the filesystem store.
type Config struct {
	// Root is the directory holding adapter payload files.
	Root string
}

// New creates a filesystem store, creating the root directory if needed.
func New(cfg *Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("filesystem store: root directory is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("filesystem store: %w", err)
	}
	return &Store{root: cfg.Root}, nil
}

// path maps an adapter id to its payload file. Path separators in ids are
// rejected to keep payloads inside the root.
func (s *Store) path(adapterID string) (string, error) {
	if adapterID == "" || strings.ContainsAny(adapterID, `/\`) {
		return "", fmt.Errorf("invalid adapter id %q", adapterID)
	}
	return filepath.Join(s.root, adapterID+".bin"), nil
}

// Read returns the payload bytes for an adapter id.
func (s *Store) Read(ctx context.Context, adapterID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(adapterID)
	if err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("Read %q: %w", adapterID, blobstore.ErrAdapterNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Read %q: %v: %w", adapterID, err, blobstore.ErrUnavailable)
	}
	return data, nil
}

// Exists reports whether a payload file exists for the adapter id.
func (s *Store) Exists(ctx context.Context, adapterID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := s.path(adapterID)
	if err != nil {
		return false, fmt.Errorf("Exists: %w", err)
	}
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("Exists %q: %v: %w", adapterID, err, blobstore.ErrUnavailable)
	}
	return true, nil
}

// Put writes the payload to a temporary file and renames it into place so a
// concurrent Read never observes a partial payload.
func (s *Store) Put(ctx context.Context, adapterID string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(adapterID)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("Put %q: %v: %w", adapterID, err, blobstore.ErrUnavailable)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("Put %q: %v: %w", adapterID, err, blobstore.ErrUnavailable)
	}
	return nil
}

// Close is a no-op for the filesystem store.
func (s *Store) Close() error {
	return nil
}
