package adapter

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownPersona indicates that a persona id is not in the registry.
var ErrUnknownPersona = errors.New("unknown persona")

// Registry is the durable catalogue of known persona adapters.
//
// It owns adapter identity and static metadata only. Entries are created when
// a persona is registered and are never removed; an adapter that falls out of
// use is demoted to cold storage by the cache, not deregistered.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*Metadata
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]*Metadata),
	}
}

// Register adds a persona adapter to the catalogue.
//
// Registering an id that already exists replaces its metadata; identity is
// stable, the payload description may be refreshed.
func (r *Registry) Register(meta *Metadata) error {
	if meta == nil || meta.ID == "" {
		return fmt.Errorf("Register: metadata must carry a persona id")
	}
	if meta.SizeBytes <= 0 {
		return fmt.Errorf("Register: persona %q must have a positive size", meta.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m := *meta
	r.adapters[meta.ID] = &m
	return nil
}

// Resolve returns the metadata for a persona id.
//
// Returns ErrUnknownPersona if the persona was never registered.
func (r *Registry) Resolve(id string) (*Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("Resolve %q: %w", id, ErrUnknownPersona)
	}

	m := *meta
	return &m, nil
}

// List returns the registered persona ids in stable order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered personas.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}
