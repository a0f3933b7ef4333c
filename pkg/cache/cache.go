// Package cache provides the capacity-bounded tiered store for adapter
// payloads.
//
// The hot and warm tiers are byte-budgeted in-memory slots; the cold tier is
// the durable blob store and is managed by the swap scheduler, so eviction
// here only ever drops in-memory copies. Adapters are never destroyed, only
// demoted back to cold storage.
//
// Eviction uses a hybrid score combining recency and decayed access
// frequency; an adapter with a nonzero reference count is never selected.
package cache

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/crave-labs/cravecore-go/pkg/adapter"
)

var (
	// ErrNotResident indicates the adapter is absent from all in-memory
	// tiers. This is the expected miss signal, not a failure: callers react
	// by scheduling a load.
	ErrNotResident = errors.New("adapter not resident")

	// ErrCapacityExceeded indicates a placement could not free enough space
	// because every candidate victim is pinned by active references.
	ErrCapacityExceeded = errors.New("tier capacity exceeded")
)

// Config contains tier capacities and eviction weights.
type Config struct {
	// HotCapacityBytes is the byte budget of the hot tier.
	HotCapacityBytes int64

	// WarmCapacityBytes is the byte budget of the warm tier.
	WarmCapacityBytes int64

	// RecencyWeight is the eviction score weight for recency (alpha).
	RecencyWeight float64

	// FrequencyWeight is the eviction score weight for decayed access
	// frequency (beta).
	FrequencyWeight float64
}

// entry is a resident adapter payload inside one tier slot.
type entry struct {
	id         string
	payload    []byte
	size       int64
	refs       int
	lastAccess time.Time

	// freq is the decayed usage score fed in by the usage predictor.
	freq float64

	// dropOnRelease marks an entry superseded by a copy in another tier.
	// It is removed as soon as its reference count reaches zero.
	dropOnRelease bool
}

// slot is one capacity-bounded tier. Each slot has its own lock so hot-tier
// traffic never serializes against warm-tier bookkeeping.
type slot struct {
	tier     adapter.Tier
	capacity int64

	mu      sync.Mutex
	entries map[string]*entry
	used    int64
}

// TieredCache holds adapter payloads across the hot and warm tiers.
//
// All methods are safe for concurrent use. Locking is per tier; no operation
// holds two tier locks at once.
type TieredCache struct {
	hot  *slot
	warm *slot

	alpha float64
	beta  float64

	draining atomic.Bool

	log *zap.Logger
	now func() time.Time
}

// Handle is a pinned reference to a resident adapter payload.
//
// While a handle is held the adapter's reference count is nonzero and it can
// not be evicted. Release is idempotent.
type Handle struct {
	// AdapterID is the persona id of the pinned adapter.
	AdapterID string

	// Tier is the tier the handle was acquired from.
	Tier adapter.Tier

	// Payload is the adapter payload bytes.
	Payload []byte

	cache    *TieredCache
	released atomic.Bool
}

// New creates a tiered cache with the given capacities and eviction weights.
//
// A nil logger defaults to a no-op logger. Zero eviction weights default to
// alpha=1.0, beta=1.0.
func New(cfg Config, log *zap.Logger) *TieredCache {
	if log == nil {
		log = zap.NewNop()
	}
	alpha := cfg.RecencyWeight
	beta := cfg.FrequencyWeight
	if alpha == 0 && beta == 0 {
		alpha, beta = 1.0, 1.0
	}

	return &TieredCache{
		hot:   &slot{tier: adapter.TierHot, capacity: cfg.HotCapacityBytes, entries: make(map[string]*entry)},
		warm:  &slot{tier: adapter.TierWarm, capacity: cfg.WarmCapacityBytes, entries: make(map[string]*entry)},
		alpha: alpha,
		beta:  beta,
		log:   log,
		now:   time.Now,
	}
}

// slotFor maps a tier to its slot. Only hot and warm are in-memory tiers.
func (c *TieredCache) slotFor(tier adapter.Tier) (*slot, error) {
	switch tier {
	case adapter.TierHot:
		return c.hot, nil
	case adapter.TierWarm:
		return c.warm, nil
	default:
		return nil, fmt.Errorf("tier %q is not an in-memory tier", tier)
	}
}

// Acquire returns a pinned handle for the adapter from the fastest tier it
// is resident in, or ErrNotResident if it is absent from all in-memory
// tiers.
func (c *TieredCache) Acquire(id string) (*Handle, error) {
	for _, s := range []*slot{c.hot, c.warm} {
		s.mu.Lock()
		if e, ok := s.entries[id]; ok {
			e.refs++
			e.lastAccess = c.now()
			h := &Handle{
				AdapterID: id,
				Tier:      s.tier,
				Payload:   e.payload,
				cache:     c,
			}
			s.mu.Unlock()
			return h, nil
		}
		s.mu.Unlock()
	}
	return nil, fmt.Errorf("Acquire %q: %w", id, ErrNotResident)
}

// Release unpins the handle. Releasing an already released handle is a no-op.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.cache.release(h.AdapterID, h.Tier)
}

func (c *TieredCache) release(id string, tier adapter.Tier) {
	s, err := c.slotFor(tier)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	// Deferred removal after a tier move, unless the process is draining:
	// shutdown must not treat a transient zero-reference window as an
	// eviction opportunity.
	if e.refs == 0 && e.dropOnRelease && !c.draining.Load() {
		s.remove(e)
	}
}

// Place inserts a payload into a tier, evicting lower-scored unpinned
// residents if the tier is over budget.
//
// Placing an adapter that is already resident in the tier refreshes its
// access time and is otherwise a no-op. Returns ErrCapacityExceeded when the
// needed space cannot be freed because all candidate victims are pinned.
func (c *TieredCache) Place(id string, tier adapter.Tier, payload []byte) error {
	s, err := c.slotFor(tier)
	if err != nil {
		return fmt.Errorf("Place %q: %w", id, err)
	}

	size := int64(len(payload))
	if size > s.capacity {
		return fmt.Errorf("Place %q: payload %d bytes over %s capacity %d: %w",
			id, size, tier, s.capacity, ErrCapacityExceeded)
	}

	now := c.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		e.lastAccess = now
		e.dropOnRelease = false
		return nil
	}

	if err := c.evictFor(s, size, now); err != nil {
		return fmt.Errorf("Place %q in %s: %w", id, tier, err)
	}

	s.entries[id] = &entry{
		id:         id,
		payload:    payload,
		size:       size,
		lastAccess: now,
	}
	s.used += size

	c.log.Debug("adapter placed",
		zap.String("adapter", id),
		zap.String("tier", string(tier)),
		zap.Int64("size_bytes", size))
	return nil
}

// evictFor frees space in s until need more bytes fit. Caller holds s.mu.
func (c *TieredCache) evictFor(s *slot, need int64, now time.Time) error {
	for s.used+need > s.capacity {
		if c.draining.Load() {
			return ErrCapacityExceeded
		}
		victim := c.selectVictim(s, now)
		if victim == nil {
			return ErrCapacityExceeded
		}
		s.remove(victim)
		c.log.Debug("adapter evicted",
			zap.String("adapter", victim.id),
			zap.String("tier", string(s.tier)))
	}
	return nil
}

// selectVictim picks the unpinned entry with the lowest hybrid score.
// Caller holds s.mu.
func (c *TieredCache) selectVictim(s *slot, now time.Time) *entry {
	var victim *entry
	var victimScore float64

	for _, e := range s.entries {
		if e.refs > 0 {
			continue
		}
		score := c.evictionScore(e, now)
		if victim == nil || score < victimScore {
			victim, victimScore = e, score
		}
	}
	return victim
}

// evictionScore computes alpha*recency + beta*decayed_frequency. Recency
// decays with a one-day e-folding time so that an adapter untouched for a
// day scores roughly 1/e on that term.
func (c *TieredCache) evictionScore(e *entry, now time.Time) float64 {
	ageHours := now.Sub(e.lastAccess).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recency := math.Exp(-ageHours / 24.0)
	return c.alpha*recency + c.beta*e.freq
}

// remove drops an entry from the slot. Caller holds s.mu.
func (s *slot) remove(e *entry) {
	delete(s.entries, e.id)
	s.used -= e.size
}

// Promote moves an adapter to a faster tier using copy-then-delete ordering:
// the payload is inserted into the destination before the source copy is
// removed, so the adapter is never absent from every tier mid-move.
//
// If the source copy is pinned the removal is deferred until its last
// reference is released.
func (c *TieredCache) Promote(id string, to adapter.Tier) error {
	return c.move(id, to)
}

// Demote moves an adapter to a slower in-memory tier, or drops it from all
// in-memory tiers when to is TierCold or TierNone (the payload remains in
// durable storage).
func (c *TieredCache) Demote(id string, to adapter.Tier) error {
	if to == adapter.TierCold || to == adapter.TierNone {
		c.drop(id)
		return nil
	}
	return c.move(id, to)
}

func (c *TieredCache) move(id string, to adapter.Tier) error {
	dst, err := c.slotFor(to)
	if err != nil {
		return fmt.Errorf("move %q: %w", id, err)
	}

	// Locate the current copy and snapshot the payload.
	var src *slot
	var payload []byte
	for _, s := range []*slot{c.hot, c.warm} {
		s.mu.Lock()
		if e, ok := s.entries[id]; ok {
			src = s
			payload = e.payload
		}
		s.mu.Unlock()
		if src != nil {
			break
		}
	}
	if src == nil {
		return fmt.Errorf("move %q: %w", id, ErrNotResident)
	}
	if src == dst {
		return nil
	}

	// Copy first.
	if err := c.Place(id, to, payload); err != nil {
		return err
	}

	// Then delete the source copy, deferring while pinned.
	src.mu.Lock()
	if e, ok := src.entries[id]; ok {
		if e.refs == 0 {
			src.remove(e)
		} else {
			e.dropOnRelease = true
		}
	}
	src.mu.Unlock()
	return nil
}

// drop removes all unpinned in-memory copies of an adapter, marking pinned
// copies for removal on final release.
func (c *TieredCache) drop(id string) {
	for _, s := range []*slot{c.hot, c.warm} {
		s.mu.Lock()
		if e, ok := s.entries[id]; ok {
			if e.refs == 0 {
				s.remove(e)
			} else {
				e.dropOnRelease = true
			}
		}
		s.mu.Unlock()
	}
}

// ResidentTier returns the fastest in-memory tier the adapter is resident
// in, or TierNone.
func (c *TieredCache) ResidentTier(id string) adapter.Tier {
	for _, s := range []*slot{c.hot, c.warm} {
		s.mu.Lock()
		_, ok := s.entries[id]
		s.mu.Unlock()
		if ok {
			return s.tier
		}
	}
	return adapter.TierNone
}

// RecordUsage feeds the predictor's decayed frequency score for an adapter
// into eviction scoring. Unknown adapters are ignored.
func (c *TieredCache) RecordUsage(id string, score float64) {
	for _, s := range []*slot{c.hot, c.warm} {
		s.mu.Lock()
		if e, ok := s.entries[id]; ok {
			e.freq = score
		}
		s.mu.Unlock()
	}
}

// Usage returns the used bytes and capacity of a tier.
func (c *TieredCache) Usage(tier adapter.Tier) (used, capacity int64) {
	s, err := c.slotFor(tier)
	if err != nil {
		return 0, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used, s.capacity
}

// SetDraining toggles shutdown draining. While draining, zero-reference
// windows never trigger eviction and no new victims are selected.
func (c *TieredCache) SetDraining(v bool) {
	c.draining.Store(v)
}

// SetNow overrides the clock. Intended for tests.
func (c *TieredCache) SetNow(now func() time.Time) {
	c.now = now
}
