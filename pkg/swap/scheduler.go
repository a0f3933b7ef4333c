// Package swap coordinates concurrent adapter load, promote, and evict
// traffic against the tiered cache.
//
// The scheduler guarantees at-most-one in-flight physical transfer per
// adapter: concurrent requests for the same adapter coalesce onto one
// transfer through an atomic check-and-attach on a pending-transfer map.
// Loads are staged cold -> warm -> hot, each stage bounded by a global
// transfer semaphore, and the pending queue is bounded so overload fails
// fast instead of queuing without limit.
package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/crave-labs/cravecore-go/pkg/adapter"
	"github.com/crave-labs/cravecore-go/pkg/blobstore"
	"github.com/crave-labs/cravecore-go/pkg/cache"
)

var (
	// ErrBusy indicates the pending queue is full. Callers treat this like
	// a load timeout and degrade to the base model.
	ErrBusy = errors.New("swap scheduler busy")

	// ErrCancelled indicates a transfer was aborted because its last
	// attached requester cancelled.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrShuttingDown indicates the scheduler is draining and accepts no
	// new work.
	ErrShuttingDown = errors.New("swap scheduler shutting down")

	// ErrStorageUnavailable indicates the blob store stayed unreachable for
	// the whole bounded backoff window.
	ErrStorageUnavailable = errors.New("adapter storage unavailable")
)

// State is the lifecycle state of a swap request's underlying transfer.
type State string

const (
	// StateQueued means the transfer is waiting for dispatch.
	StateQueued State = "QUEUED"

	// StateCoalesced marks a request attached to a pre-existing transfer.
	StateCoalesced State = "COALESCED"

	// StateInFlight means the physical transfer is running.
	StateInFlight State = "IN_FLIGHT"

	// StateDone means the adapter is resident at the target tier or better.
	StateDone State = "DONE"

	// StateFailed means the transfer failed.
	StateFailed State = "FAILED"

	// StateCancelled means the transfer was aborted before completion.
	StateCancelled State = "CANCELLED"
)

// PriorityFunc returns a persona's scheduling priority; higher is dispatched
// first. Typically the usage predictor's decayed score.
type PriorityFunc func(adapterID string) float64

// RetryPolicy bounds the exponential backoff used for blob store reads.
type RetryPolicy struct {
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration

	// MaxRetries is the retry count after the initial attempt.
	MaxRetries uint64
}

// Config contains scheduler tuning parameters.
type Config struct {
	// QueueSize is the pending transfer bound. Requests beyond it fail
	// immediately with ErrBusy.
	QueueSize int

	// MaxConcurrentTransfers bounds simultaneous physical transfer stages.
	MaxConcurrentTransfers int64

	// Retry bounds the blob store read backoff.
	Retry RetryPolicy
}

// transfer is one physical load shared by every coalesced requester.
type transfer struct {
	adapterID string
	target    adapter.Tier

	state    State
	attached int
	err      error
	done     chan struct{}

	// pin keeps the adapter resident from completion until the last
	// attached requester has awaited or cancelled.
	pin *cache.Handle

	// cancel aborts the running transfer; set at dispatch.
	cancel context.CancelFunc

	// followUp is a chained promote created when a faster-tier request
	// arrived while this transfer was already in flight at a slower target.
	followUp *transfer

	// parent is the in-flight transfer this follow-up is chained onto;
	// nil once the follow-up is enqueued or the chain is broken.
	parent *transfer
}

// Ticket is one requester's attachment to a (possibly shared) transfer.
//
// Cancelling a ticket detaches only: the underlying transfer is aborted
// solely when no other requester remains attached.
type Ticket struct {
	// Requester identifies the attached requester.
	Requester string

	// Coalesced reports whether this request attached to a transfer that
	// already existed.
	Coalesced bool

	t        *transfer
	s        *Scheduler
	detached sync.Once
}

// Scheduler coordinates adapter transfers against the tiered cache.
type Scheduler struct {
	cache    *cache.TieredCache
	store    blobstore.Store
	priority PriorityFunc
	log      *zap.Logger

	sem   *semaphore.Weighted
	retry RetryPolicy

	mu        sync.Mutex
	transfers map[string]*transfer // newest transfer per adapter id
	pending   []*transfer
	queueCap  int
	closed    bool

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup

	// dispatchCtx aborts the dispatch loop's semaphore wait on Close.
	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc
}

// New creates and starts a scheduler. priority may be nil (FIFO dispatch).
func New(c *cache.TieredCache, store blobstore.Store, priority PriorityFunc, cfg Config, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MaxConcurrentTransfers <= 0 {
		cfg.MaxConcurrentTransfers = 4
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = 100 * time.Millisecond
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}

	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cache:          c,
		store:          store,
		priority:       priority,
		log:            log,
		sem:            semaphore.NewWeighted(cfg.MaxConcurrentTransfers),
		retry:          cfg.Retry,
		transfers:      make(map[string]*transfer),
		queueCap:       cfg.QueueSize,
		wake:           make(chan struct{}, 1),
		quit:           make(chan struct{}),
		dispatchCtx:    dispatchCtx,
		dispatchCancel: dispatchCancel,
	}

	s.wg.Add(1)
	go s.dispatchLoop()
	return s
}

// RequestLoad asks for an adapter to be resident at the target tier or
// better and returns a ticket that resolves when it is.
//
// The check for an existing transfer and the attachment of this request are
// one atomic step under the scheduler lock, so concurrent requests for the
// same adapter can never start two physical transfers.
//
// Fails fast with ErrBusy when the pending queue is full and with
// ErrShuttingDown after Close.
func (s *Scheduler) RequestLoad(adapterID string, target adapter.Tier) (*Ticket, error) {
	if target != adapter.TierHot && target != adapter.TierWarm {
		return nil, fmt.Errorf("RequestLoad %q: target must be hot or warm, got %q", adapterID, target)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("RequestLoad %q: %w", adapterID, ErrShuttingDown)
	}

	ticket := &Ticket{Requester: uuid.NewString(), s: s}

	// Idempotent residency: already at target or better resolves without
	// any transfer.
	if s.cache.ResidentTier(adapterID).AtLeast(target) {
		done := make(chan struct{})
		close(done)
		ticket.t = &transfer{adapterID: adapterID, target: target, state: StateDone, attached: 1, done: done}
		return ticket, nil
	}

	if t, ok := s.transfers[adapterID]; ok {
		switch t.state {
		case StateQueued:
			// Upgrade a queued transfer in place rather than starting a
			// second one.
			if target.Faster(t.target) {
				t.target = target
			}
			t.attached++
			ticket.t = t
			ticket.Coalesced = true
			return ticket, nil
		case StateInFlight:
			if t.target.AtLeast(target) {
				t.attached++
				ticket.t = t
				ticket.Coalesced = true
				return ticket, nil
			}
			// In flight toward a slower tier: chain a follow-up promote.
			// It is enqueued when the running transfer completes, so the
			// adapter still sees one physical transfer per tier transition.
			if t.followUp != nil {
				if target.Faster(t.followUp.target) {
					t.followUp.target = target
				}
				t.followUp.attached++
				ticket.t = t.followUp
				ticket.Coalesced = true
				return ticket, nil
			}
			if len(s.pending) >= s.queueCap {
				return nil, fmt.Errorf("RequestLoad %q: %w", adapterID, ErrBusy)
			}
			follow := &transfer{
				adapterID: adapterID,
				target:    target,
				state:     StateQueued,
				attached:  1,
				done:      make(chan struct{}),
				parent:    t,
			}
			t.followUp = follow
			s.transfers[adapterID] = follow
			ticket.t = follow
			return ticket, nil
		}
	}

	if len(s.pending) >= s.queueCap {
		return nil, fmt.Errorf("RequestLoad %q: %w", adapterID, ErrBusy)
	}

	t := &transfer{
		adapterID: adapterID,
		target:    target,
		state:     StateQueued,
		attached:  1,
		done:      make(chan struct{}),
	}
	s.transfers[adapterID] = t
	s.pending = append(s.pending, t)
	ticket.t = t
	s.kick()
	return ticket, nil
}

// kick signals the dispatch loop. Caller holds s.mu or is the loop itself.
func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop pops the highest-priority queued transfer whenever a transfer
// slot is free and runs it. The semaphore is acquired before popping, so
// transfers beyond the concurrency bound stay queued where priority can still
// reorder them. In-flight transfers are never preempted.
func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			n := len(s.pending)
			s.mu.Unlock()
			if n == 0 {
				break
			}

			if err := s.sem.Acquire(s.dispatchCtx, 1); err != nil {
				return
			}

			s.mu.Lock()
			t := s.popLocked()
			if t == nil {
				s.mu.Unlock()
				s.sem.Release(1)
				break
			}
			t.state = StateInFlight
			ctx, cancel := context.WithCancel(context.Background())
			t.cancel = cancel
			s.mu.Unlock()

			s.wg.Add(1)
			go s.runTransfer(ctx, t)
		}
	}
}

// popLocked removes and returns the pending transfer with the highest
// priority score. Caller holds s.mu.
func (s *Scheduler) popLocked() *transfer {
	if len(s.pending) == 0 {
		return nil
	}

	best := 0
	if s.priority != nil {
		bestScore := s.priority(s.pending[0].adapterID)
		for i := 1; i < len(s.pending); i++ {
			if score := s.priority(s.pending[i].adapterID); score > bestScore {
				best, bestScore = i, score
			}
		}
	}

	t := s.pending[best]
	s.pending = append(s.pending[:best], s.pending[best+1:]...)
	return t
}

// runTransfer executes the staged load, settles the transfer, and frees the
// transfer slot taken by the dispatch loop.
func (s *Scheduler) runTransfer(ctx context.Context, t *transfer) {
	defer s.wg.Done()
	defer s.sem.Release(1)

	err := s.execute(ctx, t)
	s.settle(t, err)
}

// execute stages the adapter toward the target tier. The caller already
// holds a transfer slot for the whole staged move.
func (s *Scheduler) execute(ctx context.Context, t *transfer) error {
	// Stage one: cold -> warm.
	if s.cache.ResidentTier(t.adapterID) == adapter.TierNone {
		payload, err := s.readWithBackoff(ctx, t.adapterID)
		if err != nil {
			return err
		}
		if err := s.cache.Place(t.adapterID, adapter.TierWarm, payload); err != nil {
			return err
		}
	}

	// Stage two: warm -> hot, skipped for warm-targeted requests.
	if t.target == adapter.TierHot && s.cache.ResidentTier(t.adapterID) != adapter.TierHot {
		if err := s.cache.Promote(t.adapterID, adapter.TierHot); err != nil {
			return err
		}
	}

	// Pin until every attached requester has awaited or cancelled, closing
	// the window where a freshly loaded adapter could be evicted before its
	// requesters acquire handles.
	pin, err := s.cache.Acquire(t.adapterID)
	if err != nil {
		return err
	}
	t.pin = pin
	return nil
}

// readWithBackoff reads the adapter payload, retrying transient storage
// failures with bounded exponential backoff. Missing payloads are permanent.
func (s *Scheduler) readWithBackoff(ctx context.Context, adapterID string) ([]byte, error) {
	var payload []byte
	op := func() error {
		data, err := s.store.Read(ctx, adapterID)
		if err != nil {
			if errors.Is(err, blobstore.ErrAdapterNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		payload = data
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.InitialInterval
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, s.retry.MaxRetries), ctx)); err != nil {
		if errors.Is(err, blobstore.ErrAdapterNotFound) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("read %q: %v: %w", adapterID, err, ErrStorageUnavailable)
	}
	return payload, nil
}

// settle records the transfer outcome, wakes waiters, and enqueues any
// chained follow-up.
func (s *Scheduler) settle(t *transfer, err error) {
	s.mu.Lock()

	switch {
	case err != nil && errors.Is(err, context.Canceled) && t.attached == 0:
		t.state = StateCancelled
		t.err = ErrCancelled
	case err != nil:
		t.state = StateFailed
		t.err = err
		s.log.Warn("adapter transfer failed",
			zap.String("adapter", t.adapterID),
			zap.String("target", string(t.target)),
			zap.Error(err))
	default:
		t.state = StateDone
	}

	if s.transfers[t.adapterID] == t {
		delete(s.transfers, t.adapterID)
	}

	// Release the pin immediately if nobody is left to claim the result.
	if t.attached == 0 && t.pin != nil {
		t.pin.Release()
		t.pin = nil
	}

	follow := t.followUp
	t.followUp = nil
	switch {
	case follow == nil:
	case follow.state != StateQueued:
		// The follow-up was cancelled while queued and has already settled.
	case s.closed:
		follow.parent = nil
		follow.state = StateFailed
		follow.err = ErrShuttingDown
		close(follow.done)
	default:
		follow.parent = nil
		s.pending = append(s.pending, follow)
		s.kick()
	}

	close(t.done)
	s.mu.Unlock()
}

// State returns the current state of the ticket's transfer.
func (tk *Ticket) State() State {
	tk.s.mu.Lock()
	defer tk.s.mu.Unlock()
	return tk.t.state
}

// Done returns a channel closed when the transfer settles.
func (tk *Ticket) Done() <-chan struct{} {
	return tk.t.done
}

// Await blocks until the transfer settles or ctx expires, then returns a
// pinned handle for the adapter. The caller owns the handle and must
// Release it on every exit path.
//
// A context expiry detaches this requester exactly like Cancel.
func (tk *Ticket) Await(ctx context.Context) (*cache.Handle, error) {
	select {
	case <-ctx.Done():
		tk.Cancel()
		return nil, ctx.Err()
	case <-tk.t.done:
	}

	defer tk.detach()

	tk.s.mu.Lock()
	err := tk.t.err
	tk.s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return tk.s.cache.Acquire(tk.t.adapterID)
}

// Cancel detaches this requester from the transfer. The transfer itself is
// aborted only if no other requester remains attached; otherwise it proceeds
// and only this requester stops waiting for it.
func (tk *Ticket) Cancel() {
	tk.detach()
}

func (tk *Ticket) detach() {
	tk.detached.Do(func() {
		s := tk.s
		t := tk.t

		s.mu.Lock()
		defer s.mu.Unlock()

		if t.attached > 0 {
			t.attached--
		}
		if t.attached > 0 {
			return
		}

		// Last requester gone.
		switch t.state {
		case StateQueued:
			for i, p := range s.pending {
				if p == t {
					s.pending = append(s.pending[:i], s.pending[i+1:]...)
					break
				}
			}
			// A cancelled follow-up is unlinked from its running parent so
			// settle never re-enqueues it, and the parent takes its place in
			// the transfer map so later requests keep coalescing onto it.
			if t.parent != nil && t.parent.followUp == t {
				t.parent.followUp = nil
				if s.transfers[t.adapterID] == t && t.parent.state == StateInFlight {
					s.transfers[t.adapterID] = t.parent
				}
				t.parent = nil
			}
			if s.transfers[t.adapterID] == t {
				delete(s.transfers, t.adapterID)
			}
			t.state = StateCancelled
			t.err = ErrCancelled
			close(t.done)
		case StateInFlight:
			if t.cancel != nil {
				t.cancel()
			}
		case StateDone, StateFailed, StateCancelled:
			if t.pin != nil {
				t.pin.Release()
				t.pin = nil
			}
		}
	})
}

// PendingLen returns the current pending queue depth.
func (s *Scheduler) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close drains the scheduler: pending transfers fail with ErrShuttingDown,
// in-flight transfers run to completion, and no new requests are accepted.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	for _, t := range s.pending {
		t.state = StateFailed
		t.err = ErrShuttingDown
		if s.transfers[t.adapterID] == t {
			delete(s.transfers, t.adapterID)
		}
		close(t.done)
	}
	s.pending = nil
	s.mu.Unlock()

	close(s.quit)
	s.dispatchCancel()
	s.wg.Wait()
}
