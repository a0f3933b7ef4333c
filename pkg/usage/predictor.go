// Package usage provides the decayed access-frequency tracker that nominates
// personas for tier promotion and demotion.
//
// Every Get and load request reinforces a per-persona exponentially decayed
// hit counter. On a fixed interval the predictor recomputes the top-K
// personas by decayed score and emits promotion hints for top-K personas
// outside the hot tier and demotion hints for hot-tier personas that fell
// out. Hysteresis on both directions prevents tier thrashing when usage
// oscillates near the boundary.
package usage

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/crave-labs/cravecore-go/pkg/adapter"
)

// HintAction is the direction of a tier change hint.
type HintAction string

const (
	// ActionPromote suggests loading the persona into the hot tier.
	ActionPromote HintAction = "promote"

	// ActionDemote suggests dropping the persona from the hot tier.
	ActionDemote HintAction = "demote"
)

// Hint is a promotion or demotion nomination for one persona.
type Hint struct {
	// PersonaID is the persona the hint applies to.
	PersonaID string

	// Action is the suggested tier change.
	Action HintAction

	// Score is the persona's decayed usage score at recompute time.
	Score float64
}

// PersonaUsageStats tracks one persona's decayed usage.
//
// Stats are mutated only by the predictor; the swap scheduler reads scores
// through Score for priority ordering.
type PersonaUsageStats struct {
	// Score is the exponentially decayed hit counter.
	Score float64

	// LastAccess is the time of the most recent recorded hit.
	LastAccess time.Time

	// LastPromotion is when the persona was last nominated for promotion.
	LastPromotion time.Time

	// LastDemotion is when the persona was last nominated for demotion.
	LastDemotion time.Time

	// lastDecay is the reference point for the decay computation.
	lastDecay time.Time

	// topKStreak counts consecutive recompute cycles spent in the top-K.
	topKStreak int
}

// ResidencyFunc reports the tier a persona is currently resident in.
type ResidencyFunc func(personaID string) adapter.Tier

// HintFunc receives the hints emitted by a recompute cycle.
type HintFunc func(hints []Hint)

// Config contains predictor tuning parameters.
type Config struct {
	// DecayRate is the per-hour exponential decay rate of hit scores.
	// Higher values forget faster. Typical range: 0.05-0.5.
	DecayRate float64

	// TopK is the number of personas nominated for the hot tier.
	TopK int

	// RecomputeInterval is the period between recompute cycles.
	RecomputeInterval time.Duration

	// PromoteCycles is the number of consecutive cycles a persona must stay
	// in the top-K before a promotion hint is emitted.
	PromoteCycles int

	// DemoteIdle is the minimum idle duration since last access before a
	// hot-tier persona outside the top-K is nominated for demotion.
	DemoteIdle time.Duration
}

// Predictor tracks decayed per-persona usage and emits tier hints.
//
// Predictor is safe for concurrent use.
type Predictor struct {
	mu    sync.Mutex
	stats map[string]*PersonaUsageStats

	decayRate     float64
	topK          int
	interval      time.Duration
	promoteCycles int
	demoteIdle    time.Duration

	residency ResidencyFunc
	onHints   HintFunc

	cron *cron.Cron
	log  *zap.Logger
	now  func() time.Time
}

// New creates a predictor. residency and onHints may be nil until Bind is
// called; Start requires both.
func New(cfg Config, log *zap.Logger) *Predictor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DecayRate <= 0 {
		cfg.DecayRate = 0.1
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 2
	}
	if cfg.RecomputeInterval <= 0 {
		cfg.RecomputeInterval = 30 * time.Second
	}
	if cfg.PromoteCycles <= 0 {
		cfg.PromoteCycles = 2
	}

	return &Predictor{
		stats:         make(map[string]*PersonaUsageStats),
		decayRate:     cfg.DecayRate,
		topK:          cfg.TopK,
		interval:      cfg.RecomputeInterval,
		promoteCycles: cfg.PromoteCycles,
		demoteIdle:    cfg.DemoteIdle,
		log:           log,
		now:           time.Now,
	}
}

// Bind wires the residency source and hint sink. Must be called before
// Start; kept separate from New because the cache and scheduler are
// constructed after the predictor.
func (p *Predictor) Bind(residency ResidencyFunc, onHints HintFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.residency = residency
	p.onHints = onHints
}

// Record registers a hit for a persona, reinforcing its decayed score.
func (p *Predictor) Record(personaID string) {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.stats[personaID]
	if !ok {
		s = &PersonaUsageStats{lastDecay: now}
		p.stats[personaID] = s
	}
	p.decayLocked(s, now)
	s.Score++
	s.LastAccess = now
}

// Score returns the persona's decayed usage score at the current time.
// Unknown personas score zero.
func (p *Predictor) Score(personaID string) float64 {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.stats[personaID]
	if !ok {
		return 0
	}
	p.decayLocked(s, now)
	return s.Score
}

// Stats returns a snapshot of a persona's usage stats, or nil if the persona
// was never recorded.
func (p *Predictor) Stats(personaID string) *PersonaUsageStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.stats[personaID]
	if !ok {
		return nil
	}
	snapshot := *s
	return &snapshot
}

// decayLocked folds elapsed time into the score: score *= e^(-rate*hours).
// Caller holds p.mu.
func (p *Predictor) decayLocked(s *PersonaUsageStats, now time.Time) {
	hours := now.Sub(s.lastDecay).Hours()
	if hours > 0 {
		s.Score *= math.Exp(-p.decayRate * hours)
		s.lastDecay = now
	}
}

// Recompute evaluates the top-K personas and returns promotion and demotion
// hints subject to hysteresis. It is exported for direct invocation in tests
// and is otherwise driven by the Start schedule.
func (p *Predictor) Recompute(now time.Time) []Hint {
	p.mu.Lock()
	defer p.mu.Unlock()

	type ranked struct {
		id    string
		score float64
	}
	all := make([]ranked, 0, len(p.stats))
	for id, s := range p.stats {
		p.decayLocked(s, now)
		all = append(all, ranked{id, s.Score})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].id < all[j].id
	})

	topK := make(map[string]bool, p.topK)
	for i := 0; i < len(all) && i < p.topK; i++ {
		topK[all[i].id] = true
	}

	var hints []Hint
	for id, s := range p.stats {
		if topK[id] {
			s.topKStreak++
		} else {
			s.topKStreak = 0
		}

		tier := adapter.TierNone
		if p.residency != nil {
			tier = p.residency(id)
		}

		switch {
		case topK[id] && tier != adapter.TierHot && s.topKStreak >= p.promoteCycles:
			hints = append(hints, Hint{PersonaID: id, Action: ActionPromote, Score: s.Score})
			s.LastPromotion = now
			s.topKStreak = 0
		case !topK[id] && tier == adapter.TierHot && now.Sub(s.LastAccess) >= p.demoteIdle:
			hints = append(hints, Hint{PersonaID: id, Action: ActionDemote, Score: s.Score})
			s.LastDemotion = now
		}
	}

	sort.Slice(hints, func(i, j int) bool { return hints[i].PersonaID < hints[j].PersonaID })
	return hints
}

// Start runs the recompute loop on the configured interval.
func (p *Predictor) Start() error {
	p.mu.Lock()
	if p.cron != nil {
		p.mu.Unlock()
		return nil
	}
	c := cron.New()
	p.cron = c
	p.mu.Unlock()

	spec := fmt.Sprintf("@every %s", p.interval)
	_, err := c.AddFunc(spec, func() {
		hints := p.Recompute(p.now())
		if len(hints) == 0 {
			return
		}
		p.log.Debug("usage recompute emitted hints", zap.Int("count", len(hints)))
		p.mu.Lock()
		sink := p.onHints
		p.mu.Unlock()
		if sink != nil {
			sink(hints)
		}
	})
	if err != nil {
		return fmt.Errorf("Start: %w", err)
	}

	c.Start()
	return nil
}

// Stop halts the recompute loop and waits for an in-progress cycle.
func (p *Predictor) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// SetNow overrides the clock. Intended for tests.
func (p *Predictor) SetNow(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}
