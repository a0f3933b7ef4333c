package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crave-labs/cravecore-go/pkg/embedder"
	"github.com/crave-labs/cravecore-go/pkg/vectorindex"
)

// Config contains retrieval pipeline tuning parameters.
type Config struct {
	// TopK is the number of raw entries targeted for the context. The
	// vector index is over-fetched at 2x so time weighting can reorder.
	TopK int

	// RecencyBoostDays is the age in days up to which entries keep the
	// maximum recency weight of 1.0.
	RecencyBoostDays int

	// RawWindowDays is the raw-retention window: entries older than this
	// are folded into trend markers and never returned individually.
	RawWindowDays int

	// MaxItems is the context item budget (raw entries plus markers).
	MaxItems int

	// MaxTokens is the context token budget. Zero disables the token cap.
	MaxTokens int

	// DecayBase is the per-day geometric decay applied beyond the boost
	// window. Defaults to 0.95.
	DecayBase float64

	// FloorWeight is the lower bound of the recency weight. Defaults to 0.2.
	FloorWeight float64

	// EmbedRetries is the bounded retry count for the query embedding call.
	EmbedRetries uint64
}

// Option is a function type for per-request BuildContext configuration.
type Option func(*Options)

// Options contains per-request overrides for BuildContext.
type Options struct {
	// TopK overrides the configured raw entry target count when positive.
	TopK int

	// DisableTimeWeighting ranks raw entries by similarity alone.
	DisableTimeWeighting bool
}

// WithTopK overrides the raw entry target count for one request.
func WithTopK(k int) Option {
	return func(o *Options) {
		o.TopK = k
	}
}

// WithoutTimeWeighting disables recency weighting for one request.
func WithoutTimeWeighting() Option {
	return func(o *Options) {
		o.DisableTimeWeighting = true
	}
}

// Pipeline builds retrieval contexts from the vector index collaborator.
type Pipeline struct {
	index    vectorindex.Index
	embedder embedder.Provider
	cfg      Config
	log      *zap.Logger
}

// New creates a retrieval pipeline. Zero config fields take defaults:
// TopK=5, RecencyBoostDays=30, RawWindowDays=30, MaxItems=50, DecayBase=0.95,
// FloorWeight=0.2, EmbedRetries=2.
func New(index vectorindex.Index, emb embedder.Provider, cfg Config, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.RecencyBoostDays <= 0 {
		cfg.RecencyBoostDays = 30
	}
	if cfg.RawWindowDays <= 0 {
		cfg.RawWindowDays = 30
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 50
	}
	if cfg.DecayBase <= 0 || cfg.DecayBase >= 1 {
		cfg.DecayBase = 0.95
	}
	if cfg.FloorWeight <= 0 {
		cfg.FloorWeight = 0.2
	}
	if cfg.EmbedRetries == 0 {
		cfg.EmbedRetries = 2
	}

	return &Pipeline{index: index, embedder: emb, cfg: cfg, log: log}
}

// RecencyWeight returns the time weighting for an entry of the given age.
//
// The weight is 1.0 for ages up to the boost window and decays geometrically
// per day beyond it, never dropping below the floor. It is non-increasing in
// age for all ages >= 0.
func (p *Pipeline) RecencyWeight(age time.Duration) float64 {
	days := age.Hours() / 24.0
	boost := float64(p.cfg.RecencyBoostDays)
	if days <= boost {
		return 1.0
	}
	w := math.Pow(p.cfg.DecayBase, days-boost)
	if w < p.cfg.FloorWeight {
		return p.cfg.FloorWeight
	}
	return w
}

// BuildContext assembles a bounded retrieval context for a user query.
//
// The query is embedded once (with bounded retry), candidates are fetched at
// twice the target count, scored by similarity times recency weight, and the
// highest-scored entries inside the raw window fill the budget first. All of
// the user's entries outside the window are folded into monthly trend
// markers; whole markers are appended newest bucket first until the budget
// is exhausted, at which point the remaining buckets are omitted entirely so
// marker counts stay exact.
//
// An empty history is not an error: the returned context is simply empty.
func (p *Pipeline) BuildContext(ctx context.Context, userID, query string, now time.Time, opts ...Option) (*Context, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	topK := p.cfg.TopK
	if o.TopK > 0 {
		topK = o.TopK
	}

	queryEmbedding, err := p.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("BuildContext: %w", err)
	}

	cutoff := now.AddDate(0, 0, -p.cfg.RawWindowDays)

	var matches []*vectorindex.Match
	var older []*vectorindex.Entry

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		matches, err = p.index.Query(gctx, userID, queryEmbedding, 2*topK)
		return err
	})
	g.Go(func() error {
		var err error
		older, err = p.index.EntriesBefore(gctx, userID, cutoff)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("BuildContext: %w", err)
	}

	entries := p.scoreRaw(matches, cutoff, now, topK, o.DisableTimeWeighting)
	markers := p.foldMarkers(older)

	return p.fill(entries, markers), nil
}

// embedQuery embeds the query text with bounded exponential backoff.
func (p *Pipeline) embedQuery(ctx context.Context, query string) ([]float64, error) {
	var embedding []float64
	op := func() error {
		var err error
		embedding, err = p.embedder.Embed(ctx, query)
		return err
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.cfg.EmbedRetries)
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return embedding, nil
}

// scoreRaw applies time weighting to in-window matches and sorts by final
// score descending. Matches older than the raw window are dropped here; they
// are represented by trend markers instead.
func (p *Pipeline) scoreRaw(matches []*vectorindex.Match, cutoff, now time.Time, topK int, unweighted bool) []ContextEntry {
	entries := make([]ContextEntry, 0, len(matches))
	for _, m := range matches {
		if m.Entry.CreatedAt.Before(cutoff) {
			continue
		}
		weight := 1.0
		if !unweighted {
			weight = p.RecencyWeight(now.Sub(m.Entry.CreatedAt))
		}
		entries = append(entries, ContextEntry{
			EntryID:     m.Entry.ID,
			Description: m.Entry.Description,
			Intensity:   m.Entry.Intensity,
			CreatedAt:   m.Entry.CreatedAt,
			Similarity:  m.Similarity,
			FinalScore:  m.Similarity * weight,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].FinalScore > entries[j].FinalScore
	})
	if len(entries) > topK {
		entries = entries[:topK]
	}
	return entries
}

// foldMarkers groups out-of-window entries into calendar-month buckets.
// Every entry lands in exactly one bucket, so marker counts sum to the
// number of folded entries.
func (p *Pipeline) foldMarkers(older []*vectorindex.Entry) []TrendMarker {
	type bucket struct {
		start     time.Time
		count     int
		intensity int
	}

	buckets := make(map[string]*bucket)
	for _, e := range older {
		start := time.Date(e.CreatedAt.Year(), e.CreatedAt.Month(), 1, 0, 0, 0, 0, time.UTC)
		key := start.Format("2006-01")
		b, ok := buckets[key]
		if !ok {
			b = &bucket{start: start}
			buckets[key] = b
		}
		b.count++
		b.intensity += e.Intensity
	}

	markers := make([]TrendMarker, 0, len(buckets))
	for _, b := range buckets {
		avg := float64(b.intensity) / float64(b.count)
		markers = append(markers, TrendMarker{
			PeriodStart:  b.start,
			PeriodEnd:    b.start.AddDate(0, 1, 0),
			Count:        b.count,
			AvgIntensity: avg,
			Summary: fmt.Sprintf("%d cravings logged, average intensity %.1f/10",
				b.count, avg),
		})
	}

	// Newest buckets first so the budget favors recent history.
	sort.Slice(markers, func(i, j int) bool {
		return markers[i].PeriodStart.After(markers[j].PeriodStart)
	})
	return markers
}

// fill selects raw entries then whole markers into the item and token
// budgets. A marker that does not fit ends the fill: no partial marker is
// ever emitted, and all older buckets are omitted with it.
func (p *Pipeline) fill(entries []ContextEntry, markers []TrendMarker) *Context {
	out := &Context{}
	items := 0
	tokens := 0

	fits := func(cost int) bool {
		if items+1 > p.cfg.MaxItems {
			return false
		}
		if p.cfg.MaxTokens > 0 && tokens+cost > p.cfg.MaxTokens {
			return false
		}
		return true
	}

	for i := range entries {
		cost := estimateTokens(entries[i].entryLine(i + 1))
		if !fits(cost) {
			break
		}
		out.Entries = append(out.Entries, entries[i])
		items++
		tokens += cost
	}

	for i := range markers {
		cost := estimateTokens(markers[i].markerLine())
		if !fits(cost) {
			break
		}
		out.Markers = append(out.Markers, markers[i])
		items++
		tokens += cost
	}

	out.TokenEstimate = tokens
	return out
}
