package usage_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crave-labs/cravecore-go/pkg/adapter"
	"github.com/crave-labs/cravecore-go/pkg/usage"
)

func newPredictor(cfg usage.Config) (*usage.Predictor, *time.Time) {
	p := usage.New(cfg, nil)
	now := time.Now()
	p.SetNow(func() time.Time { return now })
	return p, &now
}

func TestRecordReinforcesScore(t *testing.T) {
	p, _ := newPredictor(usage.Config{})

	p.Record("NighttimeBinger")
	p.Record("NighttimeBinger")

	assert.InDelta(t, 2.0, p.Score("NighttimeBinger"), 1e-9)
	assert.Equal(t, 0.0, p.Score("unknown"))
}

func TestScoreDecaysExponentially(t *testing.T) {
	p, now := newPredictor(usage.Config{DecayRate: 0.1})

	p.Record("a")
	score0 := p.Score("a")

	*now = now.Add(10 * time.Hour)
	score1 := p.Score("a")

	assert.InDelta(t, score0*math.Exp(-0.1*10), score1, 1e-9)
	assert.Less(t, score1, score0)

	// Decay is monotonic in elapsed time.
	*now = now.Add(10 * time.Hour)
	assert.Less(t, p.Score("a"), score1)
}

func TestRecomputePromotionHysteresis(t *testing.T) {
	p, now := newPredictor(usage.Config{TopK: 1, PromoteCycles: 2})
	p.Bind(func(string) adapter.Tier { return adapter.TierWarm }, nil)

	p.Record("hotshot")

	// First cycle in the top-K: streak too short, no hint yet.
	hints := p.Recompute(*now)
	assert.Empty(t, hints)

	// Second consecutive cycle: promotion fires.
	hints = p.Recompute(*now)
	require.Len(t, hints, 1)
	assert.Equal(t, "hotshot", hints[0].PersonaID)
	assert.Equal(t, usage.ActionPromote, hints[0].Action)

	// The streak resets after a nomination, so the next cycle is quiet.
	hints = p.Recompute(*now)
	assert.Empty(t, hints)
}

func TestRecomputeNoPromotionWhenAlreadyHot(t *testing.T) {
	p, now := newPredictor(usage.Config{TopK: 1, PromoteCycles: 1})
	p.Bind(func(string) adapter.Tier { return adapter.TierHot }, nil)

	p.Record("a")
	hints := p.Recompute(*now)
	assert.Empty(t, hints)
}

func TestRecomputeDemotesIdleHotPersona(t *testing.T) {
	p, now := newPredictor(usage.Config{TopK: 1, PromoteCycles: 1, DemoteIdle: time.Hour})

	residency := map[string]adapter.Tier{
		"busy": adapter.TierWarm,
		"idle": adapter.TierHot,
	}
	p.Bind(func(id string) adapter.Tier { return residency[id] }, nil)

	p.Record("idle")
	*now = now.Add(2 * time.Hour)

	// busy overtakes idle in the top-K while idle sits hot and untouched.
	p.Record("busy")

	hints := p.Recompute(*now)
	require.Len(t, hints, 2)
	assert.Equal(t, "busy", hints[0].PersonaID)
	assert.Equal(t, usage.ActionPromote, hints[0].Action)
	assert.Equal(t, "idle", hints[1].PersonaID)
	assert.Equal(t, usage.ActionDemote, hints[1].Action)
}

func TestRecomputeDemotionRespectsIdleThreshold(t *testing.T) {
	p, now := newPredictor(usage.Config{TopK: 1, PromoteCycles: 1, DemoteIdle: 10 * time.Hour})

	residency := map[string]adapter.Tier{
		"busy":   adapter.TierWarm,
		"recent": adapter.TierHot,
	}
	p.Bind(func(id string) adapter.Tier { return residency[id] }, nil)

	p.Record("recent")
	*now = now.Add(time.Hour)
	p.Record("busy")
	p.Record("busy")

	// recent is out of the top-K but was accessed an hour ago, under the
	// idle threshold: no demotion.
	hints := p.Recompute(*now)
	require.Len(t, hints, 1)
	assert.Equal(t, usage.ActionPromote, hints[0].Action)
	assert.Equal(t, "busy", hints[0].PersonaID)
}

func TestStatsSnapshot(t *testing.T) {
	p, _ := newPredictor(usage.Config{})

	assert.Nil(t, p.Stats("never"))

	p.Record("a")
	s := p.Stats("a")
	require.NotNil(t, s)
	assert.InDelta(t, 1.0, s.Score, 1e-9)
	assert.False(t, s.LastAccess.IsZero())
}

func TestStartAndStop(t *testing.T) {
	p := usage.New(usage.Config{RecomputeInterval: time.Hour}, nil)
	p.Bind(func(string) adapter.Tier { return adapter.TierNone }, func([]usage.Hint) {})

	require.NoError(t, p.Start())
	require.NoError(t, p.Start(), "second start is a no-op")
	p.Stop()
	p.Stop()
}
