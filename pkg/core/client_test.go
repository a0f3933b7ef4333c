package core_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crave-labs/cravecore-go/pkg/blobstore"
	"github.com/crave-labs/cravecore-go/pkg/core"
	"github.com/crave-labs/cravecore-go/pkg/inference"
	"github.com/crave-labs/cravecore-go/pkg/vectorindex"
)

// fakeIndex keeps entries in memory and assigns sequential ids.
type fakeIndex struct {
	mu      sync.Mutex
	entries []*vectorindex.Entry
	nextID  int64
}

func (f *fakeIndex) Insert(ctx context.Context, e *vectorindex.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	e.ID = f.nextID
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, userID string, embedding []float64, k int) ([]*vectorindex.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []*vectorindex.Match
	for _, e := range f.entries {
		if e.UserID != userID {
			continue
		}
		matches = append(matches, &vectorindex.Match{Entry: e, Similarity: 0.8})
		if len(matches) == k {
			break
		}
	}
	return matches, nil
}

func (f *fakeIndex) EntriesBefore(ctx context.Context, userID string, cutoff time.Time) ([]*vectorindex.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*vectorindex.Entry
	for _, e := range f.entries {
		if e.UserID == userID && e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeIndex) Close() error { return nil }

// fakeBlobStore serves adapter payloads, optionally failing every read.
type fakeBlobStore struct {
	mu       sync.Mutex
	payloads map[string][]byte
	readErr  error
	reads    atomic.Int32
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{payloads: map[string][]byte{
		"nighttime-binger-lora": make([]byte, 16),
		"stress-craver-lora":    make([]byte, 16),
		"NighttimeBinger":       make([]byte, 16),
		"StressCraver":          make([]byte, 16),
	}}
}

func (f *fakeBlobStore) Read(ctx context.Context, adapterID string) ([]byte, error) {
	f.reads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	p, ok := f.payloads[adapterID]
	if !ok {
		return nil, blobstore.ErrAdapterNotFound
	}
	return p, nil
}

func (f *fakeBlobStore) Exists(ctx context.Context, adapterID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.payloads[adapterID]
	return ok, nil
}

func (f *fakeBlobStore) Put(ctx context.Context, adapterID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[adapterID] = payload
	return nil
}

func (f *fakeBlobStore) Close() error { return nil }

// fakeEmbedder returns a constant vector.
type fakeEmbedder struct {
	fail error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return []float64{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Close() error    { return nil }

// stubEngine records the last generation request.
type stubEngine struct {
	mu      sync.Mutex
	text    string
	fail    error
	prompt  string
	adapter string
}

func (s *stubEngine) Generate(ctx context.Context, prompt string, adapterRef string, opts ...inference.GenerateOption) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	s.prompt = prompt
	s.adapter = adapterRef
	return s.text, nil
}

func (s *stubEngine) Close() error { return nil }

func (s *stubEngine) lastAdapter() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter
}

func (s *stubEngine) lastPromptText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

func testConfig() *core.Config {
	return &core.Config{
		Inference:   core.InferenceConfig{Provider: "openai", Model: "gpt-3.5-turbo", MaxRetries: 1},
		Embedder:    core.EmbedderConfig{Provider: "openai"},
		VectorIndex: core.VectorIndexConfig{Provider: "sqlite"},
		BlobStore:   core.BlobStoreConfig{Provider: "filesystem"},
		Cache:       core.CacheConfig{HotCapacityBytes: 1 << 20, WarmCapacityBytes: 1 << 20},
		Swap:        core.SwapConfig{LoadTimeout: 2 * time.Second, RetryInitialInterval: time.Millisecond, RetryMaxRetries: 1},
		Usage:       core.UsageConfig{RecomputeInterval: time.Hour},
		Retrieval:   core.RetrievalConfig{TopK: 5},
	}
}

func newTestClient(t *testing.T, store *fakeBlobStore, engine *stubEngine) (*core.Client, *fakeIndex) {
	t.Helper()
	idx := &fakeIndex{}
	client, err := core.NewClient(testConfig(),
		core.WithLogger(zap.NewNop()),
		core.WithVectorIndex(idx),
		core.WithBlobStore(store),
		core.WithEmbedder(&fakeEmbedder{}),
		core.WithInferenceEngine(engine))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, idx
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := core.NewClient(nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	cfg := testConfig()
	cfg.Inference.Provider = ""
	_, err = core.NewClient(cfg)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestLogCraving(t *testing.T) {
	client, idx := newTestClient(t, newFakeBlobStore(), &stubEngine{text: "ok"})

	craving, err := client.LogCraving(context.Background(), "u1", "chocolate cake", 8)
	require.NoError(t, err)
	assert.Equal(t, int64(1), craving.ID)
	assert.Equal(t, "u1", craving.UserID)
	assert.Len(t, idx.entries, 1)
}

func TestLogCravingValidation(t *testing.T) {
	client, _ := newTestClient(t, newFakeBlobStore(), &stubEngine{text: "ok"})
	ctx := context.Background()

	_, err := client.LogCraving(ctx, "", "desc", 5)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = client.LogCraving(ctx, "u1", "   ", 5)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = client.LogCraving(ctx, "u1", "desc", 0)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = client.LogCraving(ctx, "u1", "desc", 11)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestGenerateInsightWithPersona(t *testing.T) {
	engine := &stubEngine{text: "Your late-night cravings follow stress peaks."}
	client, _ := newTestClient(t, newFakeBlobStore(), engine)
	ctx := context.Background()

	_, err := client.LogCraving(ctx, "u1", "ice cream at midnight", 7)
	require.NoError(t, err)

	insight, err := client.GenerateInsight(ctx, "u1", "why do I binge at night?",
		core.WithPersona("NighttimeBinger"))
	require.NoError(t, err)

	assert.Equal(t, "NighttimeBinger", insight.PersonaUsed)
	assert.Equal(t, engine.text, insight.Text)
	assert.Equal(t, 1, insight.ContextItems)

	// The persona fine-tune reference reached the inference backend.
	assert.Equal(t, "nighttime-binger-lora", engine.lastAdapter())

	stages := insight.Trace.Stages()
	assert.Equal(t, core.StageReceived, stages[0])
	assert.Equal(t, core.StageComplete, stages[len(stages)-1])
	assert.NotEmpty(t, insight.Trace.RequestID)
}

func TestGenerateInsightPromptShape(t *testing.T) {
	engine := &stubEngine{text: "insight"}
	client, _ := newTestClient(t, newFakeBlobStore(), engine)
	ctx := context.Background()

	_, err := client.LogCraving(ctx, "u1", "salty chips", 5)
	require.NoError(t, err)

	_, err = client.GenerateInsight(ctx, "u1", "what about salt?")
	require.NoError(t, err)

	prompt := engine.lastPromptText()
	assert.Contains(t, prompt, "You are CRAVE AI")
	assert.Contains(t, prompt, "1. salty chips (Intensity: 5/10,")
	assert.Contains(t, prompt, "USER QUERY:\nwhat about salt?")
	assert.Contains(t, prompt, "GUIDELINES:")
}

func TestGenerateInsightUnknownPersonaDegrades(t *testing.T) {
	engine := &stubEngine{text: "base model insight"}
	client, _ := newTestClient(t, newFakeBlobStore(), engine)

	insight, err := client.GenerateInsight(context.Background(), "u1", "query",
		core.WithPersona("NoSuchPersona"))
	require.NoError(t, err)

	assert.Equal(t, core.PersonaNone, insight.PersonaUsed)
	assert.Equal(t, "", engine.lastAdapter())
	assert.Equal(t, core.StageComplete, lastStage(insight))
}

func TestGenerateInsightBlobOutageDegrades(t *testing.T) {
	store := newFakeBlobStore()
	store.readErr = blobstore.ErrUnavailable
	engine := &stubEngine{text: "base model insight"}
	client, _ := newTestClient(t, store, engine)

	insight, err := client.GenerateInsight(context.Background(), "u1", "query",
		core.WithPersona("NighttimeBinger"))
	require.NoError(t, err)

	assert.Equal(t, core.PersonaNone, insight.PersonaUsed)
	assert.Equal(t, core.StageComplete, lastStage(insight))

	// The absorbed failure is visible in the trace.
	found := false
	for _, ev := range insight.Trace.Events {
		if ev.Stage == core.StageAdapterReady && strings.Contains(ev.Detail, "degraded") {
			found = true
		}
	}
	assert.True(t, found, "trace should record the degraded adapter path")
}

func TestGenerateInsightInferenceUnreachable(t *testing.T) {
	engine := &stubEngine{fail: errors.New("connection refused")}
	client, _ := newTestClient(t, newFakeBlobStore(), engine)

	_, err := client.GenerateInsight(context.Background(), "u1", "query")
	assert.ErrorIs(t, err, core.ErrInferenceUnreachable)
}

func TestGenerateInsightDefaultsToMostUsedPersona(t *testing.T) {
	engine := &stubEngine{text: "insight"}
	client, _ := newTestClient(t, newFakeBlobStore(), engine)
	ctx := context.Background()

	_, err := client.GenerateInsight(ctx, "u1", "first", core.WithPersona("StressCraver"))
	require.NoError(t, err)

	// No persona requested: the decayed-usage policy picks the one with
	// recorded traffic.
	insight, err := client.GenerateInsight(ctx, "u1", "second")
	require.NoError(t, err)
	assert.Equal(t, "StressCraver", insight.PersonaUsed)
}

func TestConcurrentInsightsShareHotTier(t *testing.T) {
	engine := &stubEngine{text: "insight"}
	store := newFakeBlobStore()
	store.payloads["BoredomSnacker"] = make([]byte, 16)

	// The hot tier fits two adapter payloads, so with one idle persona
	// already resident the concurrent pair below has room for only one more.
	cfg := testConfig()
	cfg.Cache.HotCapacityBytes = 32
	cfg.Personas = []core.PersonaConfig{
		{ID: "NighttimeBinger", SizeBytes: 16, Location: "nighttime-binger-lora"},
		{ID: "StressCraver", SizeBytes: 16, Location: "stress-craver-lora"},
		{ID: "BoredomSnacker", SizeBytes: 16, Location: "boredom-snacker-lora"},
	}

	client, err := core.NewClient(cfg,
		core.WithLogger(zap.NewNop()),
		core.WithVectorIndex(&fakeIndex{}),
		core.WithBlobStore(store),
		core.WithEmbedder(&fakeEmbedder{}),
		core.WithInferenceEngine(engine))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	warmUp, err := client.GenerateInsight(ctx, "u1", "warm-up query",
		core.WithPersona("BoredomSnacker"))
	require.NoError(t, err)
	require.Equal(t, "BoredomSnacker", warmUp.PersonaUsed)

	personas := []string{"NighttimeBinger", "StressCraver"}
	var (
		wg       sync.WaitGroup
		insights [2]*core.Insight
		errs     [2]error
	)
	wg.Add(len(personas))
	for i, p := range personas {
		go func(i int, p string) {
			defer wg.Done()
			insights[i], errs[i] = client.GenerateInsight(ctx, "u1", "query",
				core.WithPersona(p))
		}(i, p)
	}
	wg.Wait()

	// Neither request starves the other: both complete with their own
	// persona, which requires evicting exactly the idle warm-up adapter.
	for i, p := range personas {
		require.NoError(t, errs[i])
		assert.Equal(t, p, insights[i].PersonaUsed)
		assert.Equal(t, core.StageComplete, lastStage(insights[i]))
	}

	// One physical load per persona: the eviction churn never re-reads an
	// adapter from the blob store.
	assert.Equal(t, int32(3), store.reads.Load())
}

func TestGenerateInsightValidation(t *testing.T) {
	client, _ := newTestClient(t, newFakeBlobStore(), &stubEngine{text: "x"})
	ctx := context.Background()

	_, err := client.GenerateInsight(ctx, "", "query")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = client.GenerateInsight(ctx, "u1", "  ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestClosedClientRejectsOperations(t *testing.T) {
	client, _ := newTestClient(t, newFakeBlobStore(), &stubEngine{text: "x"})
	require.NoError(t, client.Close())

	_, err := client.LogCraving(context.Background(), "u1", "desc", 5)
	assert.ErrorIs(t, err, core.ErrClosed)

	_, err = client.GenerateInsight(context.Background(), "u1", "query")
	assert.ErrorIs(t, err, core.ErrClosed)

	assert.NoError(t, client.Close(), "double close is a no-op")
}

func lastStage(insight *core.Insight) core.Stage {
	stages := insight.Trace.Stages()
	return stages[len(stages)-1]
}
