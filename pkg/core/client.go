// Package core provides the main CraveCore client and insight orchestration.
package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/crave-labs/cravecore-go/pkg/adapter"
	"github.com/crave-labs/cravecore-go/pkg/blobstore"
	"github.com/crave-labs/cravecore-go/pkg/cache"
	"github.com/crave-labs/cravecore-go/pkg/embedder"
	"github.com/crave-labs/cravecore-go/pkg/inference"
	"github.com/crave-labs/cravecore-go/pkg/retrieval"
	"github.com/crave-labs/cravecore-go/pkg/swap"
	"github.com/crave-labs/cravecore-go/pkg/usage"
	"github.com/crave-labs/cravecore-go/pkg/vectorindex"
)

// defaultPersonas is the persona catalogue used when the configuration
// names none.
var defaultPersonas = []PersonaConfig{
	{ID: "NighttimeBinger", SizeBytes: 64 << 20, Location: "nighttime-binger-lora"},
	{ID: "StressCraver", SizeBytes: 64 << 20, Location: "stress-craver-lora"},
}

// Client is the main entry point for craving logging and insight generation.
//
// A Client owns the process-wide persona registry, tiered adapter cache,
// swap scheduler, usage predictor, and retrieval pipeline, and coordinates
// them per request. It is safe for concurrent use.
//
// Example:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, err := core.NewClient(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	insight, err := client.GenerateInsight(ctx, "user_001",
//	    "why do I crave sugar at night?",
//	    core.WithPersona("NighttimeBinger"))
type Client struct {
	config *Config
	log    *zap.Logger

	registry  *adapter.Registry
	cache     *cache.TieredCache
	store     blobstore.Store
	index     vectorindex.Index
	embedder  embedder.Provider
	inference inference.Engine

	predictor *usage.Predictor
	scheduler *swap.Scheduler
	pipeline  *retrieval.Pipeline

	node *snowflake.Node

	loadTimeout      time.Duration
	retrievalTimeout time.Duration
	inferenceRetries uint64

	closeOnce sync.Once
	closed    atomic.Bool
}

// ClientOption customizes client construction, mainly to inject collaborator
// implementations in place of the config-driven defaults.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger    *zap.Logger
	index     vectorindex.Index
	store     blobstore.Store
	embedder  embedder.Provider
	inference inference.Engine
}

// WithLogger sets the structured logger used by the client and its
// components.
func WithLogger(log *zap.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = log }
}

// WithVectorIndex injects a vector index, bypassing the config factory.
func WithVectorIndex(index vectorindex.Index) ClientOption {
	return func(o *clientOptions) { o.index = index }
}

// WithBlobStore injects a cold-tier adapter store, bypassing the config
// factory.
func WithBlobStore(store blobstore.Store) ClientOption {
	return func(o *clientOptions) { o.store = store }
}

// WithEmbedder injects an embedding provider, bypassing the config factory.
func WithEmbedder(provider embedder.Provider) ClientOption {
	return func(o *clientOptions) { o.embedder = provider }
}

// WithInferenceEngine injects an inference backend, bypassing the config
// factory.
func WithInferenceEngine(engine inference.Engine) ClientOption {
	return func(o *clientOptions) { o.inference = engine }
}

// NewClient creates a new CraveCore client with the given configuration.
//
// The client builds its collaborators from the configuration, registers the
// persona catalogue, and starts the usage predictor's recompute loop.
// Call Close to release all resources.
func NewClient(config *Config, opts ...ClientOption) (*Client, error) {
	if config == nil {
		return nil, NewInsightError("NewClient", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	log := o.logger
	if log == nil {
		var err error
		log, err = zap.NewProduction()
		if err != nil {
			return nil, NewInsightError("NewClient", err)
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewInsightError("NewClient", err)
	}

	index := o.index
	if index == nil {
		index, err = newVectorIndex(config.VectorIndex)
		if err != nil {
			return nil, NewInsightError("NewClient", err)
		}
	}

	store := o.store
	if store == nil {
		store, err = newBlobStore(config.BlobStore)
		if err != nil {
			return nil, NewInsightError("NewClient", err)
		}
	}

	emb := o.embedder
	if emb == nil {
		emb, err = newEmbedder(config.Embedder)
		if err != nil {
			return nil, NewInsightError("NewClient", err)
		}
	}

	engine := o.inference
	if engine == nil {
		engine, err = newInferenceEngine(config.Inference)
		if err != nil {
			return nil, NewInsightError("NewClient", err)
		}
	}

	registry := adapter.NewRegistry()
	personas := config.Personas
	if len(personas) == 0 {
		personas = defaultPersonas
	}
	for _, p := range personas {
		location := p.Location
		if location == "" {
			location = p.ID
		}
		size := p.SizeBytes
		if size <= 0 {
			size = 64 << 20
		}
		if err := registry.Register(&adapter.Metadata{ID: p.ID, SizeBytes: size, Location: location}); err != nil {
			return nil, NewInsightError("NewClient", err)
		}
	}

	tiered := cache.New(cache.Config{
		HotCapacityBytes:  config.Cache.HotCapacityBytes,
		WarmCapacityBytes: config.Cache.WarmCapacityBytes,
		RecencyWeight:     config.Cache.RecencyWeight,
		FrequencyWeight:   config.Cache.FrequencyWeight,
	}, log)

	predictor := usage.New(usage.Config{
		DecayRate:         config.Usage.DecayRate,
		TopK:              config.Usage.TopK,
		RecomputeInterval: config.Usage.RecomputeInterval,
		PromoteCycles:     config.Usage.PromoteCycles,
		DemoteIdle:        config.Usage.DemoteIdle,
	}, log)

	scheduler := swap.New(tiered, store, predictor.Score, swap.Config{
		QueueSize:              config.Swap.QueueSize,
		MaxConcurrentTransfers: config.Swap.MaxConcurrentTransfers,
		Retry: swap.RetryPolicy{
			InitialInterval: config.Swap.RetryInitialInterval,
			MaxRetries:      config.Swap.RetryMaxRetries,
		},
	}, log)

	pipeline := retrieval.New(index, emb, retrieval.Config{
		TopK:             config.Retrieval.TopK,
		RecencyBoostDays: config.Retrieval.RecencyBoostDays,
		RawWindowDays:    config.Retrieval.RawWindowDays,
		MaxItems:         config.Retrieval.MaxItems,
		MaxTokens:        config.Retrieval.MaxTokens,
	}, log)

	loadTimeout := config.Swap.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = 10 * time.Second
	}
	retrievalTimeout := config.Retrieval.Timeout
	if retrievalTimeout <= 0 {
		retrievalTimeout = 15 * time.Second
	}
	inferenceRetries := config.Inference.MaxRetries
	if inferenceRetries == 0 {
		inferenceRetries = 2
	}

	c := &Client{
		config:           config,
		log:              log,
		registry:         registry,
		cache:            tiered,
		store:            store,
		index:            index,
		embedder:         emb,
		inference:        engine,
		predictor:        predictor,
		scheduler:        scheduler,
		pipeline:         pipeline,
		node:             node,
		loadTimeout:      loadTimeout,
		retrievalTimeout: retrievalTimeout,
		inferenceRetries: inferenceRetries,
	}

	predictor.Bind(tiered.ResidentTier, c.applyHints)
	if err := predictor.Start(); err != nil {
		scheduler.Close()
		return nil, NewInsightError("NewClient", err)
	}

	log.Info("cravecore client initialized",
		zap.Int("personas", registry.Len()),
		zap.String("vector_index", config.VectorIndex.Provider),
		zap.String("blob_store", config.BlobStore.Provider))

	return c, nil
}

// applyHints acts on usage predictor nominations: promotion hints schedule a
// hot-tier load, demotion hints demote the persona to the warm tier.
func (c *Client) applyHints(hints []usage.Hint) {
	for _, h := range hints {
		switch h.Action {
		case usage.ActionPromote:
			ticket, err := c.scheduler.RequestLoad(h.PersonaID, adapter.TierHot)
			if err != nil {
				c.log.Debug("promotion hint dropped",
					zap.String("persona", h.PersonaID), zap.Error(err))
				continue
			}
			go func(id string, t *swap.Ticket) {
				handle, err := t.Await(context.Background())
				if err != nil {
					c.log.Debug("background promotion failed",
						zap.String("persona", id), zap.Error(err))
					return
				}
				handle.Release()
			}(h.PersonaID, ticket)
		case usage.ActionDemote:
			if err := c.cache.Demote(h.PersonaID, adapter.TierWarm); err != nil {
				c.log.Debug("demotion hint dropped",
					zap.String("persona", h.PersonaID), zap.Error(err))
			}
		}
	}
}

// LogCraving embeds and persists one craving event for a user.
//
// Intensity must be between 1 and 10 and the description must be non-empty.
func (c *Client) LogCraving(ctx context.Context, userID, description string, intensity int) (*Craving, error) {
	if c.closed.Load() {
		return nil, NewInsightError("LogCraving", ErrClosed)
	}
	if userID == "" || strings.TrimSpace(description) == "" {
		return nil, NewInsightError("LogCraving", ErrInvalidInput)
	}
	if intensity < 1 || intensity > 10 {
		return nil, NewInsightError("LogCraving", ErrInvalidInput)
	}

	embedding, err := c.embedder.Embed(ctx, description)
	if err != nil {
		return nil, NewInsightError("LogCraving", fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
	}

	entry := &vectorindex.Entry{
		UserID:      userID,
		Description: description,
		Intensity:   intensity,
		Embedding:   embedding,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.index.Insert(ctx, entry); err != nil {
		return nil, NewInsightError("LogCraving", fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}

	return &Craving{
		ID:          entry.ID,
		UserID:      userID,
		Description: description,
		Intensity:   intensity,
		CreatedAt:   entry.CreatedAt,
	}, nil
}

// GenerateInsight answers a user query about their cravings using retrieved
// history and, when available, a persona fine-tune.
//
// The persona adapter and the retrieval context are resolved concurrently,
// each under its own timeout. Adapter-side failures never fail the request:
// the generation degrades to the base model with PersonaUsed set to
// PersonaNone and the reason recorded in the trace. Retrieval failures
// likewise degrade to an empty context. Only an unreachable inference
// backend, after bounded retries, returns an error.
func (c *Client) GenerateInsight(ctx context.Context, userID, query string, opts ...InsightOption) (*Insight, error) {
	if c.closed.Load() {
		return nil, NewInsightError("GenerateInsight", ErrClosed)
	}
	if userID == "" || strings.TrimSpace(query) == "" {
		return nil, NewInsightError("GenerateInsight", ErrInvalidInput)
	}

	options := &InsightOptions{}
	for _, opt := range opts {
		opt(options)
	}

	trace := newTrace(c.node.Generate().String())
	trace.record(StageReceived, "")

	persona := options.Persona
	if persona == "" {
		persona = c.pickPersona()
	}

	var (
		wg          sync.WaitGroup
		adapterRef  string
		personaUsed = PersonaNone
		handle      *cache.Handle
		rctx        *retrieval.Context
	)

	wg.Add(2)

	go func() {
		defer wg.Done()
		adapterRef, personaUsed, handle = c.resolveAdapter(ctx, persona, trace)
	}()

	go func() {
		defer wg.Done()
		rctx = c.retrieveContext(ctx, userID, query, options, trace)
	}()

	wg.Wait()
	if handle != nil {
		defer handle.Release()
	}

	trace.record(StagePromptAssembly, "")
	prompt := c.buildPrompt(userID, query, rctx)

	trace.record(StageDispatched, "")
	text, err := c.generate(ctx, prompt, adapterRef)
	if err != nil {
		trace.record(StageFailed, err.Error())
		c.log.Error("insight generation failed",
			zap.String("request_id", trace.RequestID),
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, NewInsightError("GenerateInsight", err)
	}

	trace.record(StageComplete, "")
	c.log.Info("insight generated",
		zap.String("request_id", trace.RequestID),
		zap.String("user_id", userID),
		zap.String("persona", personaUsed),
		zap.Int("context_items", rctx.Items()))

	return &Insight{
		Text:         text,
		PersonaUsed:  personaUsed,
		ContextItems: rctx.Items(),
		Trace:        trace,
	}, nil
}

// pickPersona selects the registered persona with the highest decayed usage
// score. Returns empty when no persona has been used yet.
func (c *Client) pickPersona() string {
	best := ""
	bestScore := 0.0
	for _, id := range c.registry.List() {
		if score := c.predictor.Score(id); score > bestScore {
			best, bestScore = id, score
		}
	}
	return best
}

// resolveAdapter makes the requested persona resident and pins it. Every
// failure is absorbed into the trace and degrades to the base model.
func (c *Client) resolveAdapter(ctx context.Context, persona string, trace *RetrievalTrace) (adapterRef, personaUsed string, handle *cache.Handle) {
	if persona == "" {
		trace.record(StageAdapterReady, "no persona requested, using base model")
		return "", PersonaNone, nil
	}

	trace.record(StageAdapterResolve, persona)

	meta, err := c.registry.Resolve(persona)
	if err != nil {
		trace.record(StageAdapterReady, fmt.Sprintf("persona %q not registered, degraded to base model", persona))
		return "", PersonaNone, nil
	}

	c.predictor.Record(persona)
	c.cache.RecordUsage(persona, c.predictor.Score(persona))

	ticket, err := c.scheduler.RequestLoad(persona, adapter.TierHot)
	if err != nil {
		trace.record(StageAdapterReady, fmt.Sprintf("adapter load rejected (%v), degraded to base model", err))
		return "", PersonaNone, nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()

	h, err := ticket.Await(loadCtx)
	if err != nil {
		trace.record(StageAdapterReady, fmt.Sprintf("adapter load failed (%v), degraded to base model", err))
		return "", PersonaNone, nil
	}

	trace.record(StageAdapterReady, fmt.Sprintf("persona %q resident at %s", persona, h.Tier))
	return meta.Location, persona, h
}

// retrieveContext builds the prompt context. Failures degrade to an empty
// context with the reason recorded in the trace.
func (c *Client) retrieveContext(ctx context.Context, userID, query string, options *InsightOptions, trace *RetrievalTrace) *retrieval.Context {
	trace.record(StageRetrieval, "")

	rctx, cancel := context.WithTimeout(ctx, c.retrievalTimeout)
	defer cancel()

	var ropts []retrieval.Option
	if options.TopK > 0 {
		ropts = append(ropts, retrieval.WithTopK(options.TopK))
	}
	if options.DisableTimeWeighting {
		ropts = append(ropts, retrieval.WithoutTimeWeighting())
	}

	result, err := c.pipeline.BuildContext(rctx, userID, query, time.Now().UTC(), ropts...)
	if err != nil {
		trace.record(StageRetrieval, fmt.Sprintf("retrieval failed (%v), continuing without history", err))
		return &retrieval.Context{}
	}
	return result
}

// generate dispatches the prompt to the inference backend with bounded
// retries. Exhaustion maps to ErrInferenceUnreachable.
func (c *Client) generate(ctx context.Context, prompt, adapterRef string) (string, error) {
	gctx := ctx
	var cancel context.CancelFunc
	if c.config.Inference.Timeout > 0 {
		gctx, cancel = context.WithTimeout(ctx, c.config.Inference.Timeout)
		defer cancel()
	}

	var text string
	op := func() error {
		var err error
		text, err = c.inference.Generate(gctx, prompt, adapterRef)
		return err
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.inferenceRetries)
	if err := backoff.Retry(op, backoff.WithContext(b, gctx)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInferenceUnreachable, err)
	}
	return text, nil
}

// buildPrompt assembles the insight prompt from the query and the retrieved
// context: numbered history lines, trend lines, then the guidelines block.
func (c *Client) buildPrompt(userID, query string, rctx *retrieval.Context) string {
	var history strings.Builder
	if rctx.Empty() {
		history.WriteString("No relevant craving data found in your history.")
	} else {
		for i, e := range rctx.Entries {
			if i > 0 {
				history.WriteByte('\n')
			}
			fmt.Fprintf(&history, "%d. %s (Intensity: %d/10, %s)",
				i+1, e.Description, e.Intensity, e.CreatedAt.Format("Jan 02, 2006 at 3:04 PM"))
		}
		if len(rctx.Markers) > 0 {
			if len(rctx.Entries) > 0 {
				history.WriteString("\n\nLONGER-TERM TRENDS:")
			}
			for _, m := range rctx.Markers {
				fmt.Fprintf(&history, "\n- %s: %s", m.PeriodStart.Format("Jan 2006"), m.Summary)
			}
		}
	}

	return fmt.Sprintf(`You are CRAVE AI, a specialized assistant designed to help people understand their cravings.

USER PROFILE:
- User ID: %s

RELEVANT CRAVING HISTORY:
%s

USER QUERY:
%s

GUIDELINES:
1. Provide an empathetic, insightful response based on the user's craving patterns.
2. Ground your response in their actual history, NOT general advice.
3. Identify patterns or triggers if apparent in their data.
4. Be supportive and non-judgmental.
5. Focus on understanding patterns rather than providing medical advice.
6. If you don't have enough data to answer confidently, acknowledge this limitation.

RESPONSE:`, userID, history.String(), query)
}

// Close releases all client resources.
//
// The teardown order matters: the predictor stops emitting hints first, the
// scheduler drains in-flight transfers, cache eviction is frozen, and only
// then are the collaborators closed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.predictor.Stop()
		c.scheduler.Close()
		c.cache.SetDraining(true)

		if e := c.index.Close(); e != nil {
			err = e
		}
		if e := c.embedder.Close(); e != nil && err == nil {
			err = e
		}
		if e := c.inference.Close(); e != nil && err == nil {
			err = e
		}
		if e := c.store.Close(); e != nil && err == nil {
			err = e
		}

		_ = c.log.Sync()
	})
	return NewInsightError("Close", err)
}

// newTrace creates a trace for one request.
func newTrace(requestID string) *RetrievalTrace {
	return &RetrievalTrace{RequestID: requestID}
}
