// Package core provides the main CraveCore client and insight orchestration.
package core

import (
	"sync"
	"time"
)

// Stage is one step of the insight request lifecycle.
type Stage string

// Insight request lifecycle stages. A request moves RECEIVED through
// DISPATCHED to COMPLETE; adapter and retrieval run concurrently between
// RECEIVED and PROMPT_ASSEMBLY. FAILED is terminal and only ever caused by
// inference unreachability.
const (
	StageReceived       Stage = "RECEIVED"
	StageAdapterResolve Stage = "ADAPTER_RESOLVING"
	StageAdapterReady   Stage = "ADAPTER_READY"
	StageRetrieval      Stage = "RETRIEVAL"
	StagePromptAssembly Stage = "PROMPT_ASSEMBLY"
	StageDispatched     Stage = "DISPATCHED"
	StageComplete       Stage = "COMPLETE"
	StageFailed         Stage = "FAILED"
)

// PersonaNone is the PersonaUsed value of a degraded base-model insight.
const PersonaNone = "none"

// Craving is one logged craving event.
type Craving struct {
	// ID is the log entry id assigned by the vector index.
	ID int64 `json:"id"`

	// UserID identifies the user who logged the craving.
	UserID string `json:"user_id"`

	// Description is the craving description text.
	Description string `json:"description"`

	// Intensity is the logged intensity, 1 through 10.
	Intensity int `json:"intensity"`

	// CreatedAt is when the craving was logged.
	CreatedAt time.Time `json:"created_at"`
}

// TraceEvent is one recorded stage transition or absorbed failure.
type TraceEvent struct {
	// Stage is the lifecycle stage the event belongs to.
	Stage Stage `json:"stage"`

	// At is when the event was recorded.
	At time.Time `json:"at"`

	// Detail carries supplementary text, e.g. the absorbed failure reason.
	Detail string `json:"detail,omitempty"`
}

// RetrievalTrace records the lifecycle of one insight request.
//
// Absorbed adapter-side failures appear as events with a Detail rather than
// failing the request.
type RetrievalTrace struct {
	// RequestID is the unique id assigned to the request.
	RequestID string `json:"request_id"`

	// Events are the recorded transitions in order of occurrence.
	Events []TraceEvent `json:"events"`

	// mu serializes appends from the concurrent adapter and retrieval
	// branches.
	mu sync.Mutex
}

// record appends a trace event.
func (t *RetrievalTrace) record(stage Stage, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Events = append(t.Events, TraceEvent{Stage: stage, At: time.Now().UTC(), Detail: detail})
}

// Stages returns the recorded stages in order. Intended for callers that
// only need the transition sequence.
func (t *RetrievalTrace) Stages() []Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	stages := make([]Stage, len(t.Events))
	for i, e := range t.Events {
		stages[i] = e.Stage
	}
	return stages
}

// Insight is the result of a generate-insight request.
type Insight struct {
	// Text is the generated insight.
	Text string `json:"text"`

	// PersonaUsed is the persona adapter that served the generation, or
	// PersonaNone when the request degraded to the base model.
	PersonaUsed string `json:"persona_used"`

	// ContextItems is the number of history items (raw entries plus trend
	// markers) assembled into the prompt.
	ContextItems int `json:"context_items"`

	// Trace is the request lifecycle record.
	Trace *RetrievalTrace `json:"trace,omitempty"`
}
