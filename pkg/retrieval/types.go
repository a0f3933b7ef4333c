// Package retrieval assembles bounded, time-weighted retrieval contexts from
// an unbounded craving history.
//
// Recent entries are returned raw, scored by similarity times a recency
// weight. History older than the raw-retention window is never returned
// entry by entry: it is folded into monthly trend markers that conserve
// entry counts exactly.
package retrieval

import (
	"fmt"
	"time"
)

// ContextEntry is one raw craving entry selected into a retrieval context.
type ContextEntry struct {
	// EntryID is the log entry id.
	EntryID int64

	// Description is the craving description text.
	Description string

	// Intensity is the logged intensity (1-10).
	Intensity int

	// CreatedAt is when the craving was logged.
	CreatedAt time.Time

	// Similarity is the raw embedding similarity to the query.
	Similarity float64

	// FinalScore is similarity times the recency weight.
	FinalScore float64
}

// TrendMarker is a compressed aggregate replacing the raw entries of one
// time bucket.
//
// Invariant: the Count fields of the markers covering a period sum to
// exactly the number of raw entries they replace.
type TrendMarker struct {
	// PeriodStart is the inclusive start of the bucket.
	PeriodStart time.Time

	// PeriodEnd is the exclusive end of the bucket.
	PeriodEnd time.Time

	// Count is the number of raw entries folded into this marker.
	Count int

	// AvgIntensity is the mean logged intensity across folded entries.
	AvgIntensity float64

	// Summary is a short human-readable digest of the bucket.
	Summary string
}

// Context is an assembled retrieval context: raw entries ordered by score,
// followed by trend markers ordered newest bucket first, bounded by the
// configured item and token budgets.
type Context struct {
	// Entries are the selected raw entries, highest score first.
	Entries []ContextEntry

	// Markers are the trend markers for periods not covered by raw entries.
	Markers []TrendMarker

	// TokenEstimate is the approximate token footprint of the context.
	TokenEstimate int
}

// Items returns the total item count (raw entries plus markers).
func (c *Context) Items() int {
	return len(c.Entries) + len(c.Markers)
}

// Empty reports whether the context carries no history at all.
func (c *Context) Empty() bool {
	return len(c.Entries) == 0 && len(c.Markers) == 0
}

// estimateTokens approximates the token cost of a text at four characters
// per token, the usual rule of thumb for English prose.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// entryLine renders a raw entry the way it appears in the prompt.
func (e *ContextEntry) entryLine(i int) string {
	return fmt.Sprintf("%d. %s (Intensity: %d/10, %s)",
		i, e.Description, e.Intensity, e.CreatedAt.Format("Jan 02, 2006 at 3:04 PM"))
}

// markerLine renders a trend marker the way it appears in the prompt.
func (m *TrendMarker) markerLine() string {
	return fmt.Sprintf("- %s: %s", m.PeriodStart.Format("Jan 2006"), m.Summary)
}
