// Package core provides the main CraveCore client and insight orchestration.
package core

// InsightOption is a function type for configuring GenerateInsight operations.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type InsightOption func(*InsightOptions)

// InsightOptions contains configuration options for GenerateInsight.
type InsightOptions struct {
	// Persona is the persona adapter requested for the generation. Empty
	// selects the base model directly.
	Persona string

	// TopK overrides the configured raw entry target count when positive.
	TopK int

	// DisableTimeWeighting turns off recency weighting, ranking raw entries
	// by similarity alone.
	DisableTimeWeighting bool
}

// WithPersona requests a persona adapter for the generation.
//
// Example:
//
//	insight, _ := client.GenerateInsight(ctx, "user_001", "late night sugar",
//	    core.WithPersona("NighttimeBinger"))
func WithPersona(persona string) InsightOption {
	return func(opts *InsightOptions) {
		opts.Persona = persona
	}
}

// WithTopK overrides the number of raw history entries targeted for the
// prompt context.
func WithTopK(k int) InsightOption {
	return func(opts *InsightOptions) {
		opts.TopK = k
	}
}

// WithoutTimeWeighting disables recency weighting for this request, ranking
// raw entries by embedding similarity alone.
func WithoutTimeWeighting() InsightOption {
	return func(opts *InsightOptions) {
		opts.DisableTimeWeighting = true
	}
}
