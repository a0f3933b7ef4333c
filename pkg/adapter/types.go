// Package adapter provides the persona adapter catalogue and tier model.
//
// An adapter is a named fine-tune payload applied on top of the base model to
// bias generation toward a behavioral archetype (for example "NighttimeBinger"
// or "StressCraver"). The registry owns adapter identity and static metadata;
// residency state lives in the tiered cache.
package adapter

// Tier identifies a cache storage level for an adapter payload.
//
// Tiers form a closed set so that transitions can be checked exhaustively:
//   - TierHot: fastest and smallest tier, payload ready for inference
//   - TierWarm: main-memory tier, payload staged for promotion
//   - TierCold: durable blob storage, always available
//   - TierNone: not resident in any in-memory tier
type Tier string

const (
	// TierHot is the fastest, smallest tier.
	TierHot Tier = "hot"

	// TierWarm is the main-memory staging tier.
	TierWarm Tier = "warm"

	// TierCold is durable blob storage. Every registered adapter is
	// permanently resident here; adapters are never destroyed, only
	// demoted back to cold.
	TierCold Tier = "cold"

	// TierNone indicates the adapter is not resident in any in-memory tier.
	TierNone Tier = "none"
)

// tierRank orders tiers from fastest to slowest. Lower rank is faster.
func tierRank(t Tier) int {
	switch t {
	case TierHot:
		return 0
	case TierWarm:
		return 1
	case TierCold:
		return 2
	default:
		return 3
	}
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierHot, TierWarm, TierCold, TierNone:
		return true
	}
	return false
}

// Faster reports whether t is a strictly faster tier than other.
func (t Tier) Faster(other Tier) bool {
	return tierRank(t) < tierRank(other)
}

// AtLeast reports whether t is the same tier as other or faster.
func (t Tier) AtLeast(other Tier) bool {
	return tierRank(t) <= tierRank(other)
}

// Metadata contains the static description of a persona adapter.
//
// Metadata is immutable after registration. Residency and usage state are
// tracked elsewhere (cache and usage predictor respectively).
type Metadata struct {
	// ID is the persona identifier, e.g. "NighttimeBinger".
	ID string `json:"id"`

	// SizeBytes is the payload size used for tier capacity accounting.
	SizeBytes int64 `json:"size_bytes"`

	// Location is the backend model reference applied at generation time,
	// e.g. a fine-tune name. Payload storage is keyed by ID.
	Location string `json:"location"`
}
