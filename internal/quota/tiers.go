// Package quota implements the per-user, per-model, per-feature quota ledger
// and tier policy gate that sits in front of every billable action: chat
// requests, council rounds, music/jam/training jobs, and tier-gated tool
// dispatch.
package quota

import "github.com/conclave-ai/conclave/pkg/models"

// Bundle is the capability bundle a tier resolves to. It is pure
// configuration, loaded once at process start into an immutable snapshot;
// nothing in this package mutates a Bundle after construction.
type Bundle struct {
	Tier Tier `yaml:"tier" json:"tier"`

	MessagesPerPeriod int64 `yaml:"messages_per_period" json:"messages_per_period"`
	OpusMessages      int64 `yaml:"opus_messages" json:"opus_messages"`

	ToolsEnabled bool     `yaml:"tools_enabled" json:"tools_enabled"`
	SafeBinsOnly bool     `yaml:"safe_bins_only" json:"safe_bins_only"`
	AllowedModels []string `yaml:"allowed_models" json:"allowed_models"` // empty means "all"

	CouncilEnabled    bool `yaml:"council_enabled" json:"council_enabled"`
	CouncilMaxAgents  int  `yaml:"council_max_agents" json:"council_max_agents"` // 0 means unbounded
	MusicEnabled      bool `yaml:"music_enabled" json:"music_enabled"`
	JamEnabled        bool `yaml:"jam_enabled" json:"jam_enabled"`
	TrainingEnabled   bool `yaml:"training_enabled" json:"training_enabled"`
	ContextWindow     int  `yaml:"context_window" json:"context_window"`
	DevModeEligible   bool `yaml:"dev_mode_eligible" json:"dev_mode_eligible"`
}

// Tier re-exports models.Tier so callers of this package rarely need to
// import pkg/models directly for tier comparisons.
type Tier = models.Tier

const (
	TierTrial     = models.TierTrial
	TierSeeker    = models.TierSeeker
	TierAlchemist = models.TierAlchemist
	TierAdept     = models.TierAdept
	TierOpus      = models.TierOpus
	TierAzothic   = models.TierAzothic
)

// DefaultBundles is the static tier -> capability bundle table. It is the
// default snapshot used when no configuration overrides it; tests inject
// alternative snapshots rather than mutating this one.
func DefaultBundles() map[Tier]Bundle {
	return map[Tier]Bundle{
		TierTrial: {
			Tier:              TierTrial,
			MessagesPerPeriod: 50,
			OpusMessages:      0,
			ToolsEnabled:      false,
			ContextWindow:     8_000,
		},
		TierSeeker: {
			Tier:              TierSeeker,
			MessagesPerPeriod: 500,
			OpusMessages:      0,
			ToolsEnabled:      true,
			SafeBinsOnly:      true,
			ContextWindow:     32_000,
		},
		TierAlchemist: {
			Tier:              TierAlchemist,
			MessagesPerPeriod: 2_000,
			OpusMessages:      100,
			ToolsEnabled:      true,
			JamEnabled:        true,
			ContextWindow:     128_000,
		},
		TierAdept: {
			Tier:              TierAdept,
			MessagesPerPeriod: 10_000,
			OpusMessages:      1_000,
			ToolsEnabled:      true,
			CouncilEnabled:    true,
			CouncilMaxAgents:  3,
			JamEnabled:        true,
			MusicEnabled:      true,
			ContextWindow:     200_000,
		},
		TierOpus: {
			Tier:              TierOpus,
			MessagesPerPeriod: 50_000,
			OpusMessages:      10_000,
			ToolsEnabled:      true,
			CouncilEnabled:    true,
			CouncilMaxAgents:  6,
			JamEnabled:        true,
			MusicEnabled:      true,
			TrainingEnabled:   true,
			ContextWindow:     200_000,
			DevModeEligible:   true,
		},
		TierAzothic: {
			Tier:              TierAzothic,
			MessagesPerPeriod: 0, // unlimited
			OpusMessages:      0, // unlimited
			ToolsEnabled:      true,
			CouncilEnabled:    true,
			CouncilMaxAgents:  0, // unbounded
			JamEnabled:        true,
			MusicEnabled:      true,
			TrainingEnabled:   true,
			ContextWindow:     200_000,
			DevModeEligible:   true,
		},
	}
}

// limitFor returns the per-period limit for a counter kind under a bundle.
// A zero/negative return means unlimited.
func (b Bundle) limitFor(kind models.CounterKind) int64 {
	switch kind {
	case models.CounterMessagesTotal:
		return b.MessagesPerPeriod
	case models.CounterMessagesOpus:
		return b.OpusMessages
	default:
		return 0
	}
}

// modelAllowed reports whether modelID is permitted under this bundle.
// An empty AllowedModels list means every model is allowed subject to the
// opus sub-limit, checked separately by the Gate.
func (b Bundle) modelAllowed(modelID string) bool {
	if len(b.AllowedModels) == 0 {
		return true
	}
	for _, m := range b.AllowedModels {
		if m == modelID {
			return true
		}
	}
	return false
}
