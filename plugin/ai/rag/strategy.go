// Package rag retrieves, ranks and filters grounding evidence for answers.
package rag

import (
	"github.com/hrygo/marketsense/plugin/ai/capability"
	"github.com/hrygo/marketsense/store"
)

// StrategyConfig contains weights and scope for hybrid search.
type StrategyConfig struct {
	TextWeight   float64
	VectorWeight float64
	// SourceTypes restricts the corpus rows searched; empty means all.
	SourceTypes []string
}

// strategyConfigs maps capabilities to their configurations.
var strategyConfigs = map[capability.Capability]StrategyConfig{
	capability.MarketBrief: {
		TextWeight:   0.4,
		VectorWeight: 0.6,
		SourceTypes:  []string{string(store.EntityTypeKeyword), string(store.EntityTypeListing), string(store.EntityTypeDoc)},
	},
	capability.CompetitorIntel: {
		TextWeight:   0.5,
		VectorWeight: 0.5,
		SourceTypes:  []string{string(store.EntityTypeShop), string(store.EntityTypeListing), string(store.EntityTypeKeyword)},
	},
	// Keyword questions usually name the keyword, so exact terms dominate.
	capability.KeywordExplanation: {
		TextWeight:   0.7,
		VectorWeight: 0.3,
		SourceTypes:  []string{string(store.EntityTypeKeyword)},
	},
	capability.AlertExplanation: {
		TextWeight:   0.5,
		VectorWeight: 0.5,
		SourceTypes:  []string{string(store.EntityTypeAlert)},
	},
	capability.GeneralChat: {
		TextWeight:   0.5,
		VectorWeight: 0.5,
	},
}

// GetStrategyConfig returns the configuration for a capability, falling
// back to the general chat strategy.
func GetStrategyConfig(c capability.Capability) StrategyConfig {
	if config, ok := strategyConfigs[c]; ok {
		return config
	}
	return strategyConfigs[capability.GeneralChat]
}
