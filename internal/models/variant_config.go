// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// OrderingStrategy selects how a variant orders content.
type OrderingStrategy string

const (
	OrderingDefault     OrderingStrategy = "default"
	OrderingPriceAsc    OrderingStrategy = "price_asc"
	OrderingPriceDesc   OrderingStrategy = "price_desc"
	OrderingNewestFirst OrderingStrategy = "newest_first"
	OrderingRandom      OrderingStrategy = "random"
	OrderingBandit      OrderingStrategy = "bandit"
)

// knownOrderings gates admin input at the boundary.
var knownOrderings = map[OrderingStrategy]bool{
	OrderingDefault:     true,
	OrderingPriceAsc:    true,
	OrderingPriceDesc:   true,
	OrderingNewestFirst: true,
	OrderingRandom:      true,
	OrderingBandit:      true,
}

// BanditOptions configures bandit-driven ordering on a variant.
type BanditOptions struct {
	// Algorithm is thompson, ucb, or epsilon. Empty string falls back to
	// the engine-wide default.
	Algorithm string `json:"algorithm,omitempty"`

	// Epsilon overrides the exploration rate for epsilon-greedy.
	Epsilon *float64 `json:"epsilon,omitempty"`

	// UCBConstant overrides the exploration constant c for UCB1.
	UCBConstant *float64 `json:"c,omitempty"`
}

// VariantConfig is the typed form of a variant's free-form configuration
// payload. Known shapes (ordering strategy, bandit options, display
// overrides, module ordering) are parsed into fields; everything else is
// preserved opaquely in Extra and round-trips unchanged.
//
// The original admin payloads are JSON objects like:
//
//	{"itemOrdering": "bandit", "banditAlgorithm": "ucb",
//	 "banditOptions": {"c": 1.2}, "displaySettings": {"layout": "grid"}}
type VariantConfig struct {
	// Ordering is the item-ordering strategy. Empty means OrderingDefault.
	Ordering OrderingStrategy

	// Bandit holds algorithm options when Ordering == OrderingBandit.
	Bandit *BanditOptions

	// DisplaySettings are presentation overrides merged into responses by
	// the rendering layer. Opaque to this engine.
	DisplaySettings map[string]json.RawMessage

	// ModuleOrdering reorders feed modules by ID.
	ModuleOrdering []string

	// Extra preserves unrecognized keys verbatim.
	Extra map[string]json.RawMessage
}

// variantConfigWire mirrors the original payload's key names.
type variantConfigWire struct {
	ItemOrdering    string                     `json:"itemOrdering,omitempty"`
	BanditAlgorithm string                     `json:"banditAlgorithm,omitempty"`
	BanditOptions   *BanditOptions             `json:"banditOptions,omitempty"`
	DisplaySettings map[string]json.RawMessage `json:"displaySettings,omitempty"`
	ModuleOrdering  []string                   `json:"moduleOrdering,omitempty"`
}

// knownConfigKeys are consumed by the typed fields; all other keys land in Extra.
var knownConfigKeys = map[string]bool{
	"itemOrdering":    true,
	"banditAlgorithm": true,
	"banditOptions":   true,
	"displaySettings": true,
	"moduleOrdering":  true,
}

// UnmarshalJSON parses a variant config payload, rejecting malformed known
// shapes while preserving unknown keys.
func (c *VariantConfig) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*c = VariantConfig{}
		return nil
	}

	var wire variantConfigWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("malformed variant config: %w", err)
	}

	parsed := VariantConfig{
		DisplaySettings: wire.DisplaySettings,
		ModuleOrdering:  wire.ModuleOrdering,
	}

	if wire.ItemOrdering != "" {
		ordering := OrderingStrategy(wire.ItemOrdering)
		if !knownOrderings[ordering] {
			return fmt.Errorf("unknown item ordering %q", wire.ItemOrdering)
		}
		parsed.Ordering = ordering
	}

	if wire.BanditOptions != nil {
		parsed.Bandit = wire.BanditOptions
	}
	if wire.BanditAlgorithm != "" {
		if parsed.Bandit == nil {
			parsed.Bandit = &BanditOptions{}
		}
		if parsed.Bandit.Algorithm == "" {
			parsed.Bandit.Algorithm = wire.BanditAlgorithm
		}
	}
	if parsed.Bandit != nil {
		switch parsed.Bandit.Algorithm {
		case "", "thompson", "ucb", "epsilon":
		default:
			return fmt.Errorf("unknown bandit algorithm %q", parsed.Bandit.Algorithm)
		}
	}

	// Preserve unrecognized keys.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("malformed variant config: %w", err)
	}
	for key, val := range raw {
		if !knownConfigKeys[key] {
			if parsed.Extra == nil {
				parsed.Extra = make(map[string]json.RawMessage)
			}
			parsed.Extra[key] = val
		}
	}

	*c = parsed
	return nil
}

// MarshalJSON writes the payload back in the original key names, merging
// Extra keys last so a round-trip preserves opaque configuration.
func (c VariantConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{})
	if c.Ordering != "" {
		out["itemOrdering"] = string(c.Ordering)
	}
	if c.Bandit != nil {
		if c.Bandit.Algorithm != "" {
			out["banditAlgorithm"] = c.Bandit.Algorithm
		}
		if c.Bandit.Epsilon != nil || c.Bandit.UCBConstant != nil {
			out["banditOptions"] = c.Bandit
		}
	}
	if len(c.DisplaySettings) > 0 {
		out["displaySettings"] = c.DisplaySettings
	}
	if len(c.ModuleOrdering) > 0 {
		out["moduleOrdering"] = c.ModuleOrdering
	}
	for key, val := range c.Extra {
		if _, taken := out[key]; !taken {
			out[key] = val
		}
	}
	return json.Marshal(out)
}

// IsBandit reports whether this variant requests bandit-driven ordering.
func (c *VariantConfig) IsBandit() bool {
	return c.Ordering == OrderingBandit
}

// AlgorithmOrDefault returns the configured bandit algorithm, falling back
// to the supplied engine default.
func (c *VariantConfig) AlgorithmOrDefault(def string) string {
	if c.Bandit != nil && c.Bandit.Algorithm != "" {
		return c.Bandit.Algorithm
	}
	return def
}
