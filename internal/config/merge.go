package config

import (
	"github.com/rs/zerolog/log"
)

// Resolved is the effective per-request optimizer configuration after the
// three-level merge: process defaults < per-tenant dashboard config <
// per-request overrides. The JSON field names are stable; the result cache
// key hashes the serialized form.
type Resolved struct {
	MaxInputTokens     int     `json:"max_input_tokens"`
	KeepLastNTurns     int     `json:"keep_last_n_turns"`
	SafetyMarginTokens int     `json:"safety_margin_tokens"`
	MinTokensSaved     int     `json:"min_tokens_saved"`
	MinSavingsRatio    float64 `json:"min_savings_ratio"`

	SemanticEnabled     bool    `json:"semantic_enabled"`
	VectorTopK          int     `json:"vector_topk"`
	MMRLambda           float64 `json:"mmr_lambda"`
	SimilarityThreshold float64 `json:"similarity_threshold"`

	CompressionEnabled    bool    `json:"compression_enabled"`
	CompressionRatio      float64 `json:"compression_ratio"`
	FaithfulnessThreshold float64 `json:"faithfulness_threshold"`
	AllowMustKeep         bool    `json:"allow_must_keep"`

	PerTypeFractions map[string]float64 `json:"per_type_fractions"`

	// Dashboard preference passthroughs. They do not steer the core
	// pipeline but are reported in config_resolved and keyed into the cache.
	IncludeSystemMessages bool    `json:"include_system_messages"`
	PreserveCodeBlocks    bool    `json:"preserve_code_blocks"`
	PreserveFormatting    bool    `json:"preserve_formatting"`
	CompressionTarget     float64 `json:"compression_target"`
	TargetCostReduction   float64 `json:"target_cost_reduction"`
}

// Base builds the process-default Resolved config from the loaded Config.
func (c *Config) Base() Resolved {
	fractions := make(map[string]float64, len(c.Budget.PerTypeFractions))
	for k, v := range c.Budget.PerTypeFractions {
		fractions[k] = v
	}

	return Resolved{
		MaxInputTokens:     c.MaxInputTokens,
		KeepLastNTurns:     c.KeepLastNTurns,
		SafetyMarginTokens: c.SafetyMarginTokens,
		MinTokensSaved:     c.MinTokensSaved,
		MinSavingsRatio:    c.MinSavingsRatio,

		SemanticEnabled:     c.Semantic.Enabled,
		VectorTopK:          c.Semantic.VectorTopK,
		MMRLambda:           c.Semantic.MMRLambda,
		SimilarityThreshold: c.Semantic.SimilarityThreshold,

		CompressionEnabled:    c.Compression.Enabled,
		CompressionRatio:      c.Compression.CompressionRatio,
		FaithfulnessThreshold: c.Compression.FaithfulnessThreshold,
		AllowMustKeep:         c.Compression.AllowMustKeep,

		PerTypeFractions: fractions,

		IncludeSystemMessages: true,
		PreserveCodeBlocks:    true,
		PreserveFormatting:    true,
		CompressionTarget:     c.Compression.CompressionRatio,
	}
}

// aggressivenessTargets maps the dashboard's qualitative aggressiveness
// setting to a numeric compression target. Unknown values fall back to 0.5.
var aggressivenessTargets = map[string]float64{
	"low":    0.3,
	"medium": 0.5,
	"high":   0.7,
}

// MapDashboardConfig translates dashboard field names to internal ones.
// The dashboard API uses camelCase keys (maxHistoryMessages) while the
// optimizer uses snake_case; unknown keys are ignored.
func MapDashboardConfig(raw map[string]any) map[string]any {
	if raw == nil {
		return nil
	}

	mapped := make(map[string]any)

	fieldMapping := map[string]string{
		"maxHistoryMessages":    "keep_last_n_turns",
		"maxTokensPerCall":      "max_input_tokens",
		"maxInputTokens":        "max_input_tokens",
		"includeSystemMessages": "include_system_messages",
		"preserveCodeBlocks":    "preserve_code_blocks",
		"preserveFormatting":    "preserve_formatting",
		"targetCostReduction":   "target_cost_reduction",
	}

	for dashKey, internalKey := range fieldMapping {
		if v, ok := raw[dashKey]; ok && v != nil {
			mapped[internalKey] = v
		}
	}

	if v, ok := raw["aggressiveness"]; ok && v != nil {
		s, _ := v.(string)
		target, known := aggressivenessTargets[s]
		if !known {
			target = 0.5
		}
		mapped["compression_target"] = target
	}

	return mapped
}

// Resolve merges the base config with dashboard values and request
// overrides, low to high precedence. Nil values never override. Both
// overlay maps use internal snake_case key names (pass dashboard config
// through MapDashboardConfig first).
func Resolve(base Resolved, dashboard, overrides map[string]any) Resolved {
	out := base

	// Copy the fractions map so callers can mutate the result freely.
	fractions := make(map[string]float64, len(base.PerTypeFractions))
	for k, v := range base.PerTypeFractions {
		fractions[k] = v
	}
	out.PerTypeFractions = fractions

	applyLayer(&out, dashboard)
	applyLayer(&out, overrides)
	return out
}

// applyLayer applies one overlay map onto the resolved config.
func applyLayer(r *Resolved, layer map[string]any) {
	for key, value := range layer {
		if value == nil {
			continue
		}
		switch key {
		case "max_input_tokens":
			if n, ok := asInt(value); ok && n > 0 {
				r.MaxInputTokens = n
			}
		case "keep_last_n_turns":
			if n, ok := asInt(value); ok && n >= 0 {
				r.KeepLastNTurns = n
			}
		case "safety_margin_tokens":
			if n, ok := asInt(value); ok && n >= 0 {
				r.SafetyMarginTokens = n
			}
		case "min_tokens_saved":
			if n, ok := asInt(value); ok && n >= 0 {
				r.MinTokensSaved = n
			}
		case "min_savings_ratio":
			if f, ok := asFloat(value); ok && f >= 0 && f <= 1 {
				r.MinSavingsRatio = f
			}
		case "semantic_enabled":
			if b, ok := value.(bool); ok {
				r.SemanticEnabled = b
			}
		case "vector_topk":
			if n, ok := asInt(value); ok && n > 0 {
				r.VectorTopK = n
			}
		case "mmr_lambda":
			if f, ok := asFloat(value); ok && f >= 0 && f <= 1 {
				r.MMRLambda = f
			}
		case "similarity_threshold":
			if f, ok := asFloat(value); ok {
				r.SimilarityThreshold = f
			}
		case "compression_enabled":
			if b, ok := value.(bool); ok {
				r.CompressionEnabled = b
			}
		case "compression_ratio":
			if f, ok := asFloat(value); ok && f > 0 && f <= 1 {
				r.CompressionRatio = f
			}
		case "faithfulness_threshold":
			if f, ok := asFloat(value); ok && f >= 0 && f <= 1 {
				r.FaithfulnessThreshold = f
			}
		case "allow_must_keep":
			if b, ok := value.(bool); ok {
				r.AllowMustKeep = b
			}
		case "include_system_messages":
			if b, ok := value.(bool); ok {
				r.IncludeSystemMessages = b
			}
		case "preserve_code_blocks":
			if b, ok := value.(bool); ok {
				r.PreserveCodeBlocks = b
			}
		case "preserve_formatting":
			if b, ok := value.(bool); ok {
				r.PreserveFormatting = b
			}
		case "compression_target":
			if f, ok := asFloat(value); ok {
				r.CompressionTarget = f
			}
		case "target_cost_reduction":
			if f, ok := asFloat(value); ok {
				r.TargetCostReduction = f
			}
		default:
			log.Debug().Str("key", key).Msg("ignoring unknown config override")
		}
	}
}

// asInt accepts the numeric shapes a JSON body or TOML file can produce.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case int:
		return float64(f), true
	case int64:
		return float64(f), true
	}
	return 0, false
}
