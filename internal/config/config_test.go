package config

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := validate(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero max tokens", func(c *Config) { c.MaxInputTokens = 0 }, "max_input_tokens"},
		{"negative turns", func(c *Config) { c.KeepLastNTurns = -1 }, "keep_last_n_turns"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"savings ratio out of range", func(c *Config) { c.MinSavingsRatio = 1.5 }, "min_savings_ratio"},
		{"mmr lambda out of range", func(c *Config) { c.Semantic.MMRLambda = 2 }, "mmr_lambda"},
		{"compression ratio zero", func(c *Config) { c.Compression.CompressionRatio = 0 }, "compression_ratio"},
		{"fractions over one", func(c *Config) {
			c.Budget.PerTypeFractions = map[string]float64{"doc": 0.8, "user": 0.5}
		}, "per_type_fractions"},
		{"semantic without postgres", func(c *Config) {
			c.Semantic.Enabled = true
			c.Semantic.PostgresURL = ""
		}, "postgres_url"},
		{"dashboard without url", func(c *Config) {
			c.Dashboard.Enabled = true
			c.Dashboard.BaseURL = ""
		}, "base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestMapDashboardConfig(t *testing.T) {
	raw := map[string]any{
		"maxHistoryMessages":    float64(6),
		"maxTokensPerCall":      float64(4000),
		"includeSystemMessages": false,
		"preserveCodeBlocks":    true,
		"aggressiveness":        "high",
		"unknownField":          "ignored",
	}

	mapped := MapDashboardConfig(raw)

	if got := mapped["keep_last_n_turns"]; got != float64(6) {
		t.Errorf("keep_last_n_turns = %v, want 6", got)
	}
	if got := mapped["max_input_tokens"]; got != float64(4000) {
		t.Errorf("max_input_tokens = %v, want 4000", got)
	}
	if got := mapped["include_system_messages"]; got != false {
		t.Errorf("include_system_messages = %v, want false", got)
	}
	if got := mapped["compression_target"]; got != 0.7 {
		t.Errorf("compression_target = %v, want 0.7 for high aggressiveness", got)
	}
	if _, ok := mapped["unknownField"]; ok {
		t.Error("unknown dashboard keys should be dropped")
	}
}

func TestMapDashboardConfigAggressiveness(t *testing.T) {
	tests := []struct {
		level string
		want  float64
	}{
		{"low", 0.3},
		{"medium", 0.5},
		{"high", 0.7},
		{"extreme", 0.5}, // unknown falls back to medium
	}
	for _, tt := range tests {
		mapped := MapDashboardConfig(map[string]any{"aggressiveness": tt.level})
		if got := mapped["compression_target"]; got != tt.want {
			t.Errorf("aggressiveness %q: compression_target = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestMapDashboardConfigNil(t *testing.T) {
	if got := MapDashboardConfig(nil); got != nil {
		t.Errorf("nil input should return nil, got %v", got)
	}
}

func TestResolvePrecedence(t *testing.T) {
	base := DefaultConfig().Base()

	dashboard := map[string]any{
		"max_input_tokens":  float64(6000),
		"keep_last_n_turns": float64(2),
	}
	overrides := map[string]any{
		"max_input_tokens": float64(4000),
	}

	resolved := Resolve(base, dashboard, overrides)

	// Request overrides beat dashboard, dashboard beats base.
	if resolved.MaxInputTokens != 4000 {
		t.Errorf("MaxInputTokens = %d, want 4000 (request override)", resolved.MaxInputTokens)
	}
	if resolved.KeepLastNTurns != 2 {
		t.Errorf("KeepLastNTurns = %d, want 2 (dashboard)", resolved.KeepLastNTurns)
	}
	// Untouched fields keep base values.
	if resolved.SafetyMarginTokens != base.SafetyMarginTokens {
		t.Errorf("SafetyMarginTokens = %d, want base %d", resolved.SafetyMarginTokens, base.SafetyMarginTokens)
	}
}

func TestResolveNilNeverOverrides(t *testing.T) {
	base := DefaultConfig().Base()

	resolved := Resolve(base, map[string]any{
		"max_input_tokens": nil,
		"semantic_enabled": nil,
	}, nil)

	if resolved.MaxInputTokens != base.MaxInputTokens {
		t.Errorf("nil dashboard value overrode MaxInputTokens: %d", resolved.MaxInputTokens)
	}
	if resolved.SemanticEnabled != base.SemanticEnabled {
		t.Error("nil dashboard value overrode SemanticEnabled")
	}
}

func TestResolveIgnoresInvalidValues(t *testing.T) {
	base := DefaultConfig().Base()

	resolved := Resolve(base, nil, map[string]any{
		"max_input_tokens": float64(-100),
		"mmr_lambda":       float64(3),
		"semantic_enabled": "yes", // wrong type
	})

	if resolved.MaxInputTokens != base.MaxInputTokens {
		t.Errorf("negative override should be ignored, got %d", resolved.MaxInputTokens)
	}
	if resolved.MMRLambda != base.MMRLambda {
		t.Errorf("out-of-range lambda should be ignored, got %g", resolved.MMRLambda)
	}
	if resolved.SemanticEnabled != base.SemanticEnabled {
		t.Error("wrong-typed override should be ignored")
	}
}

func TestResolveCopiesFractions(t *testing.T) {
	base := DefaultConfig().Base()
	resolved := Resolve(base, nil, nil)

	resolved.PerTypeFractions["doc"] = 0.99
	if base.PerTypeFractions["doc"] == 0.99 {
		t.Error("Resolve must not share the fractions map with its input")
	}
}

func TestResolvedJSONDeterministic(t *testing.T) {
	// The result cache hashes the serialized resolved config, so two
	// identical merges must serialize identically.
	base := DefaultConfig().Base()
	overrides := map[string]any{"compression_enabled": true, "compression_ratio": 0.4}

	a, err := json.Marshal(Resolve(base, nil, overrides))
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(Resolve(base, nil, overrides))
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Errorf("serialization not deterministic:\n%s\n%s", a, b)
	}
}
