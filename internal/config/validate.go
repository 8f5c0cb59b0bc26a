package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	if cfg.ListenAddr == "" {
		errs = append(errs, "listen_addr must not be empty")
	}
	if !isValidEnum(cfg.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("log_level must be one of %v, got %q", ValidLogLevels, cfg.LogLevel))
	}
	if cfg.APIKey == "" {
		errs = append(errs, "api_key must not be empty")
	}

	if cfg.MaxInputTokens <= 0 {
		errs = append(errs, fmt.Sprintf("max_input_tokens must be positive, got %d", cfg.MaxInputTokens))
	}
	if cfg.KeepLastNTurns < 0 {
		errs = append(errs, fmt.Sprintf("keep_last_n_turns must be non-negative, got %d", cfg.KeepLastNTurns))
	}
	if cfg.SafetyMarginTokens < 0 {
		errs = append(errs, fmt.Sprintf("safety_margin_tokens must be non-negative, got %d", cfg.SafetyMarginTokens))
	}
	if cfg.MinTokensSaved < 0 {
		errs = append(errs, fmt.Sprintf("min_tokens_saved must be non-negative, got %d", cfg.MinTokensSaved))
	}
	if cfg.MinSavingsRatio < 0 || cfg.MinSavingsRatio > 1 {
		errs = append(errs, fmt.Sprintf("min_savings_ratio must be in [0,1], got %g", cfg.MinSavingsRatio))
	}

	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}

	if cfg.Dashboard.Enabled && cfg.Dashboard.BaseURL == "" {
		errs = append(errs, "dashboard.base_url must be set when dashboard.enabled is true")
	}

	if cfg.Cache.TTLSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("cache.ttl_seconds must be positive, got %d", cfg.Cache.TTLSeconds))
	}
	if cfg.Cache.MemoryEntries <= 0 {
		errs = append(errs, fmt.Sprintf("cache.memory_entries must be positive, got %d", cfg.Cache.MemoryEntries))
	}

	if cfg.Semantic.Enabled && cfg.Semantic.PostgresURL == "" {
		errs = append(errs, "semantic.postgres_url must be set when semantic.enabled is true")
	}
	if cfg.Semantic.VectorTopK <= 0 {
		errs = append(errs, fmt.Sprintf("semantic.vector_topk must be positive, got %d", cfg.Semantic.VectorTopK))
	}
	if cfg.Semantic.MMRLambda < 0 || cfg.Semantic.MMRLambda > 1 {
		errs = append(errs, fmt.Sprintf("semantic.mmr_lambda must be in [0,1], got %g", cfg.Semantic.MMRLambda))
	}
	if cfg.Semantic.SimilarityThreshold < -1 || cfg.Semantic.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Sprintf("semantic.similarity_threshold must be in [-1,1], got %g", cfg.Semantic.SimilarityThreshold))
	}
	if cfg.Semantic.BatchSize <= 0 {
		errs = append(errs, fmt.Sprintf("semantic.batch_size must be positive, got %d", cfg.Semantic.BatchSize))
	}

	if cfg.Compression.CompressionRatio <= 0 || cfg.Compression.CompressionRatio > 1 {
		errs = append(errs, fmt.Sprintf("compression.compression_ratio must be in (0,1], got %g", cfg.Compression.CompressionRatio))
	}
	if cfg.Compression.FaithfulnessThreshold < 0 || cfg.Compression.FaithfulnessThreshold > 1 {
		errs = append(errs, fmt.Sprintf("compression.faithfulness_threshold must be in [0,1], got %g", cfg.Compression.FaithfulnessThreshold))
	}

	var fracSum float64
	for name, frac := range cfg.Budget.PerTypeFractions {
		if frac < 0 {
			errs = append(errs, fmt.Sprintf("budget.per_type_fractions[%s] must be non-negative, got %g", name, frac))
		}
		fracSum += frac
	}
	if fracSum > 1.0001 {
		errs = append(errs, fmt.Sprintf("budget.per_type_fractions must sum to at most 1, got %g", fracSum))
	}

	if cfg.Tracing.Enabled && !isValidEnum(cfg.Tracing.Exporter, ValidTracingExporters) {
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", ValidTracingExporters, cfg.Tracing.Exporter))
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be in [0,1], got %g", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum reports whether value is in the allowed list.
func isValidEnum(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
