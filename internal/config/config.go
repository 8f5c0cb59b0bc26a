package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for the tokenpress service.
// Optimizer knobs at the top level are the process defaults; the dashboard
// and per-request overrides layer on top of them (see Resolve).
type Config struct {
	APIKey     string `mapstructure:"api_key"     toml:"api_key"`
	ListenAddr string `mapstructure:"listen_addr" toml:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"   toml:"log_level"`

	OpenAIAPIKey    string `mapstructure:"openai_api_key"    toml:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key" toml:"anthropic_api_key"`

	MaxInputTokens     int     `mapstructure:"max_input_tokens"     toml:"max_input_tokens"`
	KeepLastNTurns     int     `mapstructure:"keep_last_n_turns"    toml:"keep_last_n_turns"`
	SafetyMarginTokens int     `mapstructure:"safety_margin_tokens" toml:"safety_margin_tokens"`
	MinTokensSaved     int     `mapstructure:"min_tokens_saved"     toml:"min_tokens_saved"`
	MinSavingsRatio    float64 `mapstructure:"min_savings_ratio"    toml:"min_savings_ratio"`

	RunMigrationsOnStartup bool `mapstructure:"run_migrations_on_startup" toml:"run_migrations_on_startup"`

	Server      ServerConfig      `mapstructure:"server"      toml:"server"`
	Dashboard   DashboardConfig   `mapstructure:"dashboard"   toml:"dashboard"`
	Cache       CacheConfig       `mapstructure:"cache"       toml:"cache"`
	Semantic    SemanticConfig    `mapstructure:"semantic"    toml:"semantic"`
	Compression CompressionConfig `mapstructure:"compression" toml:"compression"`
	Budget      BudgetConfig      `mapstructure:"budget"      toml:"budget"`
	Tracing     TracingConfig     `mapstructure:"tracing"     toml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ReadTimeout  int `mapstructure:"read_timeout"  toml:"read_timeout"`  // seconds
	WriteTimeout int `mapstructure:"write_timeout" toml:"write_timeout"` // seconds
	IdleTimeout  int `mapstructure:"idle_timeout"  toml:"idle_timeout"`  // seconds
}

// DashboardConfig controls the per-tenant dashboard integration.
type DashboardConfig struct {
	Enabled      bool   `mapstructure:"enabled"       toml:"enabled"`
	BaseURL      string `mapstructure:"base_url"      toml:"base_url"`
	APIKey       string `mapstructure:"api_key"       toml:"api_key"`
	ValidateKeys bool   `mapstructure:"validate_keys" toml:"validate_keys"`
}

// EffectiveAPIKey returns the dashboard API key, falling back to the
// middleware key when unset.
func (d DashboardConfig) EffectiveAPIKey(middlewareKey string) string {
	if d.APIKey != "" {
		return d.APIKey
	}
	return middlewareKey
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	URL           string `mapstructure:"url"            toml:"url"`
	TTLSeconds    int    `mapstructure:"ttl_seconds"    toml:"ttl_seconds"`
	MemoryEntries int    `mapstructure:"memory_entries" toml:"memory_entries"`
	LocalPath     string `mapstructure:"local_path"     toml:"local_path"`
}

// SemanticConfig controls embeddings and the vector store.
type SemanticConfig struct {
	Enabled             bool    `mapstructure:"enabled"              toml:"enabled"`
	PostgresURL         string  `mapstructure:"postgres_url"         toml:"postgres_url"`
	EmbeddingBaseURL    string  `mapstructure:"embedding_base_url"   toml:"embedding_base_url"`
	EmbeddingModel      string  `mapstructure:"embedding_model"      toml:"embedding_model"`
	EmbeddingDim        int     `mapstructure:"embedding_dim"        toml:"embedding_dim"`
	VectorTopK          int     `mapstructure:"vector_topk"          toml:"vector_topk"`
	MMRLambda           float64 `mapstructure:"mmr_lambda"           toml:"mmr_lambda"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" toml:"similarity_threshold"`
	BatchSize           int     `mapstructure:"batch_size"           toml:"batch_size"`
	RetentionDays       int     `mapstructure:"retention_days"       toml:"retention_days"`
}

// CompressionConfig controls the per-block compressor.
type CompressionConfig struct {
	Enabled               bool    `mapstructure:"enabled"                toml:"enabled"`
	CompressionRatio      float64 `mapstructure:"compression_ratio"      toml:"compression_ratio"`
	FaithfulnessThreshold float64 `mapstructure:"faithfulness_threshold" toml:"faithfulness_threshold"`
	AllowMustKeep         bool    `mapstructure:"allow_must_keep"        toml:"allow_must_keep"`
}

// BudgetConfig controls token budget allocation across block types.
type BudgetConfig struct {
	PerTypeFractions map[string]float64 `mapstructure:"per_type_fractions" toml:"per_type_fractions"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "tokenpress"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// Load reads configuration with the following precedence:
//  1. Environment variables (TOKENPRESS_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.tokenpress/tokenpress.toml
//  4. ./tokenpress.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: TOKENPRESS_SEMANTIC_ENABLED etc.
	v.SetEnvPrefix("TOKENPRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Determine which file(s) to read.
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".tokenpress"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("tokenpress")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Store the resolved config file path.
	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Cache.LocalPath = expandHome(cfg.Cache.LocalPath)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to
// ~/.tokenpress/tokenpress.toml. If the file already exists it is not
// overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".tokenpress")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("openai_api_key", d.OpenAIAPIKey)
	v.SetDefault("anthropic_api_key", d.AnthropicAPIKey)

	v.SetDefault("max_input_tokens", d.MaxInputTokens)
	v.SetDefault("keep_last_n_turns", d.KeepLastNTurns)
	v.SetDefault("safety_margin_tokens", d.SafetyMarginTokens)
	v.SetDefault("min_tokens_saved", d.MinTokensSaved)
	v.SetDefault("min_savings_ratio", d.MinSavingsRatio)
	v.SetDefault("run_migrations_on_startup", d.RunMigrationsOnStartup)

	// Server
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)

	// Dashboard
	v.SetDefault("dashboard.enabled", d.Dashboard.Enabled)
	v.SetDefault("dashboard.base_url", d.Dashboard.BaseURL)
	v.SetDefault("dashboard.api_key", d.Dashboard.APIKey)
	v.SetDefault("dashboard.validate_keys", d.Dashboard.ValidateKeys)

	// Cache
	v.SetDefault("cache.url", d.Cache.URL)
	v.SetDefault("cache.ttl_seconds", d.Cache.TTLSeconds)
	v.SetDefault("cache.memory_entries", d.Cache.MemoryEntries)
	v.SetDefault("cache.local_path", d.Cache.LocalPath)

	// Semantic
	v.SetDefault("semantic.enabled", d.Semantic.Enabled)
	v.SetDefault("semantic.postgres_url", d.Semantic.PostgresURL)
	v.SetDefault("semantic.embedding_base_url", d.Semantic.EmbeddingBaseURL)
	v.SetDefault("semantic.embedding_model", d.Semantic.EmbeddingModel)
	v.SetDefault("semantic.embedding_dim", d.Semantic.EmbeddingDim)
	v.SetDefault("semantic.vector_topk", d.Semantic.VectorTopK)
	v.SetDefault("semantic.mmr_lambda", d.Semantic.MMRLambda)
	v.SetDefault("semantic.similarity_threshold", d.Semantic.SimilarityThreshold)
	v.SetDefault("semantic.batch_size", d.Semantic.BatchSize)
	v.SetDefault("semantic.retention_days", d.Semantic.RetentionDays)

	// Compression
	v.SetDefault("compression.enabled", d.Compression.Enabled)
	v.SetDefault("compression.compression_ratio", d.Compression.CompressionRatio)
	v.SetDefault("compression.faithfulness_threshold", d.Compression.FaithfulnessThreshold)
	v.SetDefault("compression.allow_must_keep", d.Compression.AllowMustKeep)

	// Budget
	v.SetDefault("budget.per_type_fractions", d.Budget.PerTypeFractions)

	// Tracing
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
