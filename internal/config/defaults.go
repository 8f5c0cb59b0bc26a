package config

// DefaultConfigFilename is the name of the config file inside ~/.tokenpress.
const DefaultConfigFilename = "tokenpress.toml"

// ValidLogLevels lists the accepted log_level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error"}

// ValidTracingExporters lists the accepted tracing.exporter values.
var ValidTracingExporters = []string{"stdout", "otlp-grpc", "otlp-http"}

// DefaultConfig returns the built-in default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIKey:     "dev-key-12345",
		ListenAddr: ":8000",
		LogLevel:   "info",

		MaxInputTokens:     8000,
		KeepLastNTurns:     4,
		SafetyMarginTokens: 300,
		MinTokensSaved:     0,
		MinSavingsRatio:    0.0,

		RunMigrationsOnStartup: false,

		Server: ServerConfig{
			ReadTimeout:  30,
			WriteTimeout: 60,
			IdleTimeout:  120,
		},
		Dashboard: DashboardConfig{
			Enabled:      false,
			ValidateKeys: false,
		},
		Cache: CacheConfig{
			URL:           "redis://localhost:6379",
			TTLSeconds:    600,
			MemoryEntries: 1024,
			LocalPath:     "~/.tokenpress/cache.db",
		},
		Semantic: SemanticConfig{
			Enabled:             false,
			EmbeddingModel:      "text-embedding-3-small",
			EmbeddingDim:        1536,
			VectorTopK:          30,
			MMRLambda:           0.7,
			SimilarityThreshold: 0.3,
			BatchSize:           32,
			RetentionDays:       30,
		},
		Compression: CompressionConfig{
			Enabled:               false,
			CompressionRatio:      0.5,
			FaithfulnessThreshold: 0.85,
			AllowMustKeep:         false,
		},
		Budget: BudgetConfig{
			PerTypeFractions: map[string]float64{
				"doc":       0.4,
				"assistant": 0.3,
				"tool":      0.2,
				"user":      0.1,
			},
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			ServiceName: "tokenpress",
			SampleRate:  1.0,
		},
	}
}
