// Package app wires the subsystems together and runs the HTTP service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/tokenpress/internal/api"
	"github.com/allaspectsdev/tokenpress/internal/config"
	"github.com/allaspectsdev/tokenpress/internal/dashboard"
	"github.com/allaspectsdev/tokenpress/internal/metrics"
	"github.com/allaspectsdev/tokenpress/internal/pipeline"
	"github.com/allaspectsdev/tokenpress/internal/provider"
	"github.com/allaspectsdev/tokenpress/internal/resultcache"
	"github.com/allaspectsdev/tokenpress/internal/secrets"
	"github.com/allaspectsdev/tokenpress/internal/semantic"
	"github.com/allaspectsdev/tokenpress/internal/tokenizer"
	"github.com/allaspectsdev/tokenpress/internal/tracing"
	"github.com/allaspectsdev/tokenpress/internal/vectorstore"
	"github.com/allaspectsdev/tokenpress/internal/version"
)

const shutdownGrace = 30 * time.Second

// Run is the main service orchestrator. It initialises all subsystems,
// starts the HTTP server, and blocks until a shutdown signal is received.
func Run(cfg *config.Config) error {
	setupLogger(cfg.LogLevel)

	log.Info().
		Str("version", version.Version).
		Str("addr", cfg.ListenAddr).
		Msg("tokenpress starting")

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Tracing first, so every later subsystem can open spans.
	if cfg.Tracing.Enabled {
		serviceName := cfg.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "tokenpress"
		}
		shutdownTracing, err := tracing.Init(rootCtx, serviceName, version.Version,
			cfg.Tracing.Exporter, cfg.Tracing.Endpoint, cfg.Tracing.SampleRate, cfg.Tracing.Insecure)
		if err != nil {
			log.Warn().Err(err).Msg("tracing init failed; continuing without traces")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(ctx); err != nil {
					log.Error().Err(err).Msg("tracer shutdown error")
				}
			}()
			log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing initialized")
		}
	}

	collector := metrics.NewCollector()

	// Result cache: Redis when configured, otherwise a local SQLite file,
	// otherwise memory-only.
	cache, backend, err := openResultCache(rootCtx, cfg)
	if err != nil {
		return fmt.Errorf("opening result cache: %w", err)
	}
	defer cache.Close()
	purgerDone := cache.StartPurger(rootCtx)
	log.Info().Str("backend", backend).Dur("ttl", cache.TTL()).Msg("result cache ready")

	vault := secrets.New()

	// Vector store and embedder, only when the semantic stage is on.
	var vectors *vectorstore.Store
	var embedder *semantic.Embedder
	if cfg.Semantic.Enabled {
		if cfg.Semantic.PostgresURL != "" {
			vs, err := vectorstore.Open(rootCtx, cfg.Semantic.PostgresURL)
			if err != nil {
				log.Warn().Err(err).Msg("postgres unavailable; semantic retrieval will not persist blocks")
			} else {
				vectors = vs
				defer vectors.Close()
				if cfg.RunMigrationsOnStartup {
					if err := vectors.Migrate(rootCtx); err != nil {
						return fmt.Errorf("running vector store migrations: %w", err)
					}
					log.Info().Msg("vector store migrations applied")
				}
			}
		}

		embedder = semantic.NewEmbedder(semantic.EmbedderConfig{
			Enabled:    true,
			APIKey:     resolveKey(vault, cfg.OpenAIAPIKey, "embedding", "openai"),
			BaseURL:    cfg.Semantic.EmbeddingBaseURL,
			Model:      cfg.Semantic.EmbeddingModel,
			Dimensions: cfg.Semantic.EmbeddingDim,
			BatchSize:  cfg.Semantic.BatchSize,
		})
		log.Info().
			Str("model", embedder.Model()).
			Bool("available", embedder.Available()).
			Bool("postgres", vectors != nil).
			Msg("semantic stage configured")

		if vectors != nil && cfg.Semantic.RetentionDays > 0 {
			go runRetention(rootCtx, vectors, cfg.Semantic.RetentionDays)
		}
	}

	// Dashboard client for per-tenant config, key validation, and events.
	var dash *dashboard.Client
	if cfg.Dashboard.Enabled {
		dash = dashboard.NewClient(cfg.Dashboard.BaseURL, cfg.Dashboard.EffectiveAPIKey(cfg.APIKey))
		if dash != nil {
			dash.OnEvent = collector.RecordDashboardEvent
			log.Info().Str("base_url", cfg.Dashboard.BaseURL).Msg("dashboard client configured")
		}
	}

	// Completion providers. A provider with no key is simply not registered;
	// /v1/chat rejects requests for it with an explanatory error.
	providers := provider.NewRegistry()
	if key := resolveKey(vault, cfg.OpenAIAPIKey, "openai"); key != "" {
		providers.Register(provider.NewOpenAI(key, ""))
	}
	if key := resolveKey(vault, cfg.AnthropicAPIKey, "anthropic"); key != "" {
		providers.Register(provider.NewAnthropic(key))
	}
	log.Info().Strs("providers", providers.Names()).Msg("completion providers registered")

	optimizer := pipeline.New(tokenizer.New(), cache, embedder, vectors)

	server := api.NewServer(api.Deps{
		Config:       cfg,
		Optimizer:    optimizer,
		Collector:    collector,
		Providers:    providers,
		Dashboard:    dash,
		Embedder:     embedder,
		Vectors:      vectors,
		CacheBackend: backend,
	},
		cfg.ListenAddr,
		time.Duration(cfg.Server.ReadTimeout)*time.Second,
		time.Duration(cfg.Server.WriteTimeout)*time.Second,
		time.Duration(cfg.Server.IdleTimeout)*time.Second,
	)

	// Config watcher for hot reload. Only the log level takes effect
	// without a restart; everything else is logged so operators know a
	// restart is needed.
	if configFile := config.ConfigFilePath(); configFile != "" {
		if watcher, err := config.Watch(configFile); err != nil {
			log.Warn().Err(err).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				zerolog.SetGlobalLevel(parseLogLevel(newCfg.LogLevel))
				if old.ListenAddr != newCfg.ListenAddr {
					log.Warn().Msg("listen_addr changed; restart required to take effect")
				}
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server starting")
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	log.Info().Msg("tokenpress is ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	log.Info().Msg("shutting down...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	rootCancel()
	<-purgerDone

	log.Info().Msg("tokenpress stopped")
	return nil
}

// openResultCache picks the cache backend by configuration: Redis when a URL
// is set, otherwise local SQLite, otherwise in-memory only.
func openResultCache(ctx context.Context, cfg *config.Config) (*resultcache.Cache, string, error) {
	if cfg.Cache.URL != "" {
		store, err := resultcache.OpenRedis(ctx, cfg.Cache.URL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable; falling back to local cache")
		} else {
			c, err := resultcache.New(store, cfg.Cache.TTLSeconds, cfg.Cache.MemoryEntries)
			return c, "redis", err
		}
	}

	if cfg.Cache.LocalPath != "" {
		store, err := resultcache.OpenSQLite(cfg.Cache.LocalPath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Cache.LocalPath).Msg("sqlite cache unavailable; using memory only")
		} else {
			c, err := resultcache.New(store, cfg.Cache.TTLSeconds, cfg.Cache.MemoryEntries)
			return c, "sqlite", err
		}
	}

	c, err := resultcache.New(nil, cfg.Cache.TTLSeconds, cfg.Cache.MemoryEntries)
	return c, "memory", err
}

// resolveKey resolves a provider API key: a configured value (literal or
// key reference) wins, then the keychain entries for the given names.
func resolveKey(vault *secrets.Vault, configured string, names ...string) string {
	if configured != "" {
		key, err := vault.Resolve(configured)
		if err != nil {
			log.Warn().Err(err).Msg("failed to resolve configured API key")
			return ""
		}
		return key
	}
	for _, name := range names {
		if key, err := vault.Get(name); err == nil {
			return key
		}
	}
	return ""
}

// runRetention periodically deletes vector rows older than the retention
// window across all tenants.
func runRetention(ctx context.Context, vectors *vectorstore.Store, days int) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("retention sweep: recovered from panic")
					}
				}()
				n, err := vectors.DeleteExpired(ctx, days)
				if err != nil {
					log.Error().Err(err).Msg("retention sweep failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Int("retention_days", days).Msg("pruned old vectors")
				}
			}()
		}
	}
}

func setupLogger(level string) {
	zerolog.SetGlobalLevel(parseLogLevel(level))
	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	log.Logger = zerolog.New(console).With().Timestamp().Str("service", "tokenpress").Logger()
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
