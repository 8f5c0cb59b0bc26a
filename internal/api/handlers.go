package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/tokenpress/internal/block"
	"github.com/allaspectsdev/tokenpress/internal/config"
	"github.com/allaspectsdev/tokenpress/internal/dashboard"
	"github.com/allaspectsdev/tokenpress/internal/metrics"
	"github.com/allaspectsdev/tokenpress/internal/pipeline"
	"github.com/allaspectsdev/tokenpress/internal/provider"
	"github.com/allaspectsdev/tokenpress/internal/tokenizer"
	"github.com/allaspectsdev/tokenpress/internal/tracing"
	"github.com/allaspectsdev/tokenpress/internal/version"
)

// defaultTemperature applies to chat completions that do not set one.
const defaultTemperature = 0.7

// optimizeRequest is the body of POST /v1/optimize. chatRequest embeds it.
type optimizeRequest struct {
	Messages    []block.Message    `json:"messages"`
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	TenantID    string             `json:"tenant_id,omitempty"`
	ProjectID   string             `json:"project_id,omitempty"`
	Tools       any                `json:"tools,omitempty"`
	RAGContext  []map[string]any   `json:"rag_context,omitempty"`
	ToolOutputs []block.ToolOutput `json:"tool_outputs,omitempty"`
	Overrides   map[string]any     `json:"user_prefs_overrides,omitempty"`
}

type chatRequest struct {
	optimizeRequest
	Provider            string   `json:"provider"`
	Temperature         *float64 `json:"temperature,omitempty"`
	MaxCompletionTokens *int64   `json:"max_completion_tokens,omitempty"`
}

func (r *optimizeRequest) validate() (string, bool) {
	if len(r.Messages) == 0 {
		return "messages must not be empty", false
	}
	if r.Model == "" {
		return "model is required", false
	}
	for _, m := range r.Messages {
		if m.Role == "" {
			return "every message needs a role", false
		}
	}
	return "", true
}

// resolveConfig layers the per-request configuration: process defaults,
// then dashboard preferences, then explicit request overrides.
func (s *Server) resolveConfig(r *http.Request, req *optimizeRequest) config.Resolved {
	base := s.deps.Config.Base()
	if req.MaxTokens > 0 {
		base.MaxInputTokens = req.MaxTokens
	}

	var dashCfg map[string]any
	if s.deps.Dashboard != nil && req.TenantID != "" && req.ProjectID != "" {
		raw := s.deps.Dashboard.FetchConfig(r.Context(), req.TenantID, req.ProjectID)
		dashCfg = config.MapDashboardConfig(raw)
	}

	return config.Resolve(base, dashCfg, req.Overrides)
}

func (s *Server) runOptimizer(r *http.Request, req *optimizeRequest, endpoint string) (*pipeline.Result, error) {
	apiKey := apiKeyFrom(r.Context())

	ctx, span := tracing.StartPipelineSpan(r.Context(), endpoint)
	defer span.End()
	tracing.SetRequestAttributes(ctx, middleware.GetReqID(ctx), req.TenantID, req.Model)

	result, err := s.deps.Optimizer.Optimize(ctx, pipeline.Request{
		Messages:    req.Messages,
		Tools:       req.Tools,
		RAGContext:  req.RAGContext,
		ToolOutputs: req.ToolOutputs,
		Model:       req.Model,
		Tenant:      apiKey,
		TenantID:    req.TenantID,
		ProjectID:   req.ProjectID,
		Config:      s.resolveConfig(r, req),
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	if len(apiKey) > 12 {
		result.Stats.APIKeyPrefix = apiKey[:12]
	} else {
		result.Stats.APIKeyPrefix = apiKey
	}

	s.deps.Collector.RecordOptimization(metrics.Optimization{
		TokensBefore: result.Stats.TokensBefore,
		TokensAfter:  result.Stats.TokensAfter,
		TokensSaved:  result.Stats.TokensSaved,
		CacheHit:     result.Stats.CacheHit,
		Route:        result.Stats.Route,
		Model:        req.Model,
	}, endpoint)

	return result, nil
}

func (s *Server) emitEvent(req *optimizeRequest, result *pipeline.Result, providerName string) {
	if s.deps.Dashboard == nil {
		return
	}
	s.deps.Dashboard.EmitEvent(dashboard.NewEvent(
		req.TenantID, req.ProjectID, "", result.Debug.TraceID, providerName, req.Model,
		dashboard.EventStats{
			TokensBefore:     result.Stats.TokensBefore,
			TokensAfter:      result.Stats.TokensAfter,
			TokensSaved:      result.Stats.TokensSaved,
			CostSavedUSD:     tokenizer.EstimateInputCost(req.Model, result.Stats.TokensSaved),
			CompressionRatio: result.Stats.CompressionRatio,
			LatencyMS:        result.Stats.LatencyMs,
			CacheHit:         result.Stats.CacheHit,
			Route:            result.Stats.Route,
			FallbackUsed:     result.Stats.FallbackUsed,
		},
	))
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidInput, "malformed JSON body: "+err.Error())
		return
	}
	if msg, ok := req.validate(); !ok {
		writeError(w, http.StatusBadRequest, ErrInvalidInput, msg)
		return
	}

	result, err := s.runOptimizer(r, &req, "optimize")
	if err != nil {
		log.Error().Err(err).Msg("optimization failed")
		writeError(w, http.StatusInternalServerError, ErrInternal, "optimization failed: "+err.Error())
		return
	}

	s.emitEvent(&req, result, "")
	writeJSON(w, http.StatusOK, result)
}

// chatResponse augments the provider completion with optimizer stats.
type chatResponse struct {
	ID        string            `json:"id"`
	Model     string            `json:"model"`
	Choices   []provider.Choice `json:"choices"`
	Usage     provider.Usage    `json:"usage"`
	Optimizer optimizerInfo     `json:"optimizer"`
}

type optimizerInfo struct {
	Stats        pipeline.Stats `json:"stats"`
	TraceID      string         `json:"trace_id"`
	FeaturesUsed []string       `json:"features_used"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidInput, "malformed JSON body: "+err.Error())
		return
	}
	if msg, ok := req.validate(); !ok {
		writeError(w, http.StatusBadRequest, ErrInvalidInput, msg)
		return
	}
	if req.Provider == "" {
		writeError(w, http.StatusBadRequest, ErrInvalidInput, "provider is required")
		return
	}

	prov, err := s.deps.Providers.Get(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidInput, err.Error())
		return
	}

	result, err := s.runOptimizer(r, &req.optimizeRequest, "chat")
	if err != nil {
		log.Error().Err(err).Msg("optimization failed")
		writeError(w, http.StatusInternalServerError, ErrInternal, "optimization failed: "+err.Error())
		return
	}

	temp := defaultTemperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	opts := provider.Options{
		Temperature:         &temp,
		MaxCompletionTokens: req.MaxCompletionTokens,
	}

	messages := make([]provider.Message, len(result.OptimizedMessages))
	for i, m := range result.OptimizedMessages {
		messages[i] = provider.Message{Role: m.Role, Content: m.Content}
	}

	pctx, pspan := tracing.StartProviderSpan(r.Context(), req.Provider, req.Model)
	completion, err := prov.ChatCompletion(pctx, messages, req.Model, opts)
	if err != nil {
		tracing.RecordError(pctx, err)
		pspan.End()
		log.Error().Err(err).Str("provider", req.Provider).Msg("provider completion failed")
		writeProviderError(w, err)
		return
	}
	pspan.End()

	s.emitEvent(&req.optimizeRequest, result, req.Provider)

	writeJSON(w, http.StatusOK, chatResponse{
		ID:      completion.ID,
		Model:   completion.Model,
		Choices: completion.Choices,
		Usage:   completion.Usage,
		Optimizer: optimizerInfo{
			Stats:        result.Stats,
			TraceID:      result.Debug.TraceID,
			FeaturesUsed: result.Debug.FeaturesUsed,
		},
	})
}

// healthResponse reports dependency liveness without touching any heavy
// initialization paths.
type healthResponse struct {
	Status               string `json:"status"`
	Cache                string `json:"cache"`
	Postgres             string `json:"postgres,omitempty"`
	Dashboard            string `json:"dashboard,omitempty"`
	Timestamp            string `json:"timestamp"`
	SemanticAvailable    bool   `json:"semantic_available"`
	CompressionAvailable bool   `json:"compression_available"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config

	resp := healthResponse{
		Status:               "healthy",
		Cache:                "disconnected",
		Timestamp:            time.Now().UTC().Format(time.RFC3339),
		CompressionAvailable: cfg.Compression.Enabled,
	}
	if s.deps.CacheBackend != "" {
		resp.Cache = "connected"
	} else {
		resp.Status = "degraded"
	}

	if cfg.Semantic.Enabled && cfg.Semantic.PostgresURL != "" {
		resp.Postgres = "disconnected"
		if s.deps.Vectors != nil {
			if err := s.deps.Vectors.Ping(r.Context()); err == nil {
				resp.Postgres = "connected"
			} else {
				resp.Postgres = "error"
			}
		}
		resp.SemanticAvailable = s.deps.Embedder != nil && s.deps.Embedder.Available()
	}

	if s.deps.Dashboard != nil {
		resp.Dashboard = "configured"
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBanner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "tokenpress",
		"version": version.Version,
		"endpoints": map[string]string{
			"optimize": "/v1/optimize",
			"chat":     "/v1/chat",
			"health":   "/v1/health",
			"metrics":  "/v1/metrics",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response body")
	}
}
