// Package pipeline orchestrates prompt optimization: canonicalize to
// blocks, deterministic heuristics, optional semantic reranking and
// compression, then validate with fallback. Each stage takes the current
// block set and returns a reduced one; a panicking stage is a no-op.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/tokenpress/internal/block"
	"github.com/allaspectsdev/tokenpress/internal/budget"
	"github.com/allaspectsdev/tokenpress/internal/compress"
	"github.com/allaspectsdev/tokenpress/internal/heuristics"
	"github.com/allaspectsdev/tokenpress/internal/resultcache"
	"github.com/allaspectsdev/tokenpress/internal/semantic"
	"github.com/allaspectsdev/tokenpress/internal/tokenizer"
	"github.com/allaspectsdev/tokenpress/internal/tracing"
	"github.com/allaspectsdev/tokenpress/internal/vectorstore"
)

// ErrEmptyRequest is returned when a request has nothing to optimize.
var ErrEmptyRequest = errors.New("pipeline: request produced no blocks")

// cacheTimeout bounds each result-cache round trip so a slow backend never
// stalls a request.
const cacheTimeout = 50 * time.Millisecond

// Optimizer runs the full optimization pipeline. It is safe for concurrent
// use; per-request state lives on the stack of Optimize.
type Optimizer struct {
	tok        *tokenizer.Tokenizer
	heuristics *heuristics.Stage
	comp       *compress.Compressor

	cache    *resultcache.Cache // nil disables result caching
	embedder *semantic.Embedder // nil disables the semantic stage
	vectors  *vectorstore.Store // nil disables persistence
}

// New assembles an Optimizer. cache, embedder, and vectors may be nil; the
// corresponding stages are skipped.
func New(tok *tokenizer.Tokenizer, cache *resultcache.Cache, embedder *semantic.Embedder, vectors *vectorstore.Store) *Optimizer {
	return &Optimizer{
		tok:        tok,
		heuristics: heuristics.New(tok),
		comp:       compress.New(tok),
		cache:      cache,
		embedder:   embedder,
		vectors:    vectors,
	}
}

// Optimize runs the pipeline over one request and returns the result. The
// route field in stats names the stages that actually ran, joined by "+".
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	traceID := uuid.NewString()
	cfg := req.Config
	timings := make(map[string]int64, 8)

	cacheKey := o.cacheKey(req)
	if cached := o.cacheLookup(ctx, cacheKey, timings); cached != nil {
		cached.Stats.CacheHit = true
		cached.Stats.LatencyMs = time.Since(start).Milliseconds()
		cached.Debug.TraceID = traceID
		tracing.SetOptimizationAttributes(ctx, cached.Stats.TokensBefore, cached.Stats.TokensAfter, true, cached.Stats.FallbackUsed, cached.Stats.Route)
		log.Info().Str("trace_id", traceID).Str("key", cacheKey).Msg("result cache hit")
		return cached, nil
	}

	// Canonicalize. The message and block-info snapshots taken here are
	// what the min-savings gate reverts to; later stages mutate the blocks
	// in place.
	var blocks []*block.Block
	o.runStage(ctx, "canonicalize", timings, func(context.Context) {
		blocks = block.Canonicalize(o.tok, block.Inputs{
			Messages:    req.Messages,
			Tools:       req.Tools,
			RAGContext:  req.RAGContext,
			ToolOutputs: req.ToolOutputs,
			Model:       req.Model,
		})
	})
	if len(blocks) == 0 {
		return nil, ErrEmptyRequest
	}
	tokensBefore := block.TotalTokens(blocks)
	originalMessages := block.BlocksToMessages(blocks)
	originalInfos := selectedInfos(blocks)
	canonical := append([]*block.Block(nil), blocks...)

	route := "heuristic"
	features := []string{"heuristics"}

	o.runStage(ctx, "heuristics", timings, func(context.Context) {
		blocks = o.heuristics.Apply(blocks, req.Model, heuristics.Config{
			KeepLastNTurns:    cfg.KeepLastNTurns,
			WhitespaceCleanup: true,
			MaxBlankLines:     2,
			TabularMaxRows:    200,
		})
	})

	tokensAfterHeuristics := block.TotalTokens(blocks)
	log.Debug().
		Str("trace_id", traceID).
		Int("blocks", len(blocks)).
		Int("tokens", tokensAfterHeuristics).
		Msg("heuristics applied")

	if cfg.SemanticEnabled && o.embedder != nil && o.embedder.Available() &&
		tokensAfterHeuristics > cfg.MaxInputTokens {
		route += "+semantic"
		features = append(features, "semantic")
		o.runStage(ctx, "semantic", timings, func(sctx context.Context) {
			blocks = o.semanticStage(sctx, req.Tenant, blocks, cfg)
		})
	}

	if cfg.CompressionEnabled && block.TotalTokens(blocks) > cfg.MaxInputTokens {
		route += "+compression"
		features = append(features, "compression")
		o.runStage(ctx, "compression", timings, func(context.Context) {
			stats := o.comp.CompressBatch(blocks, compress.Options{
				Ratio:                 cfg.CompressionRatio,
				FaithfulnessThreshold: cfg.FaithfulnessThreshold,
				AllowMustKeep:         cfg.AllowMustKeep,
				Model:                 req.Model,
			})
			log.Debug().
				Str("trace_id", traceID).
				Int("compressed", stats.CompressedCount).
				Int("tokens_saved", stats.TotalTokensBefore-stats.TotalTokensAfter).
				Msg("compression applied")
		})
	}

	fallbackUsed := false
	o.runStage(ctx, "validate", timings, func(context.Context) {
		if ok, errs := Validate(blocks, cfg); !ok {
			log.Warn().Str("trace_id", traceID).Strs("errors", errs).Msg("validation failed")
			blocks = o.fallback(blocks, req.Model, cfg)
			fallbackUsed = true
		}
	})
	if len(blocks) == 0 {
		return nil, ErrEmptyRequest
	}

	tokensAfter := block.TotalTokens(blocks)
	saved := tokensBefore - tokensAfter

	// Min-savings gate: a reduction too small to matter is not worth the
	// reshaping risk, so the original conversation goes through untouched.
	if saved < cfg.MinTokensSaved || savingsRatio(tokensBefore, tokensAfter) < cfg.MinSavingsRatio {
		tracing.SetOptimizationAttributes(ctx, tokensBefore, tokensBefore, false, true, route+"+original")
		log.Info().
			Str("trace_id", traceID).
			Int("tokens_saved", saved).
			Msg("savings below threshold, returning original messages")
		return &Result{
			OptimizedMessages: originalMessages,
			SelectedBlocks:    originalInfos,
			Stats: Stats{
				TokensBefore: tokensBefore,
				TokensAfter:  tokensBefore,
				CacheHit:     false,
				Route:        route + "+original",
				FallbackUsed: true,
				LatencyMs:    time.Since(start).Milliseconds(),
			},
			Debug: Debug{
				TraceID:        traceID,
				ConfigResolved: cfg,
				FeaturesUsed:   features,
				StageTimingsMs: timings,
			},
		}, nil
	}

	result := &Result{
		OptimizedMessages: block.BlocksToMessages(blocks),
		SelectedBlocks:    selectedInfos(blocks),
		DroppedBlocks:     droppedInfos(canonical, blocks),
		Stats: Stats{
			TokensBefore:     tokensBefore,
			TokensAfter:      tokensAfter,
			TokensSaved:      saved,
			CompressionRatio: savingsRatio(tokensBefore, tokensAfter),
			CacheHit:         false,
			Route:            route,
			FallbackUsed:     fallbackUsed,
			LatencyMs:        time.Since(start).Milliseconds(),
		},
		Debug: Debug{
			TraceID:        traceID,
			ConfigResolved: cfg,
			FeaturesUsed:   features,
			StageTimingsMs: timings,
		},
	}

	o.cacheStore(ctx, cacheKey, result, timings)
	tracing.SetOptimizationAttributes(ctx, tokensBefore, tokensAfter, false, fallbackUsed, route)

	log.Info().
		Str("trace_id", traceID).
		Int("tokens_before", tokensBefore).
		Int("tokens_after", tokensAfter).
		Str("route", route).
		Bool("fallback", fallbackUsed).
		Msg("optimization complete")

	return result, nil
}

// runStage times a stage and converts a panic into a no-op: the stage's
// closure assigns its output last, so recovered panics leave the previous
// block set in place.
func (o *Optimizer) runStage(ctx context.Context, name string, timings map[string]int64, fn func(context.Context)) {
	sctx, span := tracing.StartStageSpan(ctx, name)
	start := time.Now()
	defer func() {
		timings[name] = time.Since(start).Milliseconds()
		span.End()
		if r := recover(); r != nil {
			log.Error().Str("stage", name).Interface("panic", r).Msg("pipeline stage panicked, passing blocks through")
		}
	}()
	fn(sctx)
}

func (o *Optimizer) cacheKey(req Request) string {
	if o.cache == nil {
		return ""
	}
	return resultcache.Key(resultcache.KeyInput{
		Messages:    req.Messages,
		Tools:       req.Tools,
		RAGChunks:   req.RAGContext,
		ToolOutputs: req.ToolOutputs,
		Model:       req.Model,
		Config:      req.Config,
	})
}

func (o *Optimizer) cacheLookup(ctx context.Context, key string, timings map[string]int64) *Result {
	if o.cache == nil || key == "" {
		return nil
	}
	start := time.Now()
	defer func() { timings["cache_check"] = time.Since(start).Milliseconds() }()

	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	body, ok := o.cache.Get(ctx, key)
	if !ok {
		return nil
	}
	var r Result
	if err := json.Unmarshal(body, &r); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discarding undecodable cached result")
		o.cache.Invalidate(ctx, key)
		return nil
	}
	return &r
}

func (o *Optimizer) cacheStore(ctx context.Context, key string, result *Result, timings map[string]int64) {
	if o.cache == nil || key == "" {
		return
	}
	start := time.Now()
	defer func() { timings["cache_set"] = time.Since(start).Milliseconds() }()

	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	body, err := json.Marshal(result)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode result for caching")
		return
	}
	o.cache.Set(ctx, key, body)
}

func selectedInfos(blocks []*block.Block) []BlockInfo {
	infos := make([]BlockInfo, len(blocks))
	for i, b := range blocks {
		reason := "selected"
		if b.MustKeep {
			reason = "must_keep"
		}
		infos[i] = BlockInfo{ID: b.ID, Type: string(b.Type), Tokens: b.Tokens, Reason: reason}
	}
	return infos
}

// droppedInfos lists canonical blocks absent from the final set. Blocks the
// allocator or diversifier rejected report budget_exceeded; everything else
// was filtered by heuristics.
func droppedInfos(canonical, final []*block.Block) []BlockInfo {
	finalIDs := make(map[string]bool, len(final))
	for _, b := range final {
		finalIDs[b.ID] = true
	}

	var infos []BlockInfo
	for _, b := range canonical {
		if finalIDs[b.ID] {
			continue
		}
		reason := "filtered"
		if b.Metadata != nil {
			if r, ok := b.Metadata["selection_reason"].(string); ok && r == budget.ReasonExceeded {
				reason = budget.ReasonExceeded
			}
		}
		infos = append(infos, BlockInfo{ID: b.ID, Type: string(b.Type), Tokens: b.Tokens, Reason: reason})
	}
	return infos
}
