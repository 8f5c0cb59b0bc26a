package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/tokenpress/internal/block"
	"github.com/allaspectsdev/tokenpress/internal/budget"
	"github.com/allaspectsdev/tokenpress/internal/config"
	"github.com/allaspectsdev/tokenpress/internal/semantic"
)

// queryUserBlocks is how many trailing user blocks form the retrieval query.
const queryUserBlocks = 3

// embedTimeout bounds the embedding calls for one request.
const embedTimeout = 30 * time.Second

// persistTimeout bounds the fire-and-forget vector store write.
const persistTimeout = 10 * time.Second

// semanticStage reranks droppable blocks by semantic utility and selects a
// subset under the token budget. Must-keep blocks always survive. Any
// embedding failure leaves the input untouched; the pipeline never breaks
// because retrieval is down.
func (o *Optimizer) semanticStage(ctx context.Context, tenant string, blocks []*block.Block, cfg config.Resolved) []*block.Block {
	var mustKeep, optional []*block.Block
	for _, b := range blocks {
		if b.MustKeep {
			mustKeep = append(mustKeep, b)
		} else {
			optional = append(optional, b)
		}
	}
	if len(optional) == 0 {
		return blocks
	}

	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	query := queryText(blocks)
	queryVec, err := o.embedder.EmbedOne(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("query embedding failed, skipping semantic stage")
		return blocks
	}

	texts := make([]string, len(optional))
	for i, b := range optional {
		texts[i] = b.Content
	}
	embeddings, err := o.embedder.Embed(ctx, texts)
	if err != nil || len(embeddings) != len(optional) {
		log.Warn().Err(err).Msg("block embedding failed, skipping semantic stage")
		return blocks
	}

	o.persistBlocks(tenant, optional, embeddings)

	now := time.Now()
	candidates := make([]semantic.Candidate, len(optional))
	for i, b := range optional {
		sim := semantic.Dot(queryVec, embeddings[i])
		b.SetMeta("utility_score", semantic.Utility(b, sim, now))
		candidates[i] = semantic.Candidate{Block: b, Similarity: sim, Embedding: embeddings[i]}
	}
	semantic.SortCandidates(candidates)

	diversified := semantic.MMR(candidates, cfg.MMRLambda, cfg.VectorTopK)
	picked := make(map[string]bool, len(diversified))
	for _, b := range diversified {
		picked[b.ID] = true
	}
	for _, b := range optional {
		if !picked[b.ID] {
			b.SetMeta("selection_reason", budget.ReasonExceeded)
		}
	}

	pool := make([]*block.Block, 0, len(mustKeep)+len(diversified))
	pool = append(pool, mustKeep...)
	pool = append(pool, diversified...)

	alloc := budget.NewAllocator(cfg.PerTypeFractions)
	res := alloc.Select(pool, cfg.MaxInputTokens, cfg.SafetyMarginTokens)
	if res.MustKeepExceedsBudget {
		log.Warn().Msg("must-keep blocks alone exceed the token budget")
	}

	selected := res.Selected
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Index() < selected[j].Index()
	})

	log.Debug().
		Int("candidates", len(optional)).
		Int("diversified", len(diversified)).
		Int("selected", len(selected)).
		Int("dropped", len(res.Dropped)).
		Msg("semantic selection complete")

	return selected
}

// queryText joins the last few user blocks as the retrieval query, falling
// back to the first block when the conversation has no user turns.
func queryText(blocks []*block.Block) string {
	var users []string
	for _, b := range blocks {
		if b.Type == block.TypeUser {
			users = append(users, b.Content)
		}
	}
	if len(users) == 0 {
		return blocks[0].Content
	}
	if len(users) > queryUserBlocks {
		users = users[len(users)-queryUserBlocks:]
	}
	return strings.Join(users, "\n")
}

// persistBlocks writes embedded blocks to the vector store in the
// background. The blocks are snapshotted first because later stages mutate
// them in place.
func (o *Optimizer) persistBlocks(tenant string, blocks []*block.Block, embeddings [][]float32) {
	if o.vectors == nil || tenant == "" {
		return
	}

	snapshot := make([]*block.Block, len(blocks))
	for i, b := range blocks {
		clone := *b
		snapshot[i] = &clone
	}
	modelName := o.embedder.Model()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("vector store persistence panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		stored := o.vectors.UpsertBatch(ctx, tenant, snapshot, embeddings, modelName)
		log.Debug().Int("stored", len(stored)).Msg("persisted blocks to vector store")
	}()
}
