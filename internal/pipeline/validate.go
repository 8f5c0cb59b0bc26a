package pipeline

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/tokenpress/internal/block"
	"github.com/allaspectsdev/tokenpress/internal/config"
)

// Validate checks that an optimized block set is safe to send upstream:
// non-empty, still carries a system or user message, fits the token budget,
// and retains at least one must-keep block.
func Validate(blocks []*block.Block, cfg config.Resolved) (bool, []string) {
	var errs []string

	if len(blocks) == 0 {
		return false, []string{"no blocks remaining after optimization"}
	}

	hasSystemOrUser := false
	hasMustKeep := false
	for _, b := range blocks {
		if b.Type == block.TypeSystem || b.Type == block.TypeUser {
			hasSystemOrUser = true
		}
		if b.MustKeep {
			hasMustKeep = true
		}
	}
	if !hasSystemOrUser {
		errs = append(errs, "missing system or user message")
	}

	budget := tokenBudget(cfg)
	total := block.TotalTokens(blocks)
	if total > budget {
		errs = append(errs, fmt.Sprintf(
			"over budget: %d > %d (max=%d, safety_margin=%d)",
			total, budget, cfg.MaxInputTokens, cfg.SafetyMarginTokens))
	}

	if !hasMustKeep {
		errs = append(errs, "no must-keep blocks remain")
	}

	return len(errs) == 0, errs
}

// tokenBudget is the validated upper bound on total tokens. For tiny
// budgets the safety margin is capped at a quarter of the max so a large
// static reserve cannot fail validation on its own.
func tokenBudget(cfg config.Resolved) int {
	margin := cfg.SafetyMarginTokens
	if quarter := cfg.MaxInputTokens / 4; margin > quarter {
		margin = quarter
	}
	return cfg.MaxInputTokens - margin
}

// fallback reduces a failed block set to its critical core: all must-keep
// blocks, plus the last user message if none of them is one. If the core is
// still over budget the largest eligible block is truncated head/tail to
// the remaining budget. A still-invalid set is returned as must-keep only.
func (o *Optimizer) fallback(blocks []*block.Block, model string, cfg config.Resolved) []*block.Block {
	log.Warn().Int("blocks", len(blocks)).Msg("optimization failed validation, applying fallback")

	var kept []*block.Block
	for _, b := range blocks {
		if b.MustKeep {
			kept = append(kept, b)
		}
	}

	hasUser := false
	for _, b := range kept {
		if b.Type == block.TypeUser {
			hasUser = true
			break
		}
	}
	if !hasUser {
		for i := len(blocks) - 1; i >= 0; i-- {
			if blocks[i].Type == block.TypeUser {
				kept = append(kept, blocks[i])
				break
			}
		}
	}

	budget := tokenBudget(cfg)
	if block.TotalTokens(kept) > budget {
		o.truncateToBudget(kept, model, budget)
	}

	if ok, errs := Validate(kept, cfg); !ok {
		log.Error().Strs("errors", errs).Msg("fallback still invalid, keeping must-keep blocks only")
		var mustKeep []*block.Block
		for _, b := range blocks {
			if b.MustKeep {
				mustKeep = append(mustKeep, b)
			}
		}
		return mustKeep
	}

	return kept
}

// truncateToBudget head/tail-truncates one block in place so the set fits
// the budget: the last user block when present, otherwise the largest block
// that is not a system prompt or hoisted constraint.
func (o *Optimizer) truncateToBudget(blocks []*block.Block, model string, budget int) {
	var target *block.Block
	for i := len(blocks) - 1; i >= 0; i-- {
		if blocks[i].Type == block.TypeUser {
			target = blocks[i]
			break
		}
	}
	if target == nil {
		for _, b := range blocks {
			if b.Type == block.TypeSystem || b.Type == block.TypeConstraint {
				continue
			}
			if target == nil || b.Tokens > target.Tokens {
				target = b
			}
		}
	}
	if target == nil {
		return
	}

	remaining := budget - (block.TotalTokens(blocks) - target.Tokens)
	if remaining < 16 {
		remaining = 16
	}

	target.Content = o.tok.HeadTailTruncate(model, target.Content, remaining, 0.4)
	target.Tokens = o.tok.CountTokens(model, target.Content)
	target.SetMeta("truncated_to_budget", true)

	log.Warn().
		Str("block_id", target.ID).
		Int("tokens", target.Tokens).
		Int("budget", budget).
		Msg("truncated block to fit token budget")
}
