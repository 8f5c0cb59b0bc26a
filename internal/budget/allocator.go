// Package budget selects which blocks fit within a token budget using a
// greedy knapsack over utility-per-token, with per-type sub-budgets so a
// single block type cannot crowd out the rest of the prompt.
package budget

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/tokenpress/internal/block"
)

// Selection reasons recorded in block metadata.
const (
	ReasonSelected = "budget_selected"
	ReasonExceeded = "budget_exceeded"
)

// Allocator distributes a token budget across block types and greedily
// selects the highest-utility blocks that fit.
type Allocator struct {
	fractions map[string]float64
}

// NewAllocator builds an allocator with the given per-type budget fractions
// (block type name -> fraction of the optional budget).
func NewAllocator(fractions map[string]float64) *Allocator {
	copied := make(map[string]float64, len(fractions))
	for k, v := range fractions {
		copied[k] = v
	}
	return &Allocator{fractions: copied}
}

// Result holds the outcome of a budget selection pass.
type Result struct {
	Selected []*block.Block
	Dropped  []*block.Block

	// MustKeepExceedsBudget is set when the must-keep blocks alone exceed
	// the budget. They are included anyway and everything optional drops.
	MustKeepExceedsBudget bool
}

// Select picks blocks within maxTokens minus safetyMargin. Must-keep blocks
// are always included, even over budget. Optional blocks are taken greedily
// by utility/token ratio within their type's share of the remaining budget.
// The ordering is deterministic: ties on ratio break toward higher priority,
// then toward blocks later in the original conversation.
func (a *Allocator) Select(blocks []*block.Block, maxTokens, safetyMargin int) Result {
	var mustKeep, optional []*block.Block
	for _, b := range blocks {
		if b.MustKeep {
			mustKeep = append(mustKeep, b)
		} else {
			optional = append(optional, b)
		}
	}

	mustKeepTokens := block.TotalTokens(mustKeep)

	if mustKeepTokens > maxTokens-safetyMargin {
		log.Warn().
			Int("must_keep_tokens", mustKeepTokens).
			Int("budget", maxTokens-safetyMargin).
			Msg("must-keep blocks exceed budget, including anyway")
		for _, b := range optional {
			b.SetMeta("selection_reason", ReasonExceeded)
		}
		return Result{
			Selected:              mustKeep,
			Dropped:               optional,
			MustKeepExceedsBudget: true,
		}
	}

	available := maxTokens - safetyMargin - mustKeepTokens
	typeBudgets := a.typeBudgets(optional, available)

	log.Debug().
		Int("must_keep_tokens", mustKeepTokens).
		Int("available", available).
		Int("total", maxTokens).
		Msg("budget allocation")

	selected := make([]*block.Block, 0, len(blocks))
	selected = append(selected, mustKeep...)
	var dropped []*block.Block

	ordered := make([]*block.Block, len(optional))
	copy(ordered, optional)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := utilityRatio(ordered[i]), utilityRatio(ordered[j])
		if ri != rj {
			return ri > rj
		}
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].Index() > ordered[j].Index()
	})

	for _, b := range ordered {
		remaining := typeBudgets[string(b.Type)]
		if remaining >= b.Tokens {
			selected = append(selected, b)
			typeBudgets[string(b.Type)] = remaining - b.Tokens
			b.SetMeta("selection_reason", ReasonSelected)
		} else {
			dropped = append(dropped, b)
			b.SetMeta("selection_reason", ReasonExceeded)
		}
	}

	log.Info().
		Int("selected", len(selected)).
		Int("candidates", len(blocks)).
		Int("selected_tokens", block.TotalTokens(selected)).
		Int("max_tokens", maxTokens).
		Msg("budget selection")

	return Result{Selected: selected, Dropped: dropped}
}

// typeBudgets splits the available budget across the block types actually
// present. Fractions belonging to absent types are redistributed equally
// among the present ones.
func (a *Allocator) typeBudgets(blocks []*block.Block, available int) map[string]int {
	active := make(map[string]bool)
	for _, b := range blocks {
		active[string(b.Type)] = true
	}

	fractions := make(map[string]float64, len(a.fractions))
	missing := 0.0
	for name, frac := range a.fractions {
		if active[name] {
			fractions[name] = frac
		} else {
			missing += frac
		}
	}

	if missing > 0 && len(active) > 0 {
		share := missing / float64(len(active))
		for name := range fractions {
			fractions[name] += share
		}
	}

	budgets := make(map[string]int, len(fractions))
	for name, frac := range fractions {
		budgets[name] = int(float64(available) * frac)
	}
	return budgets
}

// utilityRatio is the greedy sort key: the semantic utility score when the
// scorer has run, otherwise the block's static priority, divided by tokens.
func utilityRatio(b *block.Block) float64 {
	if b.Tokens == 0 {
		return 0
	}
	utility := b.Priority
	if v, ok := b.Metadata["utility_score"].(float64); ok {
		utility = v
	}
	return utility / float64(b.Tokens)
}
