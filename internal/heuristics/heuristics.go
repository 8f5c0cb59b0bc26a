// Package heuristics implements the deterministic first stage of the
// optimization pipeline: junk removal, deduplication, whitespace cleanup,
// turn retention, constraint hoisting, tool-schema minimization, log
// trimming and tabular-JSON compaction.
//
// Every step is total: it never fails, never panics on odd input, and
// leaves blocks it cannot improve untouched. Applying the stage twice
// yields the same result as applying it once.
package heuristics

import (
	"github.com/allaspectsdev/tokenpress/internal/block"
	"github.com/allaspectsdev/tokenpress/internal/tokenizer"
)

// Config carries the knobs the heuristics stage reads from the resolved
// request configuration.
type Config struct {
	// KeepLastNTurns is how many trailing conversation turns are pinned.
	KeepLastNTurns int

	// WhitespaceCleanup enables trailing-space and blank-line normalization.
	WhitespaceCleanup bool

	// MaxBlankLines is the largest run of blank lines left after cleanup.
	MaxBlankLines int

	// ToolAllowlist, when non-empty, drops tool schemas whose name is not
	// listed during schema minimization.
	ToolAllowlist []string

	// TabularMaxRows caps how large a JSON array the tabular compactor will
	// attempt to rewrite.
	TabularMaxRows int
}

// Stage applies the heuristic steps in a fixed order.
type Stage struct {
	tok *tokenizer.Tokenizer
}

// New creates a heuristics stage that recounts tokens with tok after every
// content mutation.
func New(tok *tokenizer.Tokenizer) *Stage {
	return &Stage{tok: tok}
}

// Apply runs all heuristic steps in order and returns the resulting block
// sequence. Blocks are mutated in place; the returned slice may be shorter
// or longer (constraint hoisting) than the input.
func (s *Stage) Apply(blocks []*block.Block, model string, cfg Config) []*block.Block {
	blocks = removeJunk(blocks)
	blocks = deduplicate(blocks)

	if cfg.WhitespaceCleanup {
		s.cleanWhitespace(blocks, model, cfg.MaxBlankLines)
	}

	keepLastNTurns(blocks, cfg.KeepLastNTurns)
	blocks = s.hoistConstraints(blocks, model)
	s.minimizeToolSchemas(blocks, model, cfg.ToolAllowlist)
	s.trimLogs(blocks, model)
	s.compactTabular(blocks, model, cfg.TabularMaxRows)

	return blocks
}
