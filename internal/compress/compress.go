// Package compress rewrites large blocks into shorter extractive summaries,
// accepting a rewrite only when a faithfulness check shows the compressed
// text still carries the original's entities and constraints.
package compress

import (
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/tokenpress/internal/block"
	"github.com/allaspectsdev/tokenpress/internal/tokenizer"
)

// Skip reasons reported in per-block compression stats.
const (
	SkipProtectedType     = "protected_type"
	SkipMustKeep          = "must_keep"
	SkipAlreadyCompressed = "already_compressed"
	SkipTooShort          = "too_short"
)

// minCompressTokens is the floor below which compression is not worth the
// faithfulness risk.
const minCompressTokens = 100

// largeBlockTokens is the size above which sentence ranking is replaced by
// a head/tail cut, which is cheaper and preserves trailing instructions.
const largeBlockTokens = 2000

// Options control a compression pass. Zero values fall back to defaults.
type Options struct {
	// Ratio is the target compressed/original token ratio.
	Ratio float64

	// FaithfulnessThreshold is the minimum score to accept a rewrite.
	FaithfulnessThreshold float64

	// AllowMustKeep permits compressing must-keep blocks.
	AllowMustKeep bool

	// Model selects the tokenizer encoding for recounting.
	Model string
}

// BlockStats describes what happened to a single block.
type BlockStats struct {
	Skipped    bool
	SkipReason string

	Rejected     bool
	Faithfulness float64

	Compressed       bool
	OriginalTokens   int
	CompressedTokens int
	TokensSaved      int
	CompressionRatio float64
}

// BatchStats aggregates a compression pass over many blocks.
type BatchStats struct {
	CompressedCount   int
	SkippedCount      int
	RejectedCount     int
	TotalTokensBefore int
	TotalTokensAfter  int
}

// OverallRatio returns compressed/original tokens across the batch, or 1
// when nothing was compressed.
func (s BatchStats) OverallRatio() float64 {
	if s.TotalTokensBefore == 0 {
		return 1
	}
	return float64(s.TotalTokensAfter) / float64(s.TotalTokensBefore)
}

// Compressor performs extractive compression with a faithfulness gate.
type Compressor struct {
	tok *tokenizer.Tokenizer
}

// New builds a compressor over the given tokenizer.
func New(tok *tokenizer.Tokenizer) *Compressor {
	return &Compressor{tok: tok}
}

// CompressBlock compresses a single block in place when all gates pass. The
// block keeps its ID; the previous content moves to OriginalContent and the
// token count is recomputed.
func (c *Compressor) CompressBlock(b *block.Block, opts Options) BlockStats {
	if opts.Ratio <= 0 || opts.Ratio > 1 {
		opts.Ratio = 0.5
	}

	// System and constraint blocks carry behavioral instructions; rewriting
	// them risks changing model behavior.
	if b.Type == block.TypeSystem || b.Type == block.TypeConstraint {
		return BlockStats{Skipped: true, SkipReason: SkipProtectedType}
	}
	if b.MustKeep && !opts.AllowMustKeep {
		return BlockStats{Skipped: true, SkipReason: SkipMustKeep}
	}
	if b.Compressed {
		return BlockStats{Skipped: true, SkipReason: SkipAlreadyCompressed}
	}
	if b.Tokens < minCompressTokens {
		return BlockStats{Skipped: true, SkipReason: SkipTooShort}
	}

	original := b.Content
	originalTokens := b.Tokens

	var compressed string
	if originalTokens > largeBlockTokens {
		compressed = c.headTailCompress(original, originalTokens, opts)
	} else {
		compressed = extractSentences(original, opts.Ratio)
	}

	score := Faithfulness(original, compressed)
	if score < opts.FaithfulnessThreshold {
		log.Debug().
			Str("block_id", b.ID).
			Float64("faithfulness", score).
			Float64("threshold", opts.FaithfulnessThreshold).
			Msg("compression rejected")
		return BlockStats{Rejected: true, Faithfulness: score}
	}

	compressedTokens := c.tok.CountTokens(opts.Model, compressed)
	if compressedTokens >= originalTokens {
		// The rewrite did not actually shrink anything.
		return BlockStats{Rejected: true, Faithfulness: score}
	}

	ratio := float64(compressedTokens) / float64(originalTokens)

	b.OriginalContent = original
	b.Content = compressed
	b.Tokens = compressedTokens
	b.Compressed = true
	b.SetMeta("original_tokens", originalTokens)
	b.SetMeta("compression_ratio", ratio)
	b.SetMeta("faithfulness", score)

	log.Debug().
		Str("block_id", b.ID).
		Int("original_tokens", originalTokens).
		Int("compressed_tokens", compressedTokens).
		Float64("faithfulness", score).
		Msg("compressed block")

	return BlockStats{
		Compressed:       true,
		OriginalTokens:   originalTokens,
		CompressedTokens: compressedTokens,
		TokensSaved:      originalTokens - compressedTokens,
		CompressionRatio: ratio,
		Faithfulness:     score,
	}
}

// CompressBatch runs CompressBlock over every block and aggregates stats.
func (c *Compressor) CompressBatch(blocks []*block.Block, opts Options) BatchStats {
	var total BatchStats
	for _, b := range blocks {
		stats := c.CompressBlock(b, opts)
		switch {
		case stats.Skipped:
			total.SkippedCount++
		case stats.Rejected:
			total.RejectedCount++
		default:
			total.CompressedCount++
			total.TotalTokensBefore += stats.OriginalTokens
			total.TotalTokensAfter += stats.CompressedTokens
		}
	}
	return total
}

// headTailCompress cuts a large block to head and tail slices. The target is
// the original scaled by the ratio (floored at 0.05), clamped to [64, 1200]
// tokens to keep the pass fast and predictable.
func (c *Compressor) headTailCompress(content string, originalTokens int, opts Options) string {
	ratio := opts.Ratio
	if ratio < 0.05 {
		ratio = 0.05
	}
	target := int(float64(originalTokens) * ratio)
	if target < 64 {
		target = 64
	}
	if target > 1200 {
		target = 1200
	}
	return c.tok.HeadTailTruncate(opts.Model, content, target, 0.35)
}
