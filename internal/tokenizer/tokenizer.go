package tokenizer

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// TruncationMarker is inserted between the head and tail slices when content
// is cut down to a token budget.
const TruncationMarker = "\n... [truncated] ...\n"

// Tokenizer provides token counting and token-budget truncation using
// tiktoken encodings. Encodings are cached via sync.Once to avoid repeated
// initialization.
type Tokenizer struct {
	cl100kOnce sync.Once
	cl100kEnc  *tiktoken.Tiktoken
	cl100kErr  error

	o200kOnce sync.Once
	o200kEnc  *tiktoken.Tiktoken
	o200kErr  error
}

// modelEncodings maps model names to their tiktoken encoding.
var modelEncodings = map[string]string{
	// Claude models — cl100k_base
	"claude-opus-4":    "cl100k_base",
	"claude-sonnet-4":  "cl100k_base",
	"claude-haiku-4-5": "cl100k_base",

	// OpenAI models — cl100k_base
	"gpt-4":         "cl100k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",

	// OpenAI models — o200k_base
	"gpt-4o":      "o200k_base",
	"gpt-4o-mini": "o200k_base",
	"o1":          "o200k_base",
	"o3":          "o200k_base",
}

// New creates a new Tokenizer instance.
func New() *Tokenizer {
	return &Tokenizer{}
}

// GetEncoding returns the encoding name for the given model.
// Unknown models default to cl100k_base.
func (t *Tokenizer) GetEncoding(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}

	// Try prefix matching for versioned model names.
	lower := strings.ToLower(model)
	best := ""
	bestLen := 0
	for m, enc := range modelEncodings {
		if strings.HasPrefix(lower, m) && len(m) > bestLen {
			best = enc
			bestLen = len(m)
		}
	}
	if best != "" {
		return best
	}

	return "cl100k_base"
}

// getEncoder returns the cached tiktoken encoder for the given model.
func (t *Tokenizer) getEncoder(model string) (*tiktoken.Tiktoken, error) {
	encName := t.GetEncoding(model)

	switch encName {
	case "o200k_base":
		t.o200kOnce.Do(func() {
			t.o200kEnc, t.o200kErr = tiktoken.GetEncoding("o200k_base")
		})
		return t.o200kEnc, t.o200kErr
	default:
		t.cl100kOnce.Do(func() {
			t.cl100kEnc, t.cl100kErr = tiktoken.GetEncoding("cl100k_base")
		})
		return t.cl100kEnc, t.cl100kErr
	}
}

// CountTokens counts the number of tokens in the given text for the specified
// model. If the encoding cannot be loaded, a rough 4-chars-per-token estimate
// is returned so callers never fail on counting.
func (t *Tokenizer) CountTokens(model, text string) int {
	enc, err := t.getEncoder(model)
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// Truncate cuts text down to at most maxTokens tokens. Text already within
// the budget is returned unchanged.
func (t *Tokenizer) Truncate(model, text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}

	enc, err := t.getEncoder(model)
	if err != nil {
		if len(text) <= maxTokens*4 {
			return text
		}
		return text[:maxTokens*4]
	}

	ids := enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return enc.Decode(ids[:maxTokens])
}

// HeadTailTruncate cuts text down to roughly targetTokens by keeping a head
// slice and a tail slice with a visible marker in between. headFrac controls
// the share of the budget given to the head; the remainder goes to the tail
// so trailing instructions survive.
func (t *Tokenizer) HeadTailTruncate(model, text string, targetTokens int, headFrac float64) string {
	if targetTokens <= 0 {
		return ""
	}
	if headFrac < 0 {
		headFrac = 0
	}
	if headFrac > 1 {
		headFrac = 1
	}

	enc, err := t.getEncoder(model)
	if err != nil {
		approx := targetTokens * 4
		if len(text) <= approx {
			return text
		}
		head := int(float64(approx) * headFrac)
		tail := approx - head
		return text[:head] + TruncationMarker + text[len(text)-tail:]
	}

	ids := enc.Encode(text, nil, nil)
	if len(ids) <= targetTokens {
		return text
	}

	head := int(float64(targetTokens) * headFrac)
	tail := targetTokens - head
	if head <= 0 {
		return TruncationMarker + enc.Decode(ids[len(ids)-tail:])
	}
	if tail <= 0 {
		return enc.Decode(ids[:head]) + TruncationMarker
	}
	return enc.Decode(ids[:head]) + TruncationMarker + enc.Decode(ids[len(ids)-tail:])
}
