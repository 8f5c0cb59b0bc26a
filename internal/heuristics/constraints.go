package heuristics

import (
	"regexp"
	"strings"

	"github.com/allaspectsdev/tokenpress/internal/block"
)

// constraintKeywordRe matches directive keywords written in caps, as whole
// words. Sentences carrying one of these hold correctness-critical
// instructions worth hoisting to the front of the prompt.
var constraintKeywordRe = regexp.MustCompile(
	`\b(MUST NOT|MUST|ALWAYS|NEVER|REQUIRED|FORBIDDEN|ONLY|FORMAT|JSON|OUTPUT|DEADLINE)\b`)

// sentenceEndRe splits prose into sentences.
var sentenceEndRe = regexp.MustCompile(`[.!?]\s+`)

// maxConstraintSentenceLen skips run-on sentences that would bloat the
// hoisted block.
const maxConstraintSentenceLen = 400

// maxConstraintTokens discards a hoisted block that grew past noise size.
const maxConstraintTokens = 200

// hoistConstraints copies directive sentences from system and user blocks
// into a single pinned constraint block at the front. The sources keep
// their sentences: constraint blocks never serialize back to messages, so
// the copy exists purely to shield the directives through budget selection
// and raise their retrieval utility.
func (s *Stage) hoistConstraints(blocks []*block.Block, model string) []*block.Block {
	for _, b := range blocks {
		if b.Type == block.TypeConstraint && b.Source() == "extracted_constraints" {
			return blocks
		}
	}

	var sentences []string
	seen := make(map[string]bool)

	for _, b := range blocks {
		if b.Type != block.TypeSystem && b.Type != block.TypeUser {
			continue
		}
		for _, raw := range sentenceEndRe.Split(b.Content, -1) {
			sentence := strings.TrimSpace(raw)
			if sentence == "" || len(sentence) > maxConstraintSentenceLen {
				continue
			}
			if !constraintKeywordRe.MatchString(sentence) {
				continue
			}
			if seen[sentence] {
				continue
			}
			seen[sentence] = true
			sentences = append(sentences, sentence)
		}
	}

	if len(sentences) == 0 {
		return blocks
	}

	content := strings.Join(sentences, "\n")
	tokens := s.tok.CountTokens(model, content)
	if tokens > maxConstraintTokens {
		return blocks
	}

	cb := block.New(block.TypeConstraint, content, tokens, true, 1.0)
	cb.Metadata["source"] = "extracted_constraints"

	return append([]*block.Block{cb}, blocks...)
}
