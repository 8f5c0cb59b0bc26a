package heuristics

import (
	"regexp"
	"strings"

	"github.com/allaspectsdev/tokenpress/internal/block"
)

// junkPatterns matches generic conversational fluff, anchored at the start
// of the trimmed content.
var junkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(Sure|Of course|I can help|Let me help)`),
	regexp.MustCompile(`(?i)^(Thank you|Thanks)`),
}

// removeJunk drops non-must-keep blocks that are empty or pure fluff.
func removeJunk(blocks []*block.Block) []*block.Block {
	kept := make([]*block.Block, 0, len(blocks))

	for _, b := range blocks {
		if b.MustKeep {
			kept = append(kept, b)
			continue
		}

		content := strings.TrimSpace(b.Content)
		if content == "" {
			continue
		}

		junk := false
		for _, re := range junkPatterns {
			if re.MatchString(content) {
				junk = true
				break
			}
		}
		if junk {
			continue
		}

		kept = append(kept, b)
	}

	return kept
}
