package heuristics

import (
	"strings"
	"unicode"

	"github.com/allaspectsdev/tokenpress/internal/block"
)

// cleanWhitespace trims trailing whitespace per line, collapses runs of
// blank lines down to maxBlank, and strips surrounding whitespace from the
// whole block. System and constraint blocks are left alone, and content
// containing fenced code only gets its line endings normalized so the code
// survives verbatim.
func (s *Stage) cleanWhitespace(blocks []*block.Block, model string, maxBlank int) {
	if maxBlank < 0 {
		maxBlank = 0
	}

	for _, b := range blocks {
		if b.Type == block.TypeSystem || b.Type == block.TypeConstraint {
			continue
		}

		cleaned := cleanText(b.Content, maxBlank)
		if cleaned == b.Content {
			continue
		}

		b.Content = cleaned
		b.Tokens = s.tok.CountTokens(model, cleaned)
		b.SetMeta("whitespace_cleaned", true)
	}
}

func cleanText(s string, maxBlank int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	// Conservative around code fences: normalized line endings only.
	if strings.Contains(s, "```") {
		return s
	}

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0

	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			blanks++
			if blanks > maxBlank {
				continue
			}
		} else {
			blanks = 0
		}
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}
