package compress

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

// splitSentences breaks text into sentences on terminal punctuation,
// treating bare newlines as boundaries too so list items survive as units.
func splitSentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	marked = strings.ReplaceAll(marked, "\n", "\x00")

	var out []string
	for _, part := range strings.Split(marked, "\x00") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// extractSentences keeps the highest-scoring ceil(n*ratio) sentences in their
// original order. Scoring favors entity-dense sentences and the ends of the
// text, where instructions tend to live.
func extractSentences(text string, ratio float64) string {
	sentences := splitSentences(text)
	n := len(sentences)
	if n <= 1 {
		return text
	}

	keep := int(math.Ceil(float64(n) * ratio))
	if keep < 1 {
		keep = 1
	}
	if keep >= n {
		return text
	}

	type scored struct {
		index int
		score float64
	}
	ranked := make([]scored, n)
	for i, s := range sentences {
		ranked[i] = scored{index: i, score: sentenceScore(s, i, n)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	chosen := make([]bool, n)
	for _, r := range ranked[:keep] {
		chosen[r.index] = true
	}

	var parts []string
	for i, s := range sentences {
		if chosen[i] {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// sentenceScore weights a sentence by its entity content and position.
// First and last sentences get a positional bonus.
func sentenceScore(s string, index, total int) float64 {
	score := float64(len(extractEntities(s)))

	switch index {
	case 0:
		score += 2
	case total - 1:
		score += 3
	}

	// Mild length normalization so a long rambling sentence does not win on
	// entity count alone.
	words := len(strings.Fields(s))
	if words > 0 {
		score += math.Min(float64(words)/20, 1)
	}
	return score
}
