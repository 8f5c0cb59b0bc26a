package semantic

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/allaspectsdev/tokenpress/internal/block"
)

// constraintKeywords weights directive keywords for the constraint-density
// factor. Counting is done on the uppercased content, so "must" and "MUST"
// both count.
var constraintKeywords = map[string]float64{
	"MUST":      1.0,
	"MUST NOT":  1.0,
	"ALWAYS":    0.9,
	"NEVER":     0.9,
	"REQUIRED":  0.8,
	"FORMAT":    0.7,
	"JSON":      0.6,
	"SCHEMA":    0.6,
	"DEADLINE":  0.8,
	"IMPORTANT": 0.7,
}

// sourceTrust maps a block's metadata source to a trust factor. Unknown
// sources score 0.5.
var sourceTrust = map[string]float64{
	"system":    1.0,
	"developer": 1.0,
	"docs":      0.9,
	"user":      0.8,
	"inferred":  0.5,
}

// identifierPatterns match content that is expensive to lose: UUIDs, id
// tokens, long keys, URLs and SCREAMING_SNAKE constants.
var identifierPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`),
	regexp.MustCompile(`(?i)\bid[_-]?\d+\b`),
	regexp.MustCompile(`(?i)\b[A-Z0-9]{20,}\b`),
	regexp.MustCompile(`(?i)https?://\S+`),
	regexp.MustCompile(`(?i)\b[A-Z]{2,}_[A-Z_]+\b`),
}

var (
	properNounRe = regexp.MustCompile(`\b[A-Z][a-z]+\b`)
	numberRe     = regexp.MustCompile(`\b\d+\.?\d*\b`)
	isoDateRe    = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// Utility combines similarity with recency, constraint density, identifier
// density, source trust and entity density into a single score in [0,1].
//
//	utility = 0.40*similarity + 0.20*recency + 0.15*constraints
//	        + 0.10*identifiers + 0.10*trust + 0.05*entities
func Utility(b *block.Block, similarity float64, now time.Time) float64 {
	recency := 0.5
	if !b.Timestamp.IsZero() {
		recency = recencyScore(b.Timestamp, now)
	}

	utility := 0.40*similarity +
		0.20*recency +
		0.15*constraintScore(b.Content) +
		0.10*identifierScore(b.Content) +
		0.10*trustScore(b.Source()) +
		0.05*entityScore(b.Content)

	if utility < 0 {
		return 0
	}
	if utility > 1 {
		return 1
	}
	return utility
}

// recencyScore decays exponentially with age: e^(-days/30).
func recencyScore(ts, now time.Time) float64 {
	ageDays := now.Sub(ts).Seconds() / 86400
	return math.Exp(-ageDays / 30)
}

// constraintScore is the weighted directive-keyword count, saturating at
// five occurrences.
func constraintScore(content string) float64 {
	upper := strings.ToUpper(content)

	score := 0.0
	for keyword, weight := range constraintKeywords {
		score += float64(strings.Count(upper, keyword)) * weight
	}

	if score > 5 {
		score = 5
	}
	return score / 5
}

// identifierScore counts identifier-like tokens, saturating at ten.
func identifierScore(content string) float64 {
	matches := 0
	for _, re := range identifierPatterns {
		matches += len(re.FindAllStringIndex(content, -1))
	}

	if matches > 10 {
		matches = 10
	}
	return float64(matches) / 10
}

// entityScore counts capitalized words, numbers and ISO dates, saturating
// at twenty.
func entityScore(content string) float64 {
	entities := len(properNounRe.FindAllStringIndex(content, -1)) +
		len(numberRe.FindAllStringIndex(content, -1)) +
		len(isoDateRe.FindAllStringIndex(content, -1))

	if entities > 20 {
		entities = 20
	}
	return float64(entities) / 20
}

func trustScore(source string) float64 {
	if trust, ok := sourceTrust[source]; ok {
		return trust
	}
	return 0.5
}
