package compress

import (
	"regexp"
	"strings"
)

var (
	properNounRe = regexp.MustCompile(`\b[A-Z][a-z]+\b`)
	numberRe     = regexp.MustCompile(`\b\d+\.?\d*\b`)
	uuidRe       = regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)

	pureNumberRe = regexp.MustCompile(`^\d+$`)
	allCapsRe    = regexp.MustCompile(`^[A-Z]+$`)
	directiveRe  = regexp.MustCompile(`MUST|NEVER|ALWAYS|REQUIRED`)
)

var constraintKeywords = []string{"MUST", "NEVER", "ALWAYS", "REQUIRED", "FORMAT"}

// Faithfulness measures how much of the original's load-bearing content
// survives in the compressed text: Jaccard similarity over the entity sets,
// with a +0.1 boost (capped at 1) when every critical entity is preserved.
// A text with no entities scores 1.
func Faithfulness(original, compressed string) float64 {
	origEntities := extractEntities(original)
	compEntities := extractEntities(compressed)

	if len(origEntities) == 0 {
		return 1.0
	}

	intersection := 0
	for e := range origEntities {
		if compEntities[e] {
			intersection++
		}
	}
	union := len(compEntities)
	for e := range origEntities {
		if !compEntities[e] {
			union++
		}
	}

	jaccard := 1.0
	if union > 0 {
		jaccard = float64(intersection) / float64(union)
	}

	criticalPreserved := true
	for e := range origEntities {
		if isCritical(e) && !compEntities[e] {
			criticalPreserved = false
			break
		}
	}
	if criticalPreserved {
		jaccard += 0.1
		if jaccard > 1 {
			jaccard = 1
		}
	}

	return jaccard
}

// extractEntities collects the tokens the faithfulness check cares about:
// capitalized words, numbers, UUIDs, and constraint keywords.
func extractEntities(text string) map[string]bool {
	entities := make(map[string]bool)

	for _, m := range properNounRe.FindAllString(text, -1) {
		entities[m] = true
	}
	for _, m := range numberRe.FindAllString(text, -1) {
		entities[m] = true
	}
	for _, m := range uuidRe.FindAllString(strings.ToLower(text), -1) {
		entities[m] = true
	}

	upper := strings.ToUpper(text)
	for _, kw := range constraintKeywords {
		if strings.Contains(upper, kw) {
			entities[kw] = true
		}
	}

	return entities
}

// isCritical reports whether an entity must survive compression: pure
// numbers, all-caps tokens, and directive keywords.
func isCritical(entity string) bool {
	return pureNumberRe.MatchString(entity) ||
		allCapsRe.MatchString(entity) ||
		directiveRe.MatchString(entity)
}
