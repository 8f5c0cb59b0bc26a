package tokenizer

import "strings"

// ModelPricing holds the per-million-token costs for a model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Pricing maps model identifiers to their token pricing. Used to turn saved
// input tokens into an estimated dollar figure for events and metrics.
var Pricing = map[string]ModelPricing{
	// Anthropic
	"claude-opus-4":    {15.00, 75.00},
	"claude-sonnet-4":  {3.00, 15.00},
	"claude-haiku-4-5": {0.80, 4.00},

	// OpenAI
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4-turbo": {10.00, 30.00},
	"gpt-4":       {30.00, 60.00},
}

// GetPricing returns the pricing for the given model. It first attempts an
// exact match, then falls back to a prefix match against known model names.
// The second return value indicates whether pricing was found.
func GetPricing(model string) (ModelPricing, bool) {
	if p, ok := Pricing[model]; ok {
		return p, true
	}

	// Prefix match for versioned model names like "gpt-4o-2024-08-06".
	var (
		best    ModelPricing
		bestLen int
		found   bool
	)
	for name, p := range Pricing {
		if strings.HasPrefix(model, name) && len(name) > bestLen {
			best = p
			bestLen = len(name)
			found = true
		}
	}
	return best, found
}

// EstimateInputCost returns the estimated USD cost of the given number of
// input tokens on the specified model, or 0 for unknown models. Applied to
// tokens-saved counts it yields the estimated spend avoided by optimization.
func EstimateInputCost(model string, tokens int) float64 {
	p, ok := GetPricing(model)
	if !ok {
		return 0.0
	}
	return float64(tokens) * p.InputPerMillion / 1_000_000
}
