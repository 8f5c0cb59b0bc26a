package tokenizer

import "testing"

func TestGetPricing(t *testing.T) {
	p, ok := GetPricing("gpt-4o")
	if !ok || p.InputPerMillion != 2.50 {
		t.Errorf("gpt-4o = %+v, %v", p, ok)
	}

	// Versioned names fall back to the longest matching prefix.
	p, ok = GetPricing("gpt-4o-2024-08-06")
	if !ok || p.InputPerMillion != 2.50 {
		t.Errorf("gpt-4o-2024-08-06 = %+v, %v, want gpt-4o pricing", p, ok)
	}
	p, ok = GetPricing("gpt-4o-mini-2024-07-18")
	if !ok || p.InputPerMillion != 0.15 {
		t.Errorf("gpt-4o-mini prefix = %+v, %v, want gpt-4o-mini pricing", p, ok)
	}

	if _, ok := GetPricing("unknown-model"); ok {
		t.Error("unknown model should have no pricing")
	}
}

func TestEstimateInputCost(t *testing.T) {
	tests := []struct {
		model  string
		tokens int
		want   float64
	}{
		{"gpt-4", 1_000_000, 30.00},
		{"claude-sonnet-4", 1_000_000, 3.00},
		{"gpt-4o-mini", 2_000_000, 0.30},
		{"unknown-model", 1_000_000, 0},
		{"gpt-4", 0, 0},
	}
	for _, tt := range tests {
		if got := EstimateInputCost(tt.model, tt.tokens); got != tt.want {
			t.Errorf("EstimateInputCost(%q, %d) = %g, want %g", tt.model, tt.tokens, got, tt.want)
		}
	}
}
