package compress

import "testing"

func TestFaithfulnessIdentical(t *testing.T) {
	text := "Alice sent 42 units to Bob. You MUST confirm."
	if got := Faithfulness(text, text); got != 1.0 {
		t.Errorf("identical text faithfulness = %g, want 1.0", got)
	}
}

func TestFaithfulnessNoEntities(t *testing.T) {
	if got := Faithfulness("just lowercase words here", "anything"); got != 1.0 {
		t.Errorf("no entities should score 1.0, got %g", got)
	}
}

func TestFaithfulnessDropsWithLostEntities(t *testing.T) {
	original := "Alice paid Bob 500 dollars on March 3 via Stripe."
	full := Faithfulness(original, original)
	partial := Faithfulness(original, "Alice paid someone some money.")

	if partial >= full {
		t.Errorf("losing entities should lower the score: %g >= %g", partial, full)
	}
}

func TestFaithfulnessCriticalBoost(t *testing.T) {
	original := "Nimbus build 7"
	// Both rewrites keep exactly one of the two entities, so raw Jaccard is
	// equal; only the critical-number version gets the boost.
	withCritical := Faithfulness(original, "build 7")
	withoutCritical := Faithfulness(original, "Nimbus build")

	if withCritical <= withoutCritical {
		t.Errorf("preserving critical entities should score higher: %g <= %g", withCritical, withoutCritical)
	}
}

func TestFaithfulnessConstraintKeywords(t *testing.T) {
	original := "You MUST always include the FORMAT header."
	kept := Faithfulness(original, "MUST include FORMAT header")
	lost := Faithfulness(original, "include the header")

	if kept <= lost {
		t.Errorf("dropping MUST/FORMAT should lower the score: %g <= %g", kept, lost)
	}
}

func TestExtractEntities(t *testing.T) {
	text := "Carol shipped build 1.2 with id 123e4567-e89b-12d3-a456-426614174000. This is REQUIRED."
	entities := extractEntities(text)

	for _, want := range []string{"Carol", "1.2", "123e4567-e89b-12d3-a456-426614174000", "REQUIRED"} {
		if !entities[want] {
			t.Errorf("entity %q not extracted; got %v", want, entities)
		}
	}
	if entities["shipped"] {
		t.Error("plain lowercase words are not entities")
	}
}

func TestIsCritical(t *testing.T) {
	tests := []struct {
		entity string
		want   bool
	}{
		{"42", true},
		{"API", true},
		{"MUST", true},
		{"Alice", false},
		{"1.5", false}, // not a pure integer
	}
	for _, tt := range tests {
		if got := isCritical(tt.entity); got != tt.want {
			t.Errorf("isCritical(%q) = %v, want %v", tt.entity, got, tt.want)
		}
	}
}
