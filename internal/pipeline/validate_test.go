package pipeline

import (
	"strings"
	"testing"

	"github.com/allaspectsdev/tokenpress/internal/block"
	"github.com/allaspectsdev/tokenpress/internal/config"
	"github.com/allaspectsdev/tokenpress/internal/tokenizer"
)

func TestValidateOK(t *testing.T) {
	blocks := []*block.Block{
		block.New(block.TypeSystem, "system prompt", 10, true, 1.0),
		block.New(block.TypeUser, "question", 5, true, 0.9),
	}
	cfg := config.Resolved{MaxInputTokens: 1000, SafetyMarginTokens: 100}

	ok, errs := Validate(blocks, cfg)
	if !ok {
		t.Fatalf("Validate() = invalid, errors: %v", errs)
	}
}

func TestValidateEmpty(t *testing.T) {
	ok, errs := Validate(nil, config.Resolved{MaxInputTokens: 1000})
	if ok {
		t.Fatal("empty block set must be invalid")
	}
	if len(errs) != 1 {
		t.Errorf("got %d errors, want 1", len(errs))
	}
}

func TestValidateMissingSystemOrUser(t *testing.T) {
	blocks := []*block.Block{
		block.New(block.TypeDoc, "reference", 10, true, 0.6),
	}
	ok, errs := Validate(blocks, config.Resolved{MaxInputTokens: 1000})
	if ok {
		t.Fatal("doc-only set must be invalid")
	}
	found := false
	for _, e := range errs {
		if strings.Contains(e, "system or user") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v, want a system-or-user complaint", errs)
	}
}

func TestValidateOverBudget(t *testing.T) {
	blocks := []*block.Block{
		block.New(block.TypeSystem, "system prompt", 500, true, 1.0),
		block.New(block.TypeUser, "question", 300, true, 0.9),
	}
	cfg := config.Resolved{MaxInputTokens: 1000, SafetyMarginTokens: 300}

	// The margin caps at max/4 = 250, so the budget is 750 and 800 is over.
	ok, errs := Validate(blocks, cfg)
	if ok {
		t.Fatal("800 tokens against a 750 budget must be invalid")
	}
	found := false
	for _, e := range errs {
		if strings.Contains(e, "over budget") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v, want an over-budget complaint", errs)
	}
}

func TestValidateMarginCap(t *testing.T) {
	blocks := []*block.Block{
		block.New(block.TypeUser, "question", 280, true, 0.9),
	}
	// Without the cap the budget would be 400-300=100 and this would fail.
	cfg := config.Resolved{MaxInputTokens: 400, SafetyMarginTokens: 300}

	ok, errs := Validate(blocks, cfg)
	if !ok {
		t.Fatalf("Validate() = invalid, errors: %v", errs)
	}
}

func TestValidateNoMustKeep(t *testing.T) {
	blocks := []*block.Block{
		block.New(block.TypeUser, "question", 5, false, 0.7),
	}
	ok, errs := Validate(blocks, config.Resolved{MaxInputTokens: 1000})
	if ok {
		t.Fatal("set without must-keep blocks must be invalid")
	}
	found := false
	for _, e := range errs {
		if strings.Contains(e, "must-keep") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v, want a must-keep complaint", errs)
	}
}

func TestFallbackKeepsMustKeepAndLastUser(t *testing.T) {
	o := New(tokenizer.New(), nil, nil, nil)
	cfg := config.Resolved{MaxInputTokens: 1000, SafetyMarginTokens: 100}

	blocks := []*block.Block{
		block.New(block.TypeSystem, "system prompt", 10, true, 1.0),
		block.New(block.TypeUser, "first question", 5, false, 0.7),
		block.New(block.TypeAssistant, "long answer", 400, false, 0.5),
		block.New(block.TypeUser, "second question", 5, false, 0.7),
	}

	kept := o.fallback(blocks, "gpt-4", cfg)

	if len(kept) != 2 {
		t.Fatalf("got %d blocks, want system + last user", len(kept))
	}
	if kept[0].Type != block.TypeSystem {
		t.Errorf("first kept block = %s, want system", kept[0].Type)
	}
	if kept[1].Content != "second question" {
		t.Errorf("kept user = %q, want the last user message", kept[1].Content)
	}
}

func TestFallbackTruncatesToBudget(t *testing.T) {
	tok := tokenizer.New()
	o := New(tok, nil, nil, nil)
	cfg := config.Resolved{MaxInputTokens: 100, SafetyMarginTokens: 0}

	content := strings.Repeat("step log line with details ", 60)
	user := block.New(block.TypeUser, content, tok.CountTokens("gpt-4", content), true, 0.9)
	system := block.New(block.TypeSystem, "system prompt", 4, true, 1.0)

	kept := o.fallback([]*block.Block{system, user}, "gpt-4", cfg)

	var truncated *block.Block
	for _, b := range kept {
		if b.Type == block.TypeUser {
			truncated = b
		}
	}
	if truncated == nil {
		t.Fatal("user block missing from fallback output")
	}
	if truncated.Tokens >= tok.CountTokens("gpt-4", content) {
		t.Errorf("tokens = %d, want fewer than the original", truncated.Tokens)
	}
	if v, ok := truncated.Metadata["truncated_to_budget"].(bool); !ok || !v {
		t.Error("expected truncated_to_budget metadata")
	}
	if !strings.Contains(truncated.Content, tokenizer.TruncationMarker) {
		t.Error("expected the truncation marker in the content")
	}
}

func TestFallbackMustKeepOnlyWhenStillInvalid(t *testing.T) {
	o := New(tokenizer.New(), nil, nil, nil)
	cfg := config.Resolved{MaxInputTokens: 1000, SafetyMarginTokens: 100}

	// No user block anywhere and the must-keep block is a doc, so the
	// fallback cannot produce a valid set and returns must-keep only.
	blocks := []*block.Block{
		block.New(block.TypeDoc, "reference material", 10, true, 0.6),
		block.New(block.TypeAssistant, "answer", 10, false, 0.5),
	}

	kept := o.fallback(blocks, "gpt-4", cfg)
	if len(kept) != 1 || kept[0].Type != block.TypeDoc {
		t.Fatalf("kept = %+v, want the single must-keep doc", kept)
	}
}
