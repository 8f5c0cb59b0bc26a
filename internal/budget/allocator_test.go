package budget

import (
	"testing"

	"github.com/allaspectsdev/tokenpress/internal/block"
)

func defaultFractions() map[string]float64 {
	return map[string]float64{
		"doc":       0.4,
		"assistant": 0.3,
		"tool":      0.2,
		"user":      0.1,
	}
}

func newBlock(t block.Type, tokens int, mustKeep bool, priority float64, index int) *block.Block {
	b := block.New(t, "content", tokens, mustKeep, priority)
	b.SetMeta("index", index)
	return b
}

func TestSelectKeepsMustKeep(t *testing.T) {
	a := NewAllocator(defaultFractions())
	blocks := []*block.Block{
		newBlock(block.TypeSystem, 100, true, 1.0, 0),
		newBlock(block.TypeDoc, 200, false, 0.5, 1),
	}

	res := a.Select(blocks, 2000, 300)

	if res.MustKeepExceedsBudget {
		t.Fatal("budget not exceeded")
	}
	found := false
	for _, b := range res.Selected {
		if b.MustKeep {
			found = true
		}
	}
	if !found {
		t.Error("must-keep block should always be selected")
	}
}

func TestSelectMustKeepExceedsBudget(t *testing.T) {
	a := NewAllocator(defaultFractions())
	blocks := []*block.Block{
		newBlock(block.TypeSystem, 900, true, 1.0, 0),
		newBlock(block.TypeUser, 900, true, 1.0, 1),
		newBlock(block.TypeDoc, 50, false, 0.9, 2),
	}

	res := a.Select(blocks, 1000, 300)

	if !res.MustKeepExceedsBudget {
		t.Fatal("expected must-keep overflow to be flagged")
	}
	if len(res.Selected) != 2 {
		t.Errorf("selected %d blocks, want only the 2 must-keep", len(res.Selected))
	}
	if len(res.Dropped) != 1 {
		t.Errorf("dropped %d blocks, want 1", len(res.Dropped))
	}
	if reason := res.Dropped[0].Metadata["selection_reason"]; reason != ReasonExceeded {
		t.Errorf("dropped block reason = %v, want %q", reason, ReasonExceeded)
	}
}

func TestSelectGreedyByUtilityRatio(t *testing.T) {
	a := NewAllocator(map[string]float64{"doc": 1.0})

	high := newBlock(block.TypeDoc, 100, false, 0, 0)
	high.SetMeta("utility_score", 0.9)
	low := newBlock(block.TypeDoc, 100, false, 0, 1)
	low.SetMeta("utility_score", 0.1)

	// Budget fits only one doc block: 100 + margin 0, max 100.
	res := a.Select([]*block.Block{low, high}, 100, 0)

	if len(res.Selected) != 1 {
		t.Fatalf("selected %d blocks, want 1", len(res.Selected))
	}
	if res.Selected[0] != high {
		t.Error("higher utility/token block should win")
	}
	if reason := high.Metadata["selection_reason"]; reason != ReasonSelected {
		t.Errorf("selected reason = %v, want %q", reason, ReasonSelected)
	}
	if reason := low.Metadata["selection_reason"]; reason != ReasonExceeded {
		t.Errorf("dropped reason = %v, want %q", reason, ReasonExceeded)
	}
}

func TestSelectFallsBackToPriority(t *testing.T) {
	// Without a utility_score the static priority drives the ratio.
	a := NewAllocator(map[string]float64{"doc": 1.0})

	important := newBlock(block.TypeDoc, 100, false, 0.8, 0)
	boring := newBlock(block.TypeDoc, 100, false, 0.2, 1)

	res := a.Select([]*block.Block{boring, important}, 100, 0)

	if len(res.Selected) != 1 || res.Selected[0] != important {
		t.Error("higher-priority block should be selected first")
	}
}

func TestSelectTieBreaksLaterIndex(t *testing.T) {
	a := NewAllocator(map[string]float64{"user": 1.0})

	early := newBlock(block.TypeUser, 100, false, 0.5, 1)
	late := newBlock(block.TypeUser, 100, false, 0.5, 7)

	res := a.Select([]*block.Block{early, late}, 100, 0)

	if len(res.Selected) != 1 || res.Selected[0] != late {
		t.Error("equal ratio and priority should prefer the later block")
	}
}

func TestTypeBudgetRedistribution(t *testing.T) {
	a := NewAllocator(defaultFractions())

	// Only doc and user present: assistant (.3) and tool (.2) fractions are
	// redistributed equally, .25 each, giving doc .65 and user .35.
	blocks := []*block.Block{
		newBlock(block.TypeDoc, 1, false, 0.5, 0),
		newBlock(block.TypeUser, 1, false, 0.5, 1),
	}
	budgets := a.typeBudgets(blocks, 1000)

	if budgets["doc"] != 650 {
		t.Errorf("doc budget = %d, want 650", budgets["doc"])
	}
	if budgets["user"] != 350 {
		t.Errorf("user budget = %d, want 350", budgets["user"])
	}
	if _, ok := budgets["assistant"]; ok {
		t.Error("absent types should get no budget entry")
	}
}

func TestTypeWithoutFractionGetsNothing(t *testing.T) {
	a := NewAllocator(map[string]float64{"doc": 1.0})

	stray := newBlock(block.TypeTool, 10, false, 0.9, 0)
	res := a.Select([]*block.Block{stray}, 1000, 0)

	if len(res.Selected) != 0 {
		t.Error("types with no configured fraction should never be selected")
	}
}

func TestZeroTokenBlocksSortLast(t *testing.T) {
	a := NewAllocator(map[string]float64{"doc": 1.0})

	empty := newBlock(block.TypeDoc, 0, false, 1.0, 0)
	normal := newBlock(block.TypeDoc, 50, false, 0.1, 1)

	res := a.Select([]*block.Block{empty, normal}, 1000, 0)

	// Both fit, but the zero-token block must not outrank real content.
	if len(res.Selected) != 2 {
		t.Fatalf("selected %d, want 2", len(res.Selected))
	}
	if res.Selected[0] != normal {
		t.Error("zero-token block should sort after scored content")
	}
}

func TestSelectDeterministic(t *testing.T) {
	a := NewAllocator(defaultFractions())

	build := func() []*block.Block {
		var blocks []*block.Block
		for i := 0; i < 20; i++ {
			typ := []block.Type{block.TypeDoc, block.TypeAssistant, block.TypeTool, block.TypeUser}[i%4]
			b := newBlock(typ, 50+i*10, false, float64(i%5)/5, i)
			b.ID = string(b.Type) + "-" + string(rune('a'+i))
			blocks = append(blocks, b)
		}
		return blocks
	}

	first := a.Select(build(), 600, 100)
	second := a.Select(build(), 600, 100)

	if len(first.Selected) != len(second.Selected) {
		t.Fatalf("selection count differs: %d vs %d", len(first.Selected), len(second.Selected))
	}
	for i := range first.Selected {
		if first.Selected[i].ID != second.Selected[i].ID {
			t.Errorf("selection order differs at %d: %s vs %s", i, first.Selected[i].ID, second.Selected[i].ID)
		}
	}
}
