package heuristics

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/allaspectsdev/tokenpress/internal/block"
	"github.com/allaspectsdev/tokenpress/internal/tokenizer"
)

const testModel = "gpt-4"

var testTok = tokenizer.New()

func mkBlock(t block.Type, content string, index int, mustKeep bool, priority float64) *block.Block {
	b := block.New(t, content, testTok.CountTokens(testModel, content), mustKeep, priority)
	b.Metadata["index"] = index
	return b
}

func defaultConfig() Config {
	return Config{
		KeepLastNTurns:    4,
		WhitespaceCleanup: true,
		MaxBlankLines:     1,
		TabularMaxRows:    1000,
	}
}

func TestRemoveJunk(t *testing.T) {
	blocks := []*block.Block{
		mkBlock(block.TypeUser, "Question 1", 0, false, 0.7),
		mkBlock(block.TypeAssistant, "Sure, I can help with that!", 1, false, 0.5),
		mkBlock(block.TypeAssistant, "Of course!", 2, false, 0.5),
		mkBlock(block.TypeAssistant, "   ", 3, false, 0.5),
		mkBlock(block.TypeAssistant, "The answer is 42.", 4, false, 0.5),
		mkBlock(block.TypeAssistant, "Thanks for asking!", 5, true, 0.9),
	}

	out := removeJunk(blocks)
	if len(out) != 3 {
		t.Fatalf("got %d blocks, want 3", len(out))
	}
	if out[0].Content != "Question 1" || out[1].Content != "The answer is 42." {
		t.Errorf("wrong survivors: %q, %q", out[0].Content, out[1].Content)
	}
	if !out[2].MustKeep {
		t.Error("must-keep fluff has to survive junk removal")
	}
}

func TestDeduplicate_KeepsLatest(t *testing.T) {
	older := mkBlock(block.TypeUser, "same content", 0, false, 0.7)
	older.Timestamp = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := mkBlock(block.TypeUser, "Same Content  ", 1, false, 0.7)
	newer.Timestamp = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	other := mkBlock(block.TypeAssistant, "unrelated", 2, false, 0.5)

	out := deduplicate([]*block.Block{older, newer, other})
	if len(out) != 2 {
		t.Fatalf("got %d blocks, want 2", len(out))
	}
	if out[0].ID != newer.ID {
		t.Errorf("expected the more recent duplicate to win, got %q", out[0].Content)
	}
	if out[1].ID != other.ID {
		t.Error("unrelated block missing or reordered")
	}
}

func TestDeduplicate_MustKeepSuppressesCopies(t *testing.T) {
	blocks := []*block.Block{
		mkBlock(block.TypeUser, "Hello", 0, false, 0.7),
		mkBlock(block.TypeUser, "Hello", 1, false, 0.7),
		mkBlock(block.TypeUser, "Hello", 2, true, 0.9),
	}

	out := deduplicate(blocks)
	if len(out) != 1 {
		t.Fatalf("got %d blocks, want 1", len(out))
	}
	if !out[0].MustKeep {
		t.Error("the surviving block must be the pinned one")
	}
}

func TestDeduplicate_MustKeepNeverGrouped(t *testing.T) {
	a := mkBlock(block.TypeSystem, "You are helpful.", 0, true, 1.0)
	b := mkBlock(block.TypeSystem, "You are helpful.", 1, true, 1.0)

	out := deduplicate([]*block.Block{a, b})
	if len(out) != 2 {
		t.Fatalf("got %d blocks, want 2: pinned blocks are never merged", len(out))
	}
}

func TestDeduplicate_RestoresCanonicalOrder(t *testing.T) {
	blocks := []*block.Block{
		mkBlock(block.TypeDoc, "doc one", 3, false, 0.6),
		mkBlock(block.TypeUser, "question", 1, true, 0.9),
		mkBlock(block.TypeDoc, "doc two", 2, false, 0.6),
	}

	out := deduplicate(blocks)
	wantOrder := []string{"question", "doc two", "doc one"}
	for i, b := range out {
		if b.Content != wantOrder[i] {
			t.Errorf("position %d: %q, want %q", i, b.Content, wantOrder[i])
		}
	}
}

func TestCleanWhitespace(t *testing.T) {
	s := New(testTok)
	b := mkBlock(block.TypeUser, "hello   \n\n\nworld\t\t\n", 0, false, 0.7)

	s.cleanWhitespace([]*block.Block{b}, testModel, 1)
	if b.Content != "hello\n\nworld" {
		t.Errorf("cleaned content = %q, want %q", b.Content, "hello\n\nworld")
	}
	if cleaned, _ := b.Metadata["whitespace_cleaned"].(bool); !cleaned {
		t.Error("whitespace_cleaned metadata not set")
	}
	if b.Tokens != testTok.CountTokens(testModel, b.Content) {
		t.Error("tokens not recounted after cleanup")
	}
}

func TestCleanWhitespace_SkipsSystem(t *testing.T) {
	s := New(testTok)
	sys := mkBlock(block.TypeSystem, " system   \n\n\n", 0, true, 1.0)
	usr := mkBlock(block.TypeUser, " user   \n\n\n", 1, false, 0.7)

	s.cleanWhitespace([]*block.Block{sys, usr}, testModel, 1)
	if sys.Content != " system   \n\n\n" {
		t.Errorf("system content changed: %q", sys.Content)
	}
	if usr.Content != "user" {
		t.Errorf("user content = %q, want %q", usr.Content, "user")
	}
}

func TestCleanWhitespace_ConservativeAroundCodeFences(t *testing.T) {
	s := New(testTok)
	text := "```python\nx = 1\n\n\nprint(x)\n```\n"
	b := mkBlock(block.TypeUser, text, 0, false, 0.7)

	s.cleanWhitespace([]*block.Block{b}, testModel, 1)
	if b.Content != text {
		t.Errorf("fenced content changed: %q", b.Content)
	}
}

func TestKeepLastNTurns(t *testing.T) {
	blocks := []*block.Block{
		mkBlock(block.TypeSystem, "sys", 0, true, 1.0),
		mkBlock(block.TypeUser, "q1", 1, false, 0.7),
		mkBlock(block.TypeAssistant, "a1", 2, false, 0.5),
		mkBlock(block.TypeUser, "q2", 3, false, 0.7),
		mkBlock(block.TypeAssistant, "a2", 4, false, 0.5),
		mkBlock(block.TypeUser, "q3", 5, true, 0.9),
		mkBlock(block.TypeDoc, "doc", 6, false, 0.6),
	}

	keepLastNTurns(blocks, 2)

	wantPinned := map[string]bool{"sys": true, "q2": true, "a2": true, "q3": true}
	for _, b := range blocks {
		if wantPinned[b.Content] != b.MustKeep {
			t.Errorf("%q: must_keep=%v, want %v", b.Content, b.MustKeep, wantPinned[b.Content])
		}
	}
	for _, b := range blocks {
		if b.MustKeep && b.Type != block.TypeSystem && b.Priority < 0.9 {
			t.Errorf("%q: pinned turn priority = %v, want >= 0.9", b.Content, b.Priority)
		}
	}
}

func TestHoistConstraints_CopiesDirectives(t *testing.T) {
	s := New(testTok)
	directive := "You MUST output JSON in every reply"
	sysContent := "You are a helpful assistant. " + directive + ". Be concise."
	userContent := directive + ". Summarize the attached report."
	blocks := []*block.Block{
		mkBlock(block.TypeSystem, sysContent, 0, true, 1.0),
		mkBlock(block.TypeUser, userContent, 1, false, 0.7),
		mkBlock(block.TypeUser, "Process this.", 2, true, 0.9),
	}

	out := s.hoistConstraints(blocks, testModel)
	if len(out) != 4 {
		t.Fatalf("got %d blocks, want 4 (constraint prepended)", len(out))
	}

	cb := out[0]
	if cb.Type != block.TypeConstraint || !cb.MustKeep || cb.Priority != 1.0 {
		t.Errorf("constraint block flags: type=%s must_keep=%v priority=%v", cb.Type, cb.MustKeep, cb.Priority)
	}
	if cb.Source() != "extracted_constraints" {
		t.Errorf("source = %q", cb.Source())
	}
	if strings.Count(cb.Content, directive) != 1 {
		t.Errorf("directive must appear exactly once in constraint block: %q", cb.Content)
	}

	// The hoist is a copy: the directive stays in its source blocks, so
	// serializing back to messages loses nothing.
	if out[1].Content != sysContent {
		t.Errorf("system content changed: %q", out[1].Content)
	}
	if out[2].Content != userContent {
		t.Errorf("user content changed: %q", out[2].Content)
	}
}

func TestHoistConstraints_SkipsWhenAlreadyHoisted(t *testing.T) {
	s := New(testTok)
	blocks := []*block.Block{
		mkBlock(block.TypeSystem, "You MUST output JSON. NEVER include PII.", 0, true, 1.0),
	}

	once := s.hoistConstraints(blocks, testModel)
	if len(once) != 2 || once[0].Type != block.TypeConstraint {
		t.Fatalf("first pass should prepend one constraint block, got %d blocks", len(once))
	}

	twice := s.hoistConstraints(once, testModel)
	if len(twice) != len(once) {
		t.Errorf("second pass added blocks: %d, want %d", len(twice), len(once))
	}
	count := 0
	for _, b := range twice {
		if b.Type == block.TypeConstraint {
			count++
		}
	}
	if count != 1 {
		t.Errorf("constraint blocks = %d, want 1", count)
	}
}

func TestHoistConstraints_DiscardsOversized(t *testing.T) {
	s := New(testTok)

	var sb strings.Builder
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&sb, "Rule number %d MUST hold for every request in region %d. ", i, i)
	}
	blocks := []*block.Block{
		mkBlock(block.TypeSystem, sb.String(), 0, true, 1.0),
		mkBlock(block.TypeUser, "hi", 1, true, 0.9),
	}

	out := s.hoistConstraints(blocks, testModel)
	for _, b := range out {
		if b.Type == block.TypeConstraint {
			t.Fatal("oversized constraint block should be treated as noise")
		}
	}
}

func TestMinimizeToolSchemas(t *testing.T) {
	s := New(testTok)
	schema := map[string]any{
		"name":        "getWeather",
		"description": "Fetches the current weather for a location, including temperature, humidity, wind speed and a textual forecast for the next day.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "City name in English, for example London or Tokyo.",
					"examples":    []any{"London", "Tokyo"},
				},
				"unit": map[string]any{
					"type":        "string",
					"enum":        []any{"celsius", "fahrenheit"},
					"description": "Temperature unit.",
				},
			},
			"required": []any{"city"},
		},
	}
	data, _ := json.Marshal(schema)

	b := mkBlock(block.TypeTool, string(data), 0, true, 0.8)
	b.Metadata["source"] = "tool_schema"
	before := b.Tokens

	s.minimizeToolSchemas([]*block.Block{b}, testModel, nil)

	if b.Tokens >= before {
		t.Fatalf("schema not minimized: %d >= %d tokens", b.Tokens, before)
	}
	if strings.Contains(b.Content, "description") || strings.Contains(b.Content, "examples") {
		t.Errorf("verbose fields survived: %q", b.Content)
	}
	for _, want := range []string{"getWeather", "celsius", "required", "city"} {
		if !strings.Contains(b.Content, want) {
			t.Errorf("minimized schema lost %q: %q", want, b.Content)
		}
	}
	if minimized, _ := b.Metadata["schema_minimized"].(bool); !minimized {
		t.Error("schema_minimized metadata not set")
	}
}

func TestMinimizeToolSchemas_Allowlist(t *testing.T) {
	s := New(testTok)
	tools := []any{
		map[string]any{"name": "keepMe", "description": strings.Repeat("long description ", 20), "parameters": map[string]any{"type": "object"}},
		map[string]any{"name": "dropMe", "description": strings.Repeat("long description ", 20), "parameters": map[string]any{"type": "object"}},
	}
	data, _ := json.Marshal(tools)

	b := mkBlock(block.TypeTool, string(data), 0, true, 0.8)
	b.Metadata["source"] = "tool_schema"

	s.minimizeToolSchemas([]*block.Block{b}, testModel, []string{"keepMe"})

	if !strings.Contains(b.Content, "keepMe") {
		t.Errorf("allowlisted tool missing: %q", b.Content)
	}
	if strings.Contains(b.Content, "dropMe") {
		t.Errorf("filtered tool survived: %q", b.Content)
	}
}

func TestMinimizeToolSchemas_IgnoresToolOutputs(t *testing.T) {
	s := New(testTok)
	b := mkBlock(block.TypeTool, `{"name":"result","rows":[1,2,3]}`, 0, false, 0.7)
	b.Metadata["source"] = "tool_output"
	before := b.Content

	s.minimizeToolSchemas([]*block.Block{b}, testModel, nil)
	if b.Content != before {
		t.Errorf("tool output rewritten: %q", b.Content)
	}
}

func TestTrimLogs(t *testing.T) {
	s := New(testTok)

	lines := make([]string, 400)
	for i := range lines {
		lines[i] = fmt.Sprintf("INFO step=%04d doing things", i)
	}
	lines[100] = "ERROR step=0100 boom"
	b := mkBlock(block.TypeAssistant, strings.Join(lines, "\n"), 0, false, 0.5)
	before := b.Tokens

	s.trimLogs([]*block.Block{b}, testModel)

	if b.Tokens >= before {
		t.Fatalf("logs not trimmed: %d >= %d tokens", b.Tokens, before)
	}
	if !strings.Contains(b.Content, "ERROR step=0100 boom") {
		t.Error("error line dropped")
	}
	if !strings.Contains(b.Content, "step=0075") {
		t.Error("context before the error line dropped")
	}
	if !strings.Contains(b.Content, "step=0399") {
		t.Error("tail lines dropped")
	}
	if strings.Contains(b.Content, "step=0010") {
		t.Error("line far from error and tail survived")
	}
	if !strings.Contains(b.Content, LogTruncationMarker) {
		t.Error("truncation marker missing")
	}
	if trimmed, _ := b.Metadata["logs_trimmed"].(bool); !trimmed {
		t.Error("logs_trimmed metadata not set")
	}
}

func TestTrimLogs_SkipsProse(t *testing.T) {
	s := New(testTok)
	b := mkBlock(block.TypeAssistant, strings.Repeat("A long explanation of the design.\n", 200), 0, false, 0.5)
	before := b.Content

	s.trimLogs([]*block.Block{b}, testModel)
	if b.Content != before {
		t.Error("prose without log levels was trimmed")
	}
}

func TestCompactTabular(t *testing.T) {
	s := New(testTok)

	rows := make([]map[string]any, 50)
	for i := range rows {
		rows[i] = map[string]any{"id": fmt.Sprintf("%d", i), "name": fmt.Sprintf("name_%d", i), "value": i}
	}
	data, _ := json.Marshal(rows)

	b := mkBlock(block.TypeDoc, string(data), 0, false, 0.6)
	before := b.Tokens

	s.compactTabular([]*block.Block{b}, testModel, 1000)

	if b.Tokens >= before {
		t.Fatalf("tabular doc not compacted: %d >= %d tokens", b.Tokens, before)
	}
	if !strings.HasPrefix(b.Content, "id|name|value\n") {
		t.Errorf("missing schema header: %q", b.Content[:40])
	}
	if !strings.Contains(b.Content, "7|name_7|7") {
		t.Errorf("row content wrong: %q", b.Content)
	}
	if compacted, _ := b.Metadata["tabular_compacted"].(bool); !compacted {
		t.Error("tabular_compacted metadata not set")
	}
}

func TestCompactTabular_RejectsNonUniform(t *testing.T) {
	s := New(testTok)
	data := `[{"id":"1","name":"a"},{"id":"2","extra":"b"}]`
	b := mkBlock(block.TypeDoc, data, 0, false, 0.6)

	s.compactTabular([]*block.Block{b}, testModel, 1000)
	if b.Content != data {
		t.Errorf("non-uniform array rewritten: %q", b.Content)
	}
}

func TestCompactTabular_RespectsRowCap(t *testing.T) {
	s := New(testTok)
	rows := make([]map[string]any, 20)
	for i := range rows {
		rows[i] = map[string]any{"id": i}
	}
	data, _ := json.Marshal(rows)
	b := mkBlock(block.TypeDoc, string(data), 0, false, 0.6)

	s.compactTabular([]*block.Block{b}, testModel, 10)
	if b.Content != string(data) {
		t.Error("array above the row cap was rewritten")
	}
}

func TestApply_Idempotent(t *testing.T) {
	s := New(testTok)
	cfg := defaultConfig()

	logLines := make([]string, 300)
	for i := range logLines {
		logLines[i] = fmt.Sprintf("INFO worker=%d processed batch", i)
	}
	rows := make([]map[string]any, 30)
	for i := range rows {
		rows[i] = map[string]any{"sku": fmt.Sprintf("SKU-%d", i), "qty": i}
	}
	tabular, _ := json.Marshal(rows)

	blocks := []*block.Block{
		mkBlock(block.TypeSystem, "You are a support agent. You MUST cite ticket ids. Answer briefly.", 0, true, 1.0),
		mkBlock(block.TypeUser, "Hello", 1, false, 0.7),
		mkBlock(block.TypeUser, "Hello", 2, false, 0.7),
		mkBlock(block.TypeAssistant, "Sure, I can help with that!", 3, false, 0.5),
		mkBlock(block.TypeAssistant, strings.Join(logLines, "\n"), 4, false, 0.5),
		mkBlock(block.TypeDoc, string(tabular), 5, false, 0.6),
		mkBlock(block.TypeUser, "What   happened?\n\n\n\nPlease check.", 6, true, 0.9),
	}

	first := s.Apply(blocks, testModel, cfg)

	type snapshot struct {
		content  string
		mustKeep bool
		priority float64
		tokens   int
	}
	want := make([]snapshot, len(first))
	for i, b := range first {
		want[i] = snapshot{b.Content, b.MustKeep, b.Priority, b.Tokens}
	}

	second := s.Apply(first, testModel, cfg)
	if len(second) != len(want) {
		t.Fatalf("second pass changed block count: %d != %d", len(second), len(want))
	}
	for i, b := range second {
		got := snapshot{b.Content, b.MustKeep, b.Priority, b.Tokens}
		if got != want[i] {
			t.Errorf("block %d changed on second pass:\n got %+v\nwant %+v", i, got, want[i])
		}
	}
}

func TestApply_TokensStayConsistent(t *testing.T) {
	s := New(testTok)
	blocks := []*block.Block{
		mkBlock(block.TypeSystem, "Be helpful. You MUST answer politely. Keep it short.", 0, true, 1.0),
		mkBlock(block.TypeUser, "hi   there\n\n\n\nfriend", 1, true, 0.9),
	}

	out := s.Apply(blocks, testModel, defaultConfig())
	for _, b := range out {
		if want := testTok.CountTokens(testModel, b.Content); b.Tokens != want {
			t.Errorf("%s block tokens=%d, want %d after mutation", b.Type, b.Tokens, want)
		}
	}
}
