package heuristics

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/allaspectsdev/tokenpress/internal/block"
)

// defaultTabularMaxRows bounds how large an array the compactor rewrites.
const defaultTabularMaxRows = 1000

// compactTabular rewrites doc blocks holding a JSON array of flat, uniform
// objects into a header line plus pipe-separated rows. JSON syntax repeats
// every key per row; the tabular form spells the schema once. The rewrite is
// kept only when strictly smaller.
func (s *Stage) compactTabular(blocks []*block.Block, model string, maxRows int) {
	if maxRows <= 0 {
		maxRows = defaultTabularMaxRows
	}

	for _, b := range blocks {
		if b.Type != block.TypeDoc {
			continue
		}

		compact, ok := tabularize(b.Content, maxRows)
		if !ok {
			continue
		}

		tokens := s.tok.CountTokens(model, compact)
		if tokens >= b.Tokens {
			continue
		}

		b.Content = compact
		b.Tokens = tokens
		b.SetMeta("tabular_compacted", true)
	}
}

// tabularize converts a JSON array of flat uniform objects to tabular form.
// ok is false when the content is not such an array or the form would be
// ambiguous (values containing the separator or newlines).
func tabularize(content string, maxRows int) (string, bool) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()

	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return "", false
	}
	if len(rows) == 0 || len(rows) > maxRows {
		return "", false
	}

	keys := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if strings.ContainsAny(k, "|\n") {
			return "", false
		}
	}

	var b strings.Builder
	b.Grow(len(content) / 2)
	b.WriteString(strings.Join(keys, "|"))

	for _, row := range rows {
		if len(row) != len(keys) {
			return "", false
		}
		b.WriteByte('\n')
		for i, k := range keys {
			value, ok := row[k]
			if !ok {
				return "", false
			}
			cell, ok := renderCell(value)
			if !ok {
				return "", false
			}
			if i > 0 {
				b.WriteByte('|')
			}
			b.WriteString(cell)
		}
	}

	return b.String(), true
}

// renderCell formats a scalar value for a table cell. Nested values and
// values containing the separator disqualify the whole array.
func renderCell(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		if strings.ContainsAny(v, "|\n") {
			return "", false
		}
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		if v {
			return "true", true
		}
		return "false", true
	case nil:
		return "", true
	}
	return "", false
}
