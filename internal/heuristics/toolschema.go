package heuristics

import (
	"encoding/json"
	"strings"

	"github.com/allaspectsdev/tokenpress/internal/block"
)

// minimizeToolSchemas rewrites tool-schema blocks down to the fields a model
// needs to call the tool: name, parameter types, enums and required lists.
// Descriptions, examples and vendor extensions are dropped. The rewrite is
// kept only when it is strictly smaller than the original serialization.
func (s *Stage) minimizeToolSchemas(blocks []*block.Block, model string, allowlist []string) {
	allow := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allow[name] = true
	}

	for _, b := range blocks {
		if b.Type != block.TypeTool || b.Source() != "tool_schema" {
			continue
		}

		minimized, ok := minimizeSchemaJSON(b.Content, allow)
		if !ok {
			continue
		}

		tokens := s.tok.CountTokens(model, minimized)
		if tokens >= b.Tokens {
			continue
		}

		b.Content = minimized
		b.Tokens = tokens
		b.SetMeta("schema_minimized", true)
	}
}

// minimizeSchemaJSON parses content as one tool object or an array of them
// and returns the compact minimized serialization. ok is false when the
// content is not structured tool data.
func minimizeSchemaJSON(content string, allow map[string]bool) (string, bool) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()

	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return "", false
	}

	switch v := parsed.(type) {
	case map[string]any:
		tool, keep := minimizeTool(v, allow)
		if !keep {
			return "", false
		}
		return marshalCompact(tool)

	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				out = append(out, item)
				continue
			}
			tool, keep := minimizeTool(obj, allow)
			if !keep {
				continue
			}
			out = append(out, tool)
		}
		return marshalCompact(out)
	}

	return "", false
}

// minimizeTool reduces a single tool object. Wrapper objects of the form
// {"type":"function","function":{...}} are unwrapped, minimized and
// re-wrapped. Objects without a recognizable name pass through unchanged.
// keep is false when an allowlist is active and the tool is not on it.
func minimizeTool(tool map[string]any, allow map[string]bool) (map[string]any, bool) {
	if inner, ok := tool["function"].(map[string]any); ok {
		min, keep := minimizeTool(inner, allow)
		if !keep {
			return nil, false
		}
		wrapped := map[string]any{"function": min}
		if t, ok := tool["type"]; ok {
			wrapped["type"] = t
		}
		return wrapped, true
	}

	name, _ := tool["name"].(string)
	if name == "" {
		return tool, true
	}
	if len(allow) > 0 && !allow[name] {
		return nil, false
	}

	out := map[string]any{"name": name}

	if params, ok := tool["parameters"].(map[string]any); ok {
		p := map[string]any{}
		if t, ok := params["type"]; ok {
			p["type"] = t
		}
		if props, ok := params["properties"].(map[string]any); ok {
			slim := make(map[string]any, len(props))
			for key, value := range props {
				prop, ok := value.(map[string]any)
				if !ok {
					slim[key] = value
					continue
				}
				sp := map[string]any{}
				if t, ok := prop["type"]; ok {
					sp["type"] = t
				}
				if enum, ok := prop["enum"]; ok {
					sp["enum"] = enum
				}
				slim[key] = sp
			}
			p["properties"] = slim
		}
		if req, ok := params["required"]; ok {
			p["required"] = req
		}
		out["parameters"] = p
	}

	if req, ok := tool["required"]; ok {
		out["required"] = req
	}

	return out, true
}

func marshalCompact(v any) (string, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(data), true
}
