package block

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/allaspectsdev/tokenpress/internal/tokenizer"
)

// Message is a single conversation message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolOutput is the result of a prior tool invocation supplied alongside the
// conversation.
type ToolOutput struct {
	Tool string `json:"tool"`
	Text string `json:"text"`
}

// Inputs bundles everything the canonicalizer turns into blocks.
type Inputs struct {
	Messages    []Message
	Tools       any
	RAGContext  []map[string]any
	ToolOutputs []ToolOutput
	Model       string
}

// MessagesToBlocks converts conversation messages to blocks. System messages
// and the final user message are pinned; everything else is droppable with
// role-dependent priority.
func MessagesToBlocks(tok *tokenizer.Tokenizer, messages []Message, model string) []*Block {
	blocks := make([]*Block, 0, len(messages))

	for i, msg := range messages {
		var (
			t        Type
			mustKeep bool
			priority float64
		)

		switch msg.Role {
		case "system":
			t = TypeSystem
			mustKeep = true
			priority = 1.0
		case "user":
			t = TypeUser
			mustKeep = i == len(messages)-1
			if mustKeep {
				priority = 0.9
			} else {
				priority = 0.7
			}
		case "assistant":
			t = TypeAssistant
			priority = 0.5
		default:
			t = TypeAssistant
			priority = 0.3
		}

		b := New(t, msg.Content, tok.CountTokens(model, msg.Content), mustKeep, priority)
		b.Metadata["source"] = "message"
		blocks = append(blocks, b)
	}

	return blocks
}

// ToolsToBlocks converts the tool-schema value to a single pinned tool block.
// The schema arrives as an opaque structured value and is serialized compactly.
func ToolsToBlocks(tok *tokenizer.Tokenizer, tools any, model string) []*Block {
	if tools == nil {
		return nil
	}

	content := compactJSON(tools)
	if content == "" {
		return nil
	}

	b := New(TypeTool, content, tok.CountTokens(model, content), true, 0.8)
	b.Metadata["source"] = "tool_schema"
	return []*Block{b}
}

// RAGContextToBlocks converts retrieval documents to doc blocks. Three shapes
// are accepted: {text}, {content, metadata} and {page_content}. Documents
// with whitespace-only text are skipped.
func RAGContextToBlocks(tok *tokenizer.Tokenizer, docs []map[string]any, model string) []*Block {
	if len(docs) == 0 {
		return nil
	}

	blocks := make([]*Block, 0, len(docs))

	for i, doc := range docs {
		metadata, _ := doc["metadata"].(map[string]any)

		content := firstString(doc["text"], doc["content"], doc["page_content"])
		if strings.TrimSpace(content) == "" {
			continue
		}

		docID := firstString(doc["id"], mapValue(metadata, "id"))
		if docID == "" {
			docID = fmt.Sprintf("doc-%d", i)
		}

		source := firstString(doc["source"], mapValue(metadata, "source"), mapValue(metadata, "type"))
		if source == "" {
			source = "rag"
		}

		b := New(TypeDoc, content, tok.CountTokens(model, content), false, 0.6)
		b.Metadata["source"] = source
		b.Metadata["doc_id"] = docID
		blocks = append(blocks, b)
	}

	return blocks
}

// ToolOutputsToBlocks converts prior tool results to droppable tool blocks.
func ToolOutputsToBlocks(tok *tokenizer.Tokenizer, outputs []ToolOutput, model string) []*Block {
	if len(outputs) == 0 {
		return nil
	}

	blocks := make([]*Block, 0, len(outputs))

	for i, out := range outputs {
		name := out.Tool
		if name == "" {
			name = fmt.Sprintf("tool-%d", i)
		}

		b := New(TypeTool, out.Text, tok.CountTokens(model, out.Text), false, 0.7)
		b.Metadata["source"] = "tool_output"
		b.Metadata["tool"] = name
		blocks = append(blocks, b)
	}

	return blocks
}

// Canonicalize converts all inputs to the unified block sequence: messages,
// then tools, then retrieval docs, then tool outputs. Each block records its
// canonical position in Metadata["index"] so later stages can restore order.
func Canonicalize(tok *tokenizer.Tokenizer, in Inputs) []*Block {
	var blocks []*Block

	blocks = append(blocks, MessagesToBlocks(tok, in.Messages, in.Model)...)
	blocks = append(blocks, ToolsToBlocks(tok, in.Tools, in.Model)...)
	blocks = append(blocks, RAGContextToBlocks(tok, in.RAGContext, in.Model)...)
	blocks = append(blocks, ToolOutputsToBlocks(tok, in.ToolOutputs, in.Model)...)

	for i, b := range blocks {
		b.Metadata["index"] = i
	}

	return blocks
}

// BlocksToMessages serializes blocks back to conversation messages. Only
// system, user and assistant blocks become messages; tool, doc and constraint
// blocks are reported through block info instead.
func BlocksToMessages(blocks []*Block) []Message {
	messages := make([]Message, 0, len(blocks))

	for _, b := range blocks {
		switch b.Type {
		case TypeSystem, TypeUser, TypeAssistant:
			messages = append(messages, Message{Role: string(b.Type), Content: b.Content})
		}
	}

	return messages
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func firstString(values ...any) string {
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func mapValue(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}
