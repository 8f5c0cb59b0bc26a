package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// defaultAnthropicMaxTokens applies when the caller does not set a
// completion limit; the messages API requires one.
const defaultAnthropicMaxTokens = 1000

// Anthropic is the Anthropic messages API backend.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic builds an Anthropic provider.
func NewAnthropic(apiKey string) *Anthropic {
	return &Anthropic{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (a *Anthropic) Name() string { return "anthropic" }

// ChatCompletion forwards the messages to the messages API. System messages
// are pulled out of the turn list into the dedicated system field.
func (a *Anthropic) ChatCompletion(ctx context.Context, messages []Message, model string, opts Options) (*Response, error) {
	maxTokens := int64(defaultAnthropicMaxTokens)
	if opts.MaxCompletionTokens != nil {
		maxTokens = *opts.MaxCompletionTokens
	}

	system, turns := splitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}

	msg, err := retryCompletion(ctx, func(ctx context.Context) (*anthropic.Message, error) {
		return a.client.Messages.New(ctx, params)
	})
	if err != nil {
		return nil, fmt.Errorf("provider: anthropic message: %w", err)
	}

	var content strings.Builder
	for _, blk := range msg.Content {
		if blk.Type == "text" {
			content.WriteString(blk.Text)
		}
	}

	return &Response{
		ID:    msg.ID,
		Model: string(msg.Model),
		Choices: []Choice{{
			Message:      Message{Role: "assistant", Content: content.String()},
			FinishReason: string(msg.StopReason),
		}},
		Usage: Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
			TotalTokens:      msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}, nil
}

// splitSystem separates system messages (joined by newlines) from the
// user/assistant turns.
func splitSystem(messages []Message) (string, []anthropic.MessageParam) {
	var systems []string
	turns := make([]anthropic.MessageParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case "system":
			systems = append(systems, m.Content)
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return strings.Join(systems, "\n"), turns
}
