package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Message is one conversation turn
type Message struct {
	Role    string
	Content string
}

// Conversation roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Completer produces the assistant reply to a conversation, streaming text
// deltas to onDelta as they arrive.
type Completer interface {
	Complete(ctx context.Context, messages []Message, onDelta func(string)) (string, error)
}

// OpenAICompleter streams chat completions from an OpenAI-compatible API
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAICompleter creates a completer. An empty baseURL targets the public
// OpenAI API.
func NewOpenAICompleter(apiKey, model, baseURL string) (*OpenAICompleter, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required: set agent.api_key or OPENAI_API_KEY")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	return &OpenAICompleter{
		client: &client,
		model:  model,
	}, nil
}

// Complete sends the conversation and streams the reply
func (c *OpenAICompleter) Complete(ctx context.Context, messages []Message, onDelta func(string)) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    toParams(messages),
		Temperature: openai.Float(0.7),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var reply strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			reply.WriteString(delta)
			if onDelta != nil {
				onDelta(delta)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return reply.String(), fmt.Errorf("stream error: %w", err)
	}
	return reply.String(), nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
