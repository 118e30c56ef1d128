package assistant

import (
	"context"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"roundbook/api/internal/store"
)

// Completer produces one assistant reply for a conversation window.
type Completer interface {
	Complete(ctx context.Context, system string, messages []store.ChatMessage) (string, error)
}

// AnthropicClient calls the Anthropic messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient creates a client for the given API key and model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete sends the conversation window and returns the assistant's text.
func (c *AnthropicClient) Complete(ctx context.Context, system string, messages []store.ChatMessage) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
	}

	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == store.ChatRoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api call: %w", err)
	}

	if len(msg.Content) == 0 {
		return "", fmt.Errorf("empty response from model")
	}

	return msg.Content[0].Text, nil
}
