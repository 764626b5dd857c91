// Package llmtask implements the asynchronous LLM pipeline: the dispatcher
// publishes tasks with fresh request ids, the worker consumes them, drives
// the model through a bounded search-and-answer loop, and publishes exactly
// one result per task.
package llmtask

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/EKaterinaTR/winm/errors"
)

// Backend is a single-turn chat completion. Tests script it; production
// uses the OpenAI-compatible client.
type Backend interface {
	Chat(ctx context.Context, system, prompt string) (string, error)
}

// OpenAIBackend talks to any OpenAI-compatible chat completion endpoint.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates a backend. baseURL may be empty to use the
// default OpenAI endpoint.
func NewOpenAIBackend(apiKey, baseURL, model string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), model: model}
}

// Chat runs one completion and returns the assistant reply.
func (b *OpenAIBackend) Chat(ctx context.Context, system, prompt string) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", errors.Upstream(err, "LLMBackend", "Chat", "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errors.Upstream(nil, "LLMBackend", "Chat", "empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}
