// Package openai talks to OpenAI-compatible chat completion endpoints (OpenRouter by
// default).
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tybalt/worklog-classifier/internal/llm"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "x-ai/grok-4-fast"
)

// go-openai drops a zero temperature from the request body, so the smallest
// non-zero value is the closest deterministic setting it can send.
const deterministicTemperature = math.SmallestNonzeroFloat32

var _ llm.Client = (*Client)(nil)

// chatCompleter is satisfied by *openai.Client.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Client struct {
	api   chatCompleter
	model string
}

func New(cfg llm.Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = llm.DefaultTimeout
	}

	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = baseURL
	oc.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{
		api:   openai.NewClientWithConfig(oc),
		model: model,
	}, nil
}

func (c *Client) Model() string { return c.model }

func (c *Client) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toChatMessages(messages),
		Temperature: deterministicTemperature,
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", &llm.MalformedResponseError{Op: "chat.completions", Reason: "no choices in response"}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &llm.MalformedResponseError{Op: "chat.completions", Reason: "first choice has no message content"}
	}
	return text, nil
}

func toChatMessages(messages []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case llm.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case llm.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func classifyErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.Transport("chat.completions", apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return llm.Transport("chat.completions", reqErr.HTTPStatusCode, err)
	}
	return llm.Transport("chat.completions", 0, err)
}
