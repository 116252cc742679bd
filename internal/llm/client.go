// Package llm defines the chat-completion contract used by the classifier and the
// error types every provider maps its failures into.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn of a conversation.
type Message struct {
	Role    Role
	Content string
}

// Client sends a conversation to a completion endpoint and returns the first
// completion's text, trimmed of surrounding whitespace.
//
// Implementations perform exactly one request per call and never retry.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Model() string
}

// Config is fixed at process start and shared by every request.
type Config struct {
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

const DefaultTimeout = 60 * time.Second

var (
	ErrTransport         = errors.New("transport error")
	ErrMalformedResponse = errors.New("malformed completion response")
)

// TransportError reports a network or HTTP failure talking to the endpoint.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "transport error"
	}
	parts := []string{"transport error"}
	if strings.TrimSpace(e.Op) != "" {
		parts = append(parts, "op="+strings.TrimSpace(e.Op))
	}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	msg := strings.Join(parts, " ")
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// MalformedResponseError reports an envelope without the expected completion text.
type MalformedResponseError struct {
	Op     string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	if e == nil {
		return "malformed completion response"
	}
	if strings.TrimSpace(e.Op) == "" {
		return "malformed completion response: " + e.Reason
	}
	return fmt.Sprintf("malformed completion response: op=%s: %s", e.Op, e.Reason)
}

func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse
}

// Transport wraps err as a TransportError unless it already is one.
func Transport(op string, status int, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, StatusCode: status, Err: err}
}
