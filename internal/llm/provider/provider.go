// Package provider builds the configured llm.Client.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/tybalt/worklog-classifier/internal/llm"
	"github.com/tybalt/worklog-classifier/internal/llm/anthropic"
	"github.com/tybalt/worklog-classifier/internal/llm/gemini"
	"github.com/tybalt/worklog-classifier/internal/llm/openai"
)

func New(ctx context.Context, cfg llm.Config) (llm.Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", llm.ProviderOpenAI, "openrouter":
		return openai.New(cfg)
	case llm.ProviderGemini:
		return gemini.New(ctx, cfg)
	case llm.ProviderAnthropic:
		return anthropic.New(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want openai, gemini or anthropic)", cfg.Provider)
	}
}
