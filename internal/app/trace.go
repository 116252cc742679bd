package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tybalt/worklog-classifier/internal/llm"
	"github.com/tybalt/worklog-classifier/internal/redact"
)

// tracedClient logs every model request and response at debug level.
type tracedClient struct {
	next   llm.Client
	logger *zap.Logger
}

func newTracedClient(next llm.Client, logger *zap.Logger) *tracedClient {
	return &tracedClient{next: next, logger: logger}
}

func (t *tracedClient) Model() string { return t.next.Model() }

func (t *tracedClient) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	turn := (len(messages) + 1) / 2
	t.logger.Debug("llm request",
		zap.String("model", t.next.Model()),
		zap.Int("turn", turn),
		zap.Int("messages", len(messages)),
		zap.String("deadline_in", deadlineIn),
	)

	start := time.Now()
	out, err := t.next.Complete(ctx, messages)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		var te *llm.TransportError
		status := 0
		if errors.As(err, &te) {
			status = te.StatusCode
		}
		t.logger.Debug("llm response",
			zap.Int("turn", turn),
			zap.Duration("duration", elapsed),
			zap.String("status", "error"),
			zap.Int("http_status", status),
			zap.String("error", redact.Secrets(err.Error())),
		)
		return out, err
	}

	t.logger.Debug("llm response",
		zap.Int("turn", turn),
		zap.Duration("duration", elapsed),
		zap.String("status", "ok"),
		zap.String("response", out),
	)
	return out, nil
}
