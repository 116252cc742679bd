package classify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tybalt/worklog-classifier/internal/llm"
)

// Attempt records one model round trip.
type Attempt struct {
	Number   int
	Response string
	Problem  *Problem
	Err      error
	Duration time.Duration
}

// Trace holds every attempt made for one entry, in order.
type Trace struct {
	Attempts []Attempt
}

type Options struct {
	// Delay is slept after every classification that reached the model.
	Delay time.Duration
	// CallTimeout bounds each model call. Zero leaves it to the client.
	CallTimeout time.Duration
	Logger      *zap.Logger
}

// Classifier runs the prompt, validate and single corrective retry protocol.
type Classifier struct {
	client      llm.Client
	delay       time.Duration
	callTimeout time.Duration
	logger      *zap.Logger
}

func New(client llm.Client, opts Options) *Classifier {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		client:      client,
		delay:       opts.Delay,
		callTimeout: opts.CallTimeout,
		logger:      logger,
	}
}

func (c *Classifier) Classify(ctx context.Context, e Entry) (Result, error) {
	res, _, err := c.ClassifyTraced(ctx, e)
	return res, err
}

// ClassifyTraced classifies e and also returns the attempts it took. The model
// is called at most twice: once fresh and once with the validation problem.
func (c *Classifier) ClassifyTraced(ctx context.Context, e Entry) (Result, Trace, error) {
	var trace Trace
	res, err := c.classify(ctx, e, &trace)
	if len(trace.Attempts) > 0 {
		c.pause(ctx)
	}
	return res, trace, err
}

func (c *Classifier) classify(ctx context.Context, e Entry, trace *Trace) (Result, error) {
	prompt := BuildPrompt(e.Description, e.TotalHours)
	conversation := []llm.Message{{Role: llm.RoleUser, Content: prompt}}

	first, err := c.attempt(ctx, 1, conversation, e.TotalHours, trace)
	if err != nil {
		return Result{}, err
	}
	if first.Problem == nil {
		return first.result, nil
	}

	c.logger.Debug("response failed validation, retrying",
		zap.String("problem", string(first.Problem.Kind)),
		zap.String("detail", first.Problem.Detail),
	)
	retry := BuildRetryPrompt(e.Description, e.TotalHours, first.Response, first.Problem.Error())
	conversation = append(conversation,
		llm.Message{Role: llm.RoleAssistant, Content: first.Response},
		llm.Message{Role: llm.RoleUser, Content: retry},
	)

	second, err := c.attempt(ctx, 2, conversation, e.TotalHours, trace)
	if err != nil {
		return Result{}, err
	}
	if second.Problem != nil {
		return Result{}, &RetryExhaustedError{First: first.Problem, Second: second.Problem}
	}
	return second.result, nil
}

type attemptOutcome struct {
	Attempt
	result Result
}

func (c *Classifier) attempt(ctx context.Context, n int, conversation []llm.Message, totalHours float64, trace *Trace) (attemptOutcome, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if c.callTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
	}
	start := time.Now()
	raw, err := c.client.Complete(callCtx, conversation)
	if cancel != nil {
		cancel()
	}

	out := attemptOutcome{Attempt: Attempt{Number: n, Response: raw, Err: err, Duration: time.Since(start)}}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = llm.Transport("complete", 0, err)
			out.Err = err
		}
		trace.Attempts = append(trace.Attempts, out.Attempt)
		return out, err
	}

	out.result, out.Problem = Validate(raw, totalHours)
	trace.Attempts = append(trace.Attempts, out.Attempt)
	return out, nil
}

func (c *Classifier) pause(ctx context.Context) {
	if c.delay <= 0 {
		return
	}
	t := time.NewTimer(c.delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
