package classify

import (
	"fmt"
	"strings"
)

// ProblemKind names the rule a model response broke.
type ProblemKind string

const (
	ProblemMalformedJSON      ProblemKind = "malformed_json"
	ProblemMissingType        ProblemKind = "missing_type"
	ProblemUnmappableCategory ProblemKind = "unmappable_category"
	ProblemUnexpectedKeys     ProblemKind = "unexpected_keys"
	ProblemMissingPartialKeys ProblemKind = "missing_partial_keys"
	ProblemNonNumericHours    ProblemKind = "non_numeric_hours"
	ProblemNegativeHours      ProblemKind = "negative_hours"
	ProblemHoursMismatch      ProblemKind = "hours_mismatch"
)

// Problem explains why a response failed validation. Its message is written
// for the model and is sent back verbatim in the corrective prompt.
type Problem struct {
	Kind   ProblemKind
	Detail string

	// Set for ProblemHoursMismatch.
	ITHours     float64
	TybaltHours float64
	TotalHours  float64
}

func (p *Problem) Error() string {
	if p == nil {
		return "invalid response"
	}
	return p.Detail
}

func newProblem(kind ProblemKind, format string, args ...any) *Problem {
	return &Problem{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func hoursMismatch(itHours, tybaltHours, total float64) *Problem {
	return &Problem{
		Kind: ProblemHoursMismatch,
		Detail: fmt.Sprintf(
			"%s (%s) + %s (%s) does not equal total_hours (%s).",
			KeyITHours, formatHours(itHours),
			KeyTybaltHours, formatHours(tybaltHours),
			formatHours(total),
		),
		ITHours:     itHours,
		TybaltHours: tybaltHours,
		TotalHours:  total,
	}
}

// RetryExhaustedError is returned when the corrective attempt also fails.
type RetryExhaustedError struct {
	First  *Problem
	Second *Problem
}

func (e *RetryExhaustedError) Error() string {
	if e == nil {
		return "classification failed after retry"
	}
	parts := []string{"classification failed after retry"}
	if e.First != nil {
		parts = append(parts, fmt.Sprintf("first=%s (%s)", e.First.Kind, e.First.Detail))
	}
	if e.Second != nil {
		parts = append(parts, fmt.Sprintf("retry=%s (%s)", e.Second.Kind, e.Second.Detail))
	}
	return strings.Join(parts, ": ")
}

func (e *RetryExhaustedError) Unwrap() error {
	if e == nil || e.Second == nil {
		return nil
	}
	return e.Second
}
