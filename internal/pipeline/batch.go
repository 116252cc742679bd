// Package pipeline applies the classifier to a table of work-log records.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tybalt/worklog-classifier/internal/classify"
	"github.com/tybalt/worklog-classifier/internal/redact"
	"github.com/tybalt/worklog-classifier/internal/worker"
)

// Record is one input row as seen by the batch driver.
type Record struct {
	// Row is the 1-based data row number, excluding the header.
	Row         int
	Description string
	Hours       string
	Category    string
}

type Status string

const (
	// StatusKept means the row already carried a canonical category.
	StatusKept Status = "kept"
	// StatusDefaulted means an empty description was assigned IT without a model call.
	StatusDefaulted  Status = "defaulted"
	StatusClassified Status = "classified"
	// StatusSkipped means the hours value could not be used.
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
	// StatusUnsampled means the row was beyond the limited-sample cap.
	StatusUnsampled Status = "unsampled"
)

// Outcome is the per-record result of a batch, in input order.
type Outcome struct {
	Record Record
	Status Status
	Result classify.Result
	Reason string
	Trace  classify.Trace
}

// Classifier is satisfied by *classify.Classifier.
type Classifier interface {
	ClassifyTraced(ctx context.Context, e classify.Entry) (classify.Result, classify.Trace, error)
}

type Options struct {
	Workers      int
	RateLimitRPS float64

	// Limit caps how many records are considered. Zero considers all of them.
	Limit int

	Logger *zap.Logger
}

type job struct {
	idx   int
	entry classify.Entry
}

type classified struct {
	result classify.Result
	trace  classify.Trace
}

// ClassifyRecords assigns a category to every record that lacks a canonical one.
//
// Per-record failures are recorded on the outcome and never fail the batch; only
// ctx cancellation does.
func ClassifyRecords(ctx context.Context, records []Record, c Classifier, opts Options) ([]Outcome, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	total := len(records)
	outcomes := make([]Outcome, total)

	var jobs []job
	for i, rec := range records {
		outcomes[i] = Outcome{Record: rec}
		rowLog := logger.With(zap.String("progress", fmt.Sprintf("%d/%d", rec.Row, total)))

		if opts.Limit > 0 && i >= opts.Limit {
			outcomes[i].Status = StatusUnsampled
			continue
		}

		existing := strings.TrimSpace(rec.Category)
		if classify.IsCanonical(existing) {
			outcomes[i].Status = StatusKept
			rowLog.Info("skipping row, already categorized", zap.String("category", existing))
			continue
		}

		hours, reason := parseHours(rec.Hours)
		if reason != "" {
			outcomes[i].Status = StatusSkipped
			outcomes[i].Reason = reason
			rowLog.Warn("skipping classification", zap.String("reason", reason))
			continue
		}

		desc := strings.TrimSpace(rec.Description)
		if desc == "" {
			outcomes[i].Status = StatusDefaulted
			outcomes[i].Result = classify.Result{Category: classify.CategoryIT}
			rowLog.Info("empty description, categorizing as IT")
			continue
		}

		jobs = append(jobs, job{idx: i, entry: classify.Entry{Description: desc, TotalHours: hours}})
		rowLog.Debug("queued for classification")
	}

	if len(jobs) == 0 {
		return outcomes, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = worker.DefaultWorkers
	}
	logger.Info("dispatching classification requests", zap.Int("requests", len(jobs)), zap.Int("workers", workers))

	processor := func(ctx context.Context, j job) (classified, error) {
		res, trace, err := c.ClassifyTraced(ctx, j.entry)
		return classified{result: res, trace: trace}, err
	}
	_, err := worker.ProcessAllWithCallback(ctx, jobs, processor, func(r worker.Result[job, classified]) error {
		o := &outcomes[r.Input.idx]
		o.Trace = r.Output.trace
		progress := zap.String("progress", fmt.Sprintf("%d/%d", o.Record.Row, total))
		if r.Err != nil {
			o.Status = StatusFailed
			o.Reason = redact.Secrets(r.Err.Error())
			logger.Error("classification failed", progress, zap.Int("row", o.Record.Row), zap.String("reason", o.Reason))
			return nil
		}
		o.Status = StatusClassified
		o.Result = r.Output.result
		logger.Info("classified", progress, zap.String("category", string(o.Result.Category)))
		return nil
	}, worker.Options{
		Workers:      workers,
		RateLimitRPS: opts.RateLimitRPS,
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// parseHours returns a non-empty reason when raw is not a usable hour total.
func parseHours(raw string) (float64, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, "missing hours value"
	}
	h, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(h) || math.IsInf(h, 0) {
		return 0, fmt.Sprintf("invalid hours value %q", raw)
	}
	if h < 0 {
		return 0, fmt.Sprintf("negative hours value %q", raw)
	}
	return h, ""
}

// Summary counts outcomes by status.
type Summary struct {
	Kept       int
	Defaulted  int
	Classified int
	Skipped    int
	Failed     int
	Unsampled  int
}

func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch o.Status {
		case StatusKept:
			s.Kept++
		case StatusDefaulted:
			s.Defaulted++
		case StatusClassified:
			s.Classified++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		case StatusUnsampled:
			s.Unsampled++
		}
	}
	return s
}
