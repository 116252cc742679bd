// Package app wires the table reader, classifier, batch driver and journal into
// a single run over a local CSV file.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tybalt/worklog-classifier/internal/classify"
	"github.com/tybalt/worklog-classifier/internal/journal"
	"github.com/tybalt/worklog-classifier/internal/llm"
	"github.com/tybalt/worklog-classifier/internal/pipeline"
)

// TestSampleLimit is the row cap applied by limited-sample runs.
const TestSampleLimit = 32

type Options struct {
	InputPath string
	// OutputPath defaults to DefaultOutputPath(InputPath).
	OutputPath        string
	DescriptionColumn string

	// Limit caps how many rows are considered. Zero means all rows.
	Limit        int
	Workers      int
	RateLimitRPS float64
	Delay        time.Duration
	CallTimeout  time.Duration

	// JournalPath enables the SQLite run journal when set.
	JournalPath string
	Provider    string

	RunID  string
	Logger *zap.Logger
}

// Report summarizes a finished run.
type Report struct {
	RunID      string
	OutputPath string
	Summary    pipeline.Summary
	Elapsed    time.Duration
}

// DefaultOutputPath returns "<dir>/<stem>_output<ext>" for input.
func DefaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_output" + ext
}

// Run classifies every uncategorized row of the input CSV and writes the full
// table, with category and breakdown columns, to the output path.
func Run(ctx context.Context, client llm.Client, opts Options) (Report, error) {
	runStart := time.Now()
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run", runID))

	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = DefaultOutputPath(opts.InputPath)
	}
	report := Report{RunID: runID, OutputPath: outputPath}

	logger.Info("run start",
		zap.String("input", opts.InputPath),
		zap.String("output", outputPath),
		zap.String("model", client.Model()),
		zap.Int("workers", opts.Workers),
		zap.Int("limit", opts.Limit),
		zap.Duration("delay", opts.Delay),
		zap.Duration("timeout", opts.CallTimeout),
		zap.Float64("rate_limit_rps", opts.RateLimitRPS),
	)

	readStart := time.Now()
	tbl, err := readTable(opts.InputPath)
	if err != nil {
		return report, err
	}
	records, err := tbl.Records(opts.DescriptionColumn)
	if err != nil {
		return report, err
	}
	tbl.EnsureColumns(pipeline.OutputColumns()...)
	logger.Info("loaded input",
		zap.Int("rows", len(records)),
		zap.Duration("duration", time.Since(readStart).Round(time.Millisecond)),
	)

	var jr *journal.Journal
	if opts.JournalPath != "" {
		jr, err = journal.Open(opts.JournalPath)
		if err != nil {
			return report, fmt.Errorf("open journal: %w", err)
		}
		defer func() {
			_ = jr.Close()
		}()
		if err := jr.StartRun(ctx, journal.Run{
			ID:         runID,
			InputPath:  opts.InputPath,
			OutputPath: outputPath,
			Provider:   opts.Provider,
			Model:      client.Model(),
			StartedAt:  runStart,
		}); err != nil {
			return report, err
		}
	}

	classifier := classify.New(newTracedClient(client, logger), classify.Options{
		Delay:       opts.Delay,
		CallTimeout: opts.CallTimeout,
		Logger:      logger,
	})

	classifyStart := time.Now()
	outcomes, err := pipeline.ClassifyRecords(ctx, records, classifier, pipeline.Options{
		Workers:      opts.Workers,
		RateLimitRPS: opts.RateLimitRPS,
		Limit:        opts.Limit,
		Logger:       logger,
	})
	if err != nil {
		return report, err
	}
	report.Summary = pipeline.Summarize(outcomes)
	logger.Info("classification complete",
		zap.Duration("duration", time.Since(classifyStart).Round(time.Millisecond)),
	)

	tbl.Apply(outcomes)
	writeStart := time.Now()
	if err := writeTable(outputPath, tbl); err != nil {
		return report, err
	}
	logger.Info("wrote output",
		zap.String("output", outputPath),
		zap.Duration("duration", time.Since(writeStart).Round(time.Millisecond)),
	)

	var journalErr error
	if jr != nil {
		if err := jr.RecordOutcomes(ctx, runID, outcomes); err != nil {
			journalErr = err
		} else if err := jr.FinishRun(ctx, runID, report.Summary, time.Now()); err != nil {
			journalErr = err
		}
	}

	report.Elapsed = time.Since(runStart)
	s := report.Summary
	logger.Info("run complete",
		zap.Int("kept", s.Kept),
		zap.Int("defaulted", s.Defaulted),
		zap.Int("classified", s.Classified),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed),
		zap.Int("unsampled", s.Unsampled),
		zap.Duration("total", report.Elapsed.Round(time.Millisecond)),
	)
	if journalErr != nil {
		return report, fmt.Errorf("journal: %w", journalErr)
	}
	return report, nil
}

func readTable(path string) (*pipeline.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	tbl, err := pipeline.ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tbl, nil
}

func writeTable(path string, tbl *pipeline.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	if err := pipeline.WriteTable(f, tbl); err != nil {
		return err
	}
	return f.Close()
}
