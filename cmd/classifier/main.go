package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tybalt/worklog-classifier/internal/app"
	"github.com/tybalt/worklog-classifier/internal/config"
	"github.com/tybalt/worklog-classifier/internal/llm/provider"
	"github.com/tybalt/worklog-classifier/internal/logging"
	"github.com/tybalt/worklog-classifier/internal/redact"
	"github.com/tybalt/worklog-classifier/internal/version"
)

const (
	ExitOK    = 0
	ExitRun   = 1
	ExitUsage = 2
)

// usageError marks configuration and invocation problems.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %s\n", redact.Secrets(err.Error()))
		os.Exit(exitCode(err))
	}
}

type flags struct {
	configPath   string
	testMode     bool
	limit        int
	output       string
	column       string
	workers      int
	delay        time.Duration
	timeout      time.Duration
	rateLimitRPS float64
	provider     string
	model        string
	baseURL      string
	journal      string
	logLevel     string
	logJSON      bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "classifier [flags] <input.csv>",
		Short: "Classify work log entries as Tybalt, Partial or IT",
		Long: `Reads a CSV work log, asks an LLM to classify each uncategorized entry as
Tybalt, Partial or IT, and writes the table with category and hour-breakdown
columns to <input stem>_output<ext> next to the input.

Rows that already carry a canonical category are left as they are, so a
previous output can be fed back in to fill only the gaps.

Settings come from defaults, an optional YAML file (--config or
CLASSIFIER_CONFIG), the environment (a .env file is loaded when present) and
finally these flags.`,
		Example: `  classifier worklog.csv
  classifier --test worklog.csv
  classifier --provider gemini --model gemini-2.5-flash --workers 4 worklog.csv
  classifier --journal runs.db -o classified.csv worklog.csv`,
		Args:          cobra.ExactArgs(1),
		Version:       version.Current,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML config file (env: "+config.PathEnv+")")
	fl.BoolVar(&f.testMode, "test", false, fmt.Sprintf("Only consider the first %d rows", app.TestSampleLimit))
	fl.IntVar(&f.limit, "limit", 0, "Only consider the first N rows (overrides --test)")
	fl.StringVarP(&f.output, "output", "o", "", "Output CSV path (default: <input stem>_output<ext>)")
	fl.StringVar(&f.column, "column", "", "Description column name (env: DESCRIPTION_COLUMN)")
	fl.IntVar(&f.workers, "workers", 0, "Concurrent classification workers (env: WORKERS)")
	fl.DurationVar(&f.delay, "delay", 0, "Pause after each classified entry (env: REQUEST_DELAY)")
	fl.DurationVar(&f.timeout, "timeout", 0, "Per-request timeout (env: REQUEST_TIMEOUT)")
	fl.Float64Var(&f.rateLimitRPS, "rate-limit-rps", 0, "Global request rate limit, 0 disables (env: RATE_LIMIT_RPS)")
	fl.StringVar(&f.provider, "provider", "", "LLM provider: openai, gemini, anthropic (env: LLM_PROVIDER)")
	fl.StringVar(&f.model, "model", "", "Model name (env: LLM_MODEL)")
	fl.StringVar(&f.baseURL, "base-url", "", "API base URL override (env: LLM_BASE_URL)")
	fl.StringVar(&f.journal, "journal", "", "SQLite run journal path (env: JOURNAL_PATH)")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error (env: LOG_LEVEL)")
	fl.BoolVar(&f.logJSON, "log-json", false, "Emit JSON logs (env: LOG_JSON)")
	return cmd
}

// resolveConfig layers explicitly set flags over the loaded config.
func resolveConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}

	changed := cmd.Flags().Changed
	if changed("column") {
		cfg.DescriptionColumn = f.column
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("delay") {
		cfg.Delay = f.delay
	}
	if changed("timeout") {
		cfg.LLM.Timeout = f.timeout
	}
	if changed("rate-limit-rps") {
		cfg.RateLimitRPS = f.rateLimitRPS
	}
	if changed("provider") {
		cfg.LLM.Provider = f.provider
		cfg.ResolveAPIKey()
	}
	if changed("model") {
		cfg.LLM.Model = f.model
	}
	if changed("base-url") {
		cfg.LLM.BaseURL = f.baseURL
	}
	if changed("journal") {
		cfg.JournalPath = f.journal
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-json") {
		cfg.LogJSON = f.logJSON
	}
	if changed("limit") && f.limit < 0 {
		return config.Config{}, fmt.Errorf("--limit must not be negative, got %d", f.limit)
	}
	return cfg, cfg.Validate()
}

func sampleLimit(f flags) int {
	if f.limit > 0 {
		return f.limit
	}
	if f.testMode {
		return app.TestSampleLimit
	}
	return 0
}

func run(cmd *cobra.Command, inputPath string, f flags) error {
	ctx := cmd.Context()

	cfg, err := resolveConfig(cmd, f)
	if err != nil {
		return usageError{err}
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return usageError{err}
	}
	defer func() {
		_ = logger.Sync()
	}()

	client, err := provider.New(ctx, cfg.LLM)
	if err != nil {
		return usageError{err}
	}

	report, err := app.Run(ctx, client, app.Options{
		InputPath:         inputPath,
		OutputPath:        f.output,
		DescriptionColumn: cfg.DescriptionColumn,
		Limit:             sampleLimit(f),
		Workers:           cfg.Workers,
		RateLimitRPS:      cfg.RateLimitRPS,
		Delay:             cfg.Delay,
		CallTimeout:       cfg.LLM.Timeout,
		JournalPath:       cfg.JournalPath,
		Provider:          cfg.LLM.Provider,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("run failed", zap.String("run", report.RunID), zap.String("error", redact.Secrets(err.Error())))
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s in %s\n", report.OutputPath, report.Elapsed.Round(time.Millisecond))
	return nil
}

func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ue usageError
	if errors.As(err, &ue) || isCobraUsageError(err) {
		return ExitUsage
	}
	return ExitRun
}

// Cobra does not expose typed errors for argument and flag parsing.
var cobraUsageErrorPatterns = []string{
	"unknown flag",
	"unknown shorthand",
	"flag needs an argument",
	"invalid argument",
	"accepts ",
}

func isCobraUsageError(err error) bool {
	msg := err.Error()
	for _, pattern := range cobraUsageErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
