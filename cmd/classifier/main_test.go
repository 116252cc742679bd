package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tybalt/worklog-classifier/internal/app"
	"github.com/tybalt/worklog-classifier/internal/version"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"CLASSIFIER_CONFIG", "LLM_PROVIDER", "LLM_MODEL", "LLM_BASE_URL", "LLM_API_KEY",
		"OPENROUTER_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "ANTHROPIC_API_KEY",
		"DESCRIPTION_COLUMN", "JOURNAL_PATH", "LOG_LEVEL", "LOG_JSON",
		"WORKERS", "REQUEST_TIMEOUT", "REQUEST_DELAY", "RATE_LIMIT_RPS",
	} {
		t.Setenv(name, "")
	}
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.ExecuteContext(context.Background())
}

func TestExitCodes(t *testing.T) {
	clearEnv(t)

	if code := exitCode(execute(t)); code != ExitUsage {
		t.Fatalf("missing input: expected %d, got %d", ExitUsage, code)
	}
	if code := exitCode(execute(t, "--bogus", "x.csv")); code != ExitUsage {
		t.Fatalf("unknown flag: expected %d, got %d", ExitUsage, code)
	}

	input := filepath.Join(t.TempDir(), "log.csv")
	if err := os.WriteFile(input, []byte("workDescription,hours\nx,1\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	err := execute(t, input)
	if code := exitCode(err); code != ExitUsage {
		t.Fatalf("missing API key: expected %d, got %d (%v)", ExitUsage, code, err)
	}
	if !strings.Contains(err.Error(), "API key") {
		t.Fatalf("expected API key message, got %v", err)
	}

	t.Setenv("LLM_API_KEY", "k")
	err = execute(t, filepath.Join(t.TempDir(), "absent.csv"))
	if code := exitCode(err); code != ExitRun {
		t.Fatalf("missing input file: expected %d, got %d (%v)", ExitRun, code, err)
	}

	if code := exitCode(errors.New("boom")); code != ExitRun {
		t.Fatalf("generic error: expected %d, got %d", ExitRun, code)
	}
	if code := exitCode(nil); code != ExitOK {
		t.Fatalf("nil error: expected %d, got %d", ExitOK, code)
	}
}

func TestResolveConfig_FlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_API_KEY", "k")
	t.Setenv("WORKERS", "8")
	t.Setenv("LLM_MODEL", "from-env")

	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"--workers", "2", "--delay", "1s", "--provider", "anthropic"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	var f flags
	f.workers, _ = cmd.Flags().GetInt("workers")
	f.delay, _ = cmd.Flags().GetDuration("delay")
	f.provider, _ = cmd.Flags().GetString("provider")

	cfg, err := resolveConfig(cmd, f)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.Workers != 2 || cfg.Delay != time.Second || cfg.LLM.Provider != "anthropic" {
		t.Fatalf("flags not applied: %#v", cfg)
	}
	if cfg.LLM.Model != "from-env" {
		t.Fatalf("unset flag must not clobber env, got model %q", cfg.LLM.Model)
	}
}

func resolveWithProvider(t *testing.T, provider string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"--provider", provider}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := resolveConfig(cmd, flags{provider: provider})
	return cfg.LLM.APIKey, err
}

func TestResolveConfig_ProviderFlagPicksItsKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "g-key")

	key, err := resolveWithProvider(t, "gemini")
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if key != "g-key" {
		t.Fatalf("expected GEMINI_API_KEY to be used, got %q", key)
	}
}

func TestResolveConfig_ProviderFlagDropsOtherProviderKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("ANTHROPIC_API_KEY", "an-key")

	key, err := resolveWithProvider(t, "anthropic")
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if key != "an-key" {
		t.Fatalf("expected ANTHROPIC_API_KEY to be used, got %q", key)
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	key, err = resolveWithProvider(t, "anthropic")
	if err == nil || !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Fatalf("expected missing key error naming ANTHROPIC_API_KEY, got %v", err)
	}
	if key == "or-key" {
		t.Fatalf("openrouter key must not be sent to anthropic")
	}
}

func TestResolveConfig_ExplicitKeySurvivesProviderFlag(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_API_KEY", "explicit")
	t.Setenv("GEMINI_API_KEY", "g-key")

	key, err := resolveWithProvider(t, "gemini")
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if key != "explicit" {
		t.Fatalf("expected LLM_API_KEY to win, got %q", key)
	}
}

func TestHelpDescribesOutputPath(t *testing.T) {
	cmd := newRootCmd()
	want := "<input stem>_output<ext>"
	if !strings.Contains(cmd.Long, want) || !strings.Contains(cmd.Flags().Lookup("output").Usage, want) {
		t.Fatalf("expected help to describe default output as %q", want)
	}
}

func TestSampleLimit(t *testing.T) {
	if got := sampleLimit(flags{}); got != 0 {
		t.Fatalf("expected no limit, got %d", got)
	}
	if got := sampleLimit(flags{testMode: true}); got != app.TestSampleLimit {
		t.Fatalf("expected %d, got %d", app.TestSampleLimit, got)
	}
	if got := sampleLimit(flags{testMode: true, limit: 5}); got != 5 {
		t.Fatalf("expected --limit to win, got %d", got)
	}
}

func TestVersionFlag(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), version.Current) {
		t.Fatalf("expected version %q in %q", version.Current, out.String())
	}
}
