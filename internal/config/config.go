// Package config resolves run settings from defaults, an optional YAML file and
// the environment. Command-line flags are layered on top by the caller.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tybalt/worklog-classifier/internal/llm"
	"github.com/tybalt/worklog-classifier/internal/pipeline"
	"github.com/tybalt/worklog-classifier/internal/worker"
)

const (
	DefaultDelay = 200 * time.Millisecond

	// PathEnv names the YAML file when no path is passed explicitly.
	PathEnv = "CLASSIFIER_CONFIG"
)

type Config struct {
	LLM llm.Config `yaml:"llm"`

	Workers      int           `yaml:"workers"`
	Delay        time.Duration `yaml:"request_delay"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`

	DescriptionColumn string `yaml:"description_column"`
	JournalPath       string `yaml:"journal_path"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// keyFrom names the provider-specific variable LLM.APIKey was taken from.
	keyFrom string
}

func Default() Config {
	return Config{
		LLM: llm.Config{
			Provider: llm.ProviderOpenAI,
			Timeout:  llm.DefaultTimeout,
		},
		Workers:           worker.DefaultWorkers,
		Delay:             DefaultDelay,
		DescriptionColumn: pipeline.DefaultDescriptionColumn,
		LogLevel:          "info",
	}
}

// Load returns defaults overlaid with the YAML file at path (or $CLASSIFIER_CONFIG)
// and then the environment. An explicitly named file must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(PathEnv))
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	envOverride(&cfg.LLM.Provider, "LLM_PROVIDER")
	envOverride(&cfg.LLM.Model, "LLM_MODEL")
	envOverride(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	envOverride(&cfg.LLM.APIKey, "LLM_API_KEY")
	cfg.ResolveAPIKey()
	envOverride(&cfg.DescriptionColumn, "DESCRIPTION_COLUMN")
	envOverride(&cfg.JournalPath, "JOURNAL_PATH")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")

	var err error
	if cfg.Workers, err = envInt("WORKERS", cfg.Workers); err != nil {
		return err
	}
	if cfg.LLM.Timeout, err = envDuration("REQUEST_TIMEOUT", cfg.LLM.Timeout); err != nil {
		return err
	}
	if cfg.Delay, err = envDuration("REQUEST_DELAY", cfg.Delay); err != nil {
		return err
	}
	if cfg.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS); err != nil {
		return err
	}
	if cfg.LogJSON, err = envBool("LOG_JSON", cfg.LogJSON); err != nil {
		return err
	}
	return nil
}

// ResolveAPIKey fills LLM.APIKey from the provider-specific variable of the
// current provider when no key was set explicitly. A key picked up earlier for
// another provider is dropped first, so call it again after changing the
// provider.
func (c *Config) ResolveAPIKey() {
	if c.keyFrom != "" {
		c.LLM.APIKey = ""
		c.keyFrom = ""
	}
	if strings.TrimSpace(c.LLM.APIKey) != "" {
		return
	}
	for _, name := range apiKeyFallbacks(c.LLM.Provider) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			c.LLM.APIKey = v
			c.keyFrom = name
			return
		}
	}
}

// apiKeyFallbacks lists provider-specific key variables consulted when
// LLM_API_KEY is unset.
func apiKeyFallbacks(provider string) []string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case llm.ProviderGemini:
		return []string{"GEMINI_API_KEY"}
	case llm.ProviderAnthropic:
		return []string{"ANTHROPIC_API_KEY"}
	default:
		return []string{"OPENROUTER_API_KEY", "OPENAI_API_KEY"}
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		errs = append(errs, fmt.Errorf("an API key is required (set LLM_API_KEY or %s)", strings.Join(apiKeyFallbacks(c.LLM.Provider), "/")))
	}
	switch strings.ToLower(strings.TrimSpace(c.LLM.Provider)) {
	case "", llm.ProviderOpenAI, "openrouter", llm.ProviderGemini, llm.ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", c.Workers))
	}
	if c.LLM.Timeout < 0 {
		errs = append(errs, fmt.Errorf("request timeout must not be negative, got %s", c.LLM.Timeout))
	}
	if c.Delay < 0 {
		errs = append(errs, fmt.Errorf("request delay must not be negative, got %s", c.Delay))
	}
	if c.RateLimitRPS < 0 || math.IsNaN(c.RateLimitRPS) {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %g", c.RateLimitRPS))
	}
	if strings.TrimSpace(c.DescriptionColumn) == "" {
		errs = append(errs, errors.New("description column must not be empty"))
	}
	return errors.Join(errs...)
}

func envOverride(dst *string, varName string) {
	if v := strings.TrimSpace(os.Getenv(varName)); v != "" {
		*dst = v
	}
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envBool(varName string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

// envDuration accepts Go durations ("1m30s") or bare seconds ("0.2").
func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return d, nil
}

// ParseDuration parses a Go duration, treating a bare number as seconds.
func ParseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}
