package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full run configuration.
//
// Precedence, lowest first: Default(), the YAML file, environment variables, then
// command-line flags (applied by the caller).
type Config struct {
	Inputs          []string `yaml:"inputs"`
	AverageOutput   string   `yaml:"average_output"`
	DominantOutput  string   `yaml:"dominant_output"`
	SQLitePath      string   `yaml:"sqlite_path"`
	NarrativeOutput string   `yaml:"narrative_output"`

	Workers        int           `yaml:"workers"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`

	Gemini  Gemini  `yaml:"gemini"`
	Foundry Foundry `yaml:"foundry"`
}

// Gemini configures the optional narrative summary.
type Gemini struct {
	// APIKey is only read from GEMINI_API_KEY; it is never loaded from the config file.
	APIKey  string `yaml:"-"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// Enabled reports whether a narrative can be generated.
func (g Gemini) Enabled() bool {
	return strings.TrimSpace(g.APIKey) != "" && strings.TrimSpace(g.Model) != ""
}

// Foundry names the dataset aliases and filenames used in pipeline mode.
type Foundry struct {
	InputAlias       string `yaml:"input_alias"`
	AverageAlias     string `yaml:"average_alias"`
	DominantAlias    string `yaml:"dominant_alias"`
	AverageFilename  string `yaml:"average_filename"`
	DominantFilename string `yaml:"dominant_filename"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Inputs:         []string{"crop_yield.csv"},
		AverageOutput:  "average_yield_results.csv",
		DominantOutput: "most_common_crops_by_region.txt",
		Workers:        4,
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
		Foundry: Foundry{
			InputAlias:       "input",
			AverageAlias:     "average_yield",
			DominantAlias:    "dominant_crop",
			AverageFilename:  "average_yield.csv",
			DominantFilename: "dominant_crop.csv",
		},
	}
}

// Load returns Default() overlaid with the YAML file at path, then the environment.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if p := strings.TrimSpace(path); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.decodeYAML(b); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", p, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(b []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error
	if c.Workers, err = envInt("WORKERS", c.Workers); err != nil {
		return err
	}
	if c.MaxRetries, err = envInt("MAX_RETRIES", c.MaxRetries); err != nil {
		return err
	}
	if c.RequestTimeout, err = envDuration("REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	if c.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", c.RateLimitRPS); err != nil {
		return err
	}
	c.SQLitePath = envString("SQLITE_PATH", c.SQLitePath)
	c.Gemini.APIKey = envString("GEMINI_API_KEY", c.Gemini.APIKey)
	c.Gemini.Model = envString("GEMINI_MODEL", c.Gemini.Model)
	c.Gemini.BaseURL = envString("GEMINI_BASE_URL", c.Gemini.BaseURL)
	return nil
}

// Validate checks settings that every run mode depends on.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0 (got %d)", c.Workers)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0 (got %d)", c.MaxRetries)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit must be >= 0 (got %g)", c.RateLimitRPS)
	}
	if strings.TrimSpace(c.NarrativeOutput) != "" && !c.Gemini.Enabled() {
		return fmt.Errorf("narrative output requires GEMINI_API_KEY and GEMINI_MODEL")
	}
	return nil
}

// SplitList splits a comma-separated flag value, dropping empty items.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envString(varName, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(varName)); v != "" {
		return v
	}
	return fallback
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

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
