package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/palantir/palantir-compute-module-crop-yield/internal/app"
	"github.com/palantir/palantir-compute-module-crop-yield/internal/config"
	"github.com/palantir/palantir-compute-module-crop-yield/internal/narrate"
	"github.com/palantir/palantir-compute-module-crop-yield/internal/narrate/gemini"
	"github.com/palantir/palantir-compute-module-crop-yield/internal/pipeline"
	"github.com/palantir/palantir-compute-module-crop-yield/internal/version"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/foundry"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/redact"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 2
	}

	switch args[0] {
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "cropreport %s\n", version.Current)
		return 0
	case "local":
		return runLocal(ctx, args[1:], stderr)
	case "foundry":
		return runFoundry(ctx, args[1:], stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n\n", args[0])
		usage(stderr)
		return 2
	}
}

// commonFlags are shared by every run mode. Only flags the user actually sets override
// the loaded config.
type commonFlags struct {
	configPath     string
	workers        int
	maxRetries     int
	requestTimeout time.Duration
	rateLimitRPS   float64
	sqlitePath     string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", strings.TrimSpace(os.Getenv("CROPREPORT_CONFIG")), "YAML config file (env: CROPREPORT_CONFIG)")
	fs.IntVar(&c.workers, "workers", 0, "Number of concurrent source loaders (env: WORKERS)")
	fs.IntVar(&c.maxRetries, "max-retries", 0, "Max retries for transient failures (env: MAX_RETRIES)")
	fs.DurationVar(&c.requestTimeout, "request-timeout", 0, "Per-request timeout (env: REQUEST_TIMEOUT)")
	fs.Float64Var(&c.rateLimitRPS, "rate-limit-rps", 0, "Global request rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	fs.StringVar(&c.sqlitePath, "sqlite", "", "Optional SQLite database to store reports in (env: SQLITE_PATH)")
}

func (c *commonFlags) apply(f *flag.Flag, cfg *config.Config) {
	switch f.Name {
	case "workers":
		cfg.Workers = c.workers
	case "max-retries":
		cfg.MaxRetries = c.maxRetries
	case "request-timeout":
		cfg.RequestTimeout = c.requestTimeout
	case "rate-limit-rps":
		cfg.RateLimitRPS = c.rateLimitRPS
	case "sqlite":
		cfg.SQLitePath = c.sqlitePath
	}
}

func runLocal(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("local", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	var (
		inputs          string
		averageOutput   string
		dominantOutput  string
		narrativeOutput string
		geminiModel     string
		geminiBaseURL   string
	)
	fs.StringVar(&inputs, "input", "", "Comma-separated input CSV paths (default crop_yield.csv)")
	fs.StringVar(&averageOutput, "average-output", "", "Average yield CSV path (default average_yield_results.csv)")
	fs.StringVar(&dominantOutput, "dominant-output", "", "Most common crop report path (default most_common_crops_by_region.txt)")
	fs.StringVar(&narrativeOutput, "narrative-output", "", "Optional Gemini summary output path")
	fs.StringVar(&geminiModel, "gemini-model", "", "Gemini model name (env: GEMINI_MODEL)")
	fs.StringVar(&geminiBaseURL, "gemini-base-url", "", "Gemini API base URL override (env: GEMINI_BASE_URL)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return 2
	}

	cfg, err := config.Load(common.configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	fs.Visit(func(f *flag.Flag) {
		common.apply(f, &cfg)
		switch f.Name {
		case "input":
			cfg.Inputs = config.SplitList(inputs)
		case "average-output":
			cfg.AverageOutput = averageOutput
		case "dominant-output":
			cfg.DominantOutput = dominantOutput
		case "narrative-output":
			cfg.NarrativeOutput = narrativeOutput
		case "gemini-model":
			cfg.Gemini.Model = geminiModel
		case "gemini-base-url":
			cfg.Gemini.BaseURL = geminiBaseURL
		}
	})
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	if len(cfg.Inputs) == 0 {
		_, _ = fmt.Fprintln(stderr, "local requires at least one --input")
		return 2
	}

	var narrator narrate.Narrator
	if strings.TrimSpace(cfg.NarrativeOutput) != "" {
		n, err := gemini.New(ctx, gemini.Config{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			BaseURL: cfg.Gemini.BaseURL,
		})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "gemini config error: %s\n", redact.Secrets(err.Error()))
			return 2
		}
		narrator = n
	}

	if _, err := app.RunLocal(ctx, cfg, narrator, newLogger()); err != nil {
		_, _ = fmt.Fprintf(stderr, "local run failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	return 0
}

func runFoundry(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("foundry", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	var fc config.Foundry
	fs.StringVar(&fc.InputAlias, "input-alias", "", "Alias of the observation dataset in RESOURCE_ALIAS_MAP (default input)")
	fs.StringVar(&fc.AverageAlias, "average-alias", "", "Alias of the average yield output dataset (default average_yield)")
	fs.StringVar(&fc.DominantAlias, "dominant-alias", "", "Alias of the dominant crop output dataset (default dominant_crop)")
	fs.StringVar(&fc.AverageFilename, "average-filename", "", "Filename uploaded into the average yield dataset (default average_yield.csv)")
	fs.StringVar(&fc.DominantFilename, "dominant-filename", "", "Filename uploaded into the dominant crop dataset (default dominant_crop.csv)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return 2
	}

	cfg, err := config.Load(common.configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	fs.Visit(func(f *flag.Flag) {
		common.apply(f, &cfg)
		switch f.Name {
		case "input-alias":
			cfg.Foundry.InputAlias = fc.InputAlias
		case "average-alias":
			cfg.Foundry.AverageAlias = fc.AverageAlias
		case "dominant-alias":
			cfg.Foundry.DominantAlias = fc.DominantAlias
		case "average-filename":
			cfg.Foundry.AverageFilename = fc.AverageFilename
		case "dominant-filename":
			cfg.Foundry.DominantFilename = fc.DominantFilename
		}
	})
	if strings.TrimSpace(cfg.NarrativeOutput) != "" {
		_, _ = fmt.Fprintln(stderr, "config error: narrative output is only supported in local mode")
		return 2
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	env, err := foundry.LoadEnv()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "foundry env error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	jobCfg, jobMode, err := loadJobClientConfigFromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "job client config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	if jobMode {
		hc, err := newJobHTTPClient(jobCfg.DefaultCAPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "job client config error: %s\n", redact.Secrets(err.Error()))
			return 2
		}
		logger := newLogger()
		err = runJobLoop(ctx, hc, jobCfg, logger, func(ctx context.Context, _ computeJob) ([]byte, error) {
			reports, err := app.RunFoundry(ctx, env, cfg, logger)
			if err != nil {
				return nil, err
			}
			return summaryJSON(reports)
		})
		if err != nil && ctx.Err() == nil {
			_, _ = fmt.Fprintf(stderr, "job client failed: %s\n", redact.Secrets(err.Error()))
			return 1
		}
		return 0
	}

	if _, err := app.RunFoundry(ctx, env, cfg, newLogger()); err != nil {
		_, _ = fmt.Fprintf(stderr, "foundry run failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	return 0
}

type runSummary struct {
	Rows     int                `json:"rows"`
	Crops    int                `json:"crops"`
	Regions  int                `json:"regions"`
	Averages map[string]float64 `json:"averages"`
	Dominant map[string]string  `json:"dominant"`
}

func summaryJSON(r pipeline.Reports) ([]byte, error) {
	return json.Marshal(runSummary{
		Rows:     r.Rows,
		Crops:    r.Crops,
		Regions:  r.Regions,
		Averages: r.Averages,
		Dominant: r.Dominant,
	})
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, "", log.LstdFlags)
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `cropreport: crop yield reports from field observations (local + Foundry modes)

Usage:
  cropreport <command> [flags]

Commands:
  local    Read local observation CSVs and write report files
  foundry  Run in Foundry/pipeline mode (uses BUILD2_TOKEN + RESOURCE_ALIAS_MAP)
  version  Print the version
  help     Show this help

Examples:
  cropreport local --input crop_yield.csv
  cropreport local --input north.csv,south.csv --sqlite reports.db

Environment (all modes):
  CROPREPORT_CONFIG   Optional YAML config file
  WORKERS, MAX_RETRIES, REQUEST_TIMEOUT, RATE_LIMIT_RPS, SQLITE_PATH

Environment (foundry):
  FOUNDRY_SERVICE_DISCOVERY_V2  Service discovery YAML file (or FOUNDRY_URL)
  BUILD2_TOKEN                  File path containing a bearer token
  RESOURCE_ALIAS_MAP            File path containing alias -> {rid, branch} JSON
  GET_JOB_URI, POST_RESULT_URI  When set, poll for jobs and run once per job

Environment (Gemini, only for --narrative-output):
  GEMINI_API_KEY   Gemini API key
  GEMINI_MODEL     Gemini model name
  GEMINI_BASE_URL  Optional base URL override (proxies/testing)

`)
}
