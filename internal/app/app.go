package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/palantir/palantir-compute-module-crop-yield/internal/config"
	"github.com/palantir/palantir-compute-module-crop-yield/internal/crop"
	"github.com/palantir/palantir-compute-module-crop-yield/internal/narrate"
	"github.com/palantir/palantir-compute-module-crop-yield/internal/pipeline"
	"github.com/palantir/palantir-compute-module-crop-yield/internal/report"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/foundry"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/core"
	foundryio "github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/io/foundry"
	localio "github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/io/local"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/worker"
)

const noObservationsSummary = "No observations to summarize."

type runLog struct {
	logger *log.Logger
	id     string
	start  time.Time
}

func newRunLog(logger *log.Logger) *runLog {
	if logger == nil {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	}
	return &runLog{logger: logger, id: uuid.NewString(), start: time.Now()}
}

func (l *runLog) printf(format string, args ...any) {
	l.logger.Printf("run=%s "+format, append([]any{l.id}, args...)...)
}

func since(t time.Time) time.Duration {
	return time.Since(t).Round(time.Millisecond)
}

func workerOptions(cfg config.Config) worker.Options {
	return worker.Options{
		Workers:        cfg.Workers,
		MaxRetries:     cfg.MaxRetries,
		RequestTimeout: cfg.RequestTimeout,
		RateLimitRPS:   cfg.RateLimitRPS,
	}
}

// RunLocal reads the configured input CSVs and writes the report files.
//
// Narrator may be nil; it is only used when cfg.NarrativeOutput is set.
func RunLocal(ctx context.Context, cfg config.Config, narrator narrate.Narrator, logger *log.Logger) (pipeline.Reports, error) {
	rl := newRunLog(logger)
	if len(cfg.Inputs) == 0 {
		return pipeline.Reports{}, fmt.Errorf("at least one input is required")
	}
	if strings.TrimSpace(cfg.AverageOutput) == "" || strings.TrimSpace(cfg.DominantOutput) == "" {
		return pipeline.Reports{}, fmt.Errorf("average and dominant output paths are required")
	}
	rl.printf(
		"local run start: inputs=%d averageOutput=%s dominantOutput=%s sqlite=%q narrative=%q workers=%d",
		len(cfg.Inputs),
		cfg.AverageOutput,
		cfg.DominantOutput,
		cfg.SQLitePath,
		cfg.NarrativeOutput,
		cfg.Workers,
	)

	sources := make([]core.InputAdapter[crop.Dataset], 0, len(cfg.Inputs))
	for _, p := range cfg.Inputs {
		sources = append(sources, localio.FileSource{Path: p})
	}
	reports, err := loadAndRun(ctx, rl, sources, workerOptions(cfg))
	if err != nil {
		return pipeline.Reports{}, err
	}

	sinks := []core.OutputAdapter[pipeline.Reports]{
		fileSink(cfg.AverageOutput, func(w io.Writer, r pipeline.Reports) error {
			return report.WriteAverageCSV(w, r.Averages)
		}),
		fileSink(cfg.DominantOutput, func(w io.Writer, r pipeline.Reports) error {
			return report.WriteDominantText(w, r.Dominant)
		}),
	}
	if p := strings.TrimSpace(cfg.SQLitePath); p != "" {
		sinks = append(sinks, sqliteSink(p, rl.id))
	}
	if err := storeAll(ctx, rl, sinks, reports); err != nil {
		return pipeline.Reports{}, err
	}

	if p := strings.TrimSpace(cfg.NarrativeOutput); p != "" {
		if narrator == nil {
			return pipeline.Reports{}, fmt.Errorf("narrative output requested but no narrator is configured")
		}
		summary := noObservationsSummary
		if reports.Rows > 0 {
			var err error
			if summary, err = summarize(ctx, rl, narrator, reports, cfg); err != nil {
				return pipeline.Reports{}, err
			}
		} else {
			rl.printf("narrative skipped: no observations")
		}
		if err := writeFile(p, func(w io.Writer) error {
			_, err := io.WriteString(w, summary+"\n")
			return err
		}); err != nil {
			return pipeline.Reports{}, fmt.Errorf("write narrative: %w", err)
		}
		rl.printf("narrative written: path=%s chars=%d", p, len(summary))
	}

	rl.printf("local run complete: totalDuration=%s", since(rl.start))
	return reports, nil
}

// RunFoundry reads the input alias from Foundry and uploads both reports as CSV datasets.
func RunFoundry(ctx context.Context, env foundry.Env, cfg config.Config, logger *log.Logger) (pipeline.Reports, error) {
	rl := newRunLog(logger)
	fc := cfg.Foundry

	inputRef, err := env.Ref(fc.InputAlias)
	if err != nil {
		return pipeline.Reports{}, err
	}
	averageRef, err := env.Ref(fc.AverageAlias)
	if err != nil {
		return pipeline.Reports{}, err
	}
	dominantRef, err := env.Ref(fc.DominantAlias)
	if err != nil {
		return pipeline.Reports{}, err
	}

	client, err := foundry.NewClient(env.Services.APIGateway, env.Token, env.DefaultCAPath)
	if err != nil {
		return pipeline.Reports{}, err
	}

	input := foundryio.DatasetSource{Client: client, Ref: inputRef}
	rl.printf(
		"foundry run start: input=%s average=%s@%s dominant=%s@%s",
		input.Name(),
		averageRef.RID, branchName(averageRef),
		dominantRef.RID, branchName(dominantRef),
	)

	reports, err := loadAndRun(ctx, rl, []core.InputAdapter[crop.Dataset]{input}, workerOptions(cfg))
	if err != nil {
		return pipeline.Reports{}, err
	}

	sinks := []core.OutputAdapter[pipeline.Reports]{
		datasetSink(client, averageRef, fc.AverageFilename, func(w io.Writer, r pipeline.Reports) error {
			return report.WriteAverageCSV(w, r.Averages)
		}),
		datasetSink(client, dominantRef, fc.DominantFilename, func(w io.Writer, r pipeline.Reports) error {
			return report.WriteDominantCSV(w, r.Dominant)
		}),
	}
	if p := strings.TrimSpace(cfg.SQLitePath); p != "" {
		sinks = append(sinks, sqliteSink(p, rl.id))
	}
	if err := storeAll(ctx, rl, sinks, reports); err != nil {
		return pipeline.Reports{}, err
	}

	rl.printf("foundry run complete: totalDuration=%s", since(rl.start))
	return reports, nil
}

// loadAndRun loads every source concurrently, concatenates them in source order and runs the pipeline.
func loadAndRun(ctx context.Context, rl *runLog, sources []core.InputAdapter[crop.Dataset], opts worker.Options) (pipeline.Reports, error) {
	loadStart := time.Now()
	loaded := 0
	results, err := worker.ProcessAllWithCallback(ctx, sources, func(ctx context.Context, src core.InputAdapter[crop.Dataset]) (crop.Dataset, error) {
		ds, err := src.Load(ctx)
		if err != nil {
			return crop.Dataset{}, fmt.Errorf("load %s: %w", src.Name(), err)
		}
		return ds, nil
	}, func(res worker.Result[core.InputAdapter[crop.Dataset], crop.Dataset]) error {
		if res.Err != nil {
			return nil
		}
		loaded++
		rl.printf("source loaded: name=%s rows=%d attempts=%d completed=%d/%d duration=%s",
			res.Input.Name(), res.Output.Len(), res.Attempts, loaded, len(sources), since(loadStart))
		return nil
	}, opts)
	if err != nil {
		return pipeline.Reports{}, err
	}

	var ds crop.Dataset
	for _, res := range results {
		ds = ds.Concat(res.Output)
	}
	rl.printf("loaded %d rows from %d sources in %s", ds.Len(), len(sources), since(loadStart))

	runStart := time.Now()
	reports, err := pipeline.Run(ds)
	if err != nil {
		return pipeline.Reports{}, err
	}
	rl.printf("pipeline complete: rows=%d crops=%d regions=%d duration=%s", reports.Rows, reports.Crops, reports.Regions, since(runStart))
	return reports, nil
}

// storeAll writes reports to each sink in order, stopping at the first failure.
func storeAll(ctx context.Context, rl *runLog, sinks []core.OutputAdapter[pipeline.Reports], reports pipeline.Reports) error {
	for _, sink := range sinks {
		start := time.Now()
		if err := sink.Store(ctx, reports); err != nil {
			return fmt.Errorf("write %s: %w", sink.Name(), err)
		}
		rl.printf("output written: name=%s duration=%s", sink.Name(), since(start))
	}
	return nil
}

func fileSink(path string, render func(io.Writer, pipeline.Reports) error) core.OutputAdapter[pipeline.Reports] {
	return core.StoreFunc[pipeline.Reports]{
		Label: path,
		Fn: func(_ context.Context, r pipeline.Reports) error {
			return writeFile(path, func(w io.Writer) error { return render(w, r) })
		},
	}
}

func datasetSink(client *foundry.Client, ref foundry.DatasetRef, filename string, render func(io.Writer, pipeline.Reports) error) core.OutputAdapter[pipeline.Reports] {
	return core.StoreFunc[pipeline.Reports]{
		Label: ref.RID + "@" + branchName(ref) + "/" + filename,
		Fn: func(ctx context.Context, r pipeline.Reports) error {
			var buf bytes.Buffer
			if err := render(&buf, r); err != nil {
				return err
			}
			return foundryio.UploadCSV(ctx, client, ref, filename, buf.Bytes())
		},
	}
}

func sqliteSink(path, runID string) core.OutputAdapter[pipeline.Reports] {
	return core.StoreFunc[pipeline.Reports]{
		Label: "sqlite:" + path,
		Fn: func(ctx context.Context, r pipeline.Reports) error {
			sink, err := report.OpenSQLite(path)
			if err != nil {
				return err
			}
			defer func() {
				_ = sink.Close()
			}()
			return sink.Store(ctx, runID, r)
		},
	}
}

func summarize(ctx context.Context, rl *runLog, n narrate.Narrator, reports pipeline.Reports, cfg config.Config) (string, error) {
	start := time.Now()
	opts := workerOptions(cfg)
	opts.Workers = 1
	out, err := worker.ProcessAll(ctx, []pipeline.Reports{reports}, n.Summarize, opts)
	if err != nil {
		return "", fmt.Errorf("summarize reports: %w", err)
	}
	rl.printf("narrative generated: attempts=%d duration=%s", out[0].Attempts, since(start))
	return out[0].Output, nil
}

// writeFile renders into memory first so a failed render never leaves a truncated file.
func writeFile(path string, render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func branchName(ref foundry.DatasetRef) string {
	if b := strings.TrimSpace(ref.Branch); b != "" {
		return b
	}
	return foundry.DefaultBranch
}
