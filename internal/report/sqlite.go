package report

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/palantir/palantir-compute-module-crop-yield/internal/pipeline"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS average_yield (
	crop TEXT PRIMARY KEY,
	average_yield REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS dominant_crop (
	region TEXT PRIMARY KEY,
	crop TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS report_runs (
	run_id TEXT PRIMARY KEY,
	finished_at TEXT NOT NULL,
	rows INTEGER NOT NULL,
	crops INTEGER NOT NULL,
	regions INTEGER NOT NULL
);`

// SQLiteSink writes both reports into a SQLite database file.
//
// Each Store replaces the report tables and appends one report_runs row.
type SQLiteSink struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLiteSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=10000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteSink{db: db, path: path}, nil
}

func (s *SQLiteSink) Name() string { return "sqlite:" + s.path }

// Store replaces the report tables with reports in a single transaction.
func (s *SQLiteSink) Store(ctx context.Context, runID string, reports pipeline.Reports) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM average_yield"); err != nil {
		return fmt.Errorf("clear average_yield: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM dominant_crop"); err != nil {
		return fmt.Errorf("clear dominant_crop: %w", err)
	}

	for _, c := range reports.Averages.Crops() {
		if _, err = tx.ExecContext(ctx, "INSERT INTO average_yield (crop, average_yield) VALUES (?, ?)", c, reports.Averages[c]); err != nil {
			return fmt.Errorf("insert average_yield %q: %w", c, err)
		}
	}
	for _, region := range reports.Dominant.Regions() {
		if _, err = tx.ExecContext(ctx, "INSERT INTO dominant_crop (region, crop) VALUES (?, ?)", region, reports.Dominant[region]); err != nil {
			return fmt.Errorf("insert dominant_crop %q: %w", region, err)
		}
	}
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO report_runs (run_id, finished_at, rows, crops, regions) VALUES (?, ?, ?, ?, ?)",
		runID, time.Now().UTC().Format(time.RFC3339), reports.Rows, reports.Crops, reports.Regions,
	); err != nil {
		return fmt.Errorf("insert report_runs: %w", err)
	}
	return tx.Commit()
}

// Averages reads the stored average-yield table.
func (s *SQLiteSink) Averages(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT crop, average_yield FROM average_yield")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	out := make(map[string]float64)
	for rows.Next() {
		var c string
		var v float64
		if err := rows.Scan(&c, &v); err != nil {
			return nil, err
		}
		out[c] = v
	}
	return out, rows.Err()
}

// Dominant reads the stored dominant-crop table.
func (s *SQLiteSink) Dominant(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT region, crop FROM dominant_crop")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	out := make(map[string]string)
	for rows.Next() {
		var region, c string
		if err := rows.Scan(&region, &c); err != nil {
			return nil, err
		}
		out[region] = c
	}
	return out, rows.Err()
}

// Runs returns the number of recorded report runs.
func (s *SQLiteSink) Runs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM report_runs").Scan(&n)
	return n, err
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
