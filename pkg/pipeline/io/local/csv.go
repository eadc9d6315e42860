package local

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/palantir/palantir-compute-module-crop-yield/internal/crop"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/schema"
)

// Dataset is the loaded observation table, exported for callers outside this module.
type Dataset = crop.Dataset

var (
	// ErrSourceNotFound matches (errors.Is) loads of a source that does not exist.
	ErrSourceNotFound = crop.ErrSourceNotFound
	// ErrMissingColumn matches loads whose header lacks a required column.
	ErrMissingColumn = crop.ErrMissingColumn
)

// ReadDatasetCSV reads a header row followed by observation rows.
//
// Every column is kept on each record. The header must name the columns required by
// schema.CropObservations. A header-only input yields an empty dataset, and so does a
// completely empty input. Rows with a different column count than the header fail.
func ReadDatasetCSV(r io.Reader) (crop.Dataset, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return crop.Dataset{}, nil
	}
	if err != nil {
		return crop.Dataset{}, fmt.Errorf("read header: %w", err)
	}
	for i, col := range header {
		header[i] = schema.NormalizeColumn(col)
	}
	if missing := schema.CropObservations.Missing(header); len(missing) > 0 {
		return crop.Dataset{}, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	ds := crop.Dataset{Header: header, Records: []crop.Record{}}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return ds, nil
		}
		if err != nil {
			return crop.Dataset{}, fmt.Errorf("read row: %w", err)
		}
		row := make(crop.Record, len(header))
		for i, col := range header {
			row[col] = rec[i]
		}
		ds.Records = append(ds.Records, row)
	}
}

// LoadFile reads a dataset from a CSV file on disk.
func LoadFile(path string) (crop.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return crop.Dataset{}, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return crop.Dataset{}, err
	}
	defer func() {
		_ = f.Close()
	}()

	ds, err := ReadDatasetCSV(f)
	if err != nil {
		return crop.Dataset{}, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// FileSource is an input adapter over one local CSV file.
type FileSource struct {
	Path string
}

func (s FileSource) Load(_ context.Context) (crop.Dataset, error) {
	return LoadFile(s.Path)
}

func (s FileSource) Name() string { return s.Path }
