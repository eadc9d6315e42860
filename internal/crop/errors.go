package crop

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSourceNotFound is returned by loaders when the named source does not exist.
	ErrSourceNotFound = errors.New("source not found")
	// ErrMissingColumn is returned by loaders when the header lacks a required column.
	ErrMissingColumn = errors.New("missing required column")
	// ErrInvalidYieldValue is returned when a yield field is missing, empty or not a number.
	ErrInvalidYieldValue = errors.New("invalid yield value")
	// ErrEmptyYieldSeries is returned when a crop has no yield values to average.
	ErrEmptyYieldSeries = errors.New("empty yield series")
)

// YieldError describes the record that failed yield parsing.
type YieldError struct {
	// Row is the 1-based position of the record in the dataset.
	Row   int
	Crop  string
	Value string
	// Missing is true when the record has no yield column at all.
	Missing bool
	Err     error
}

func (e *YieldError) Error() string {
	if e == nil {
		return ErrInvalidYieldValue.Error()
	}
	parts := []string{
		fmt.Sprintf("%s: row=%d crop=%q", ErrInvalidYieldValue, e.Row, e.Crop),
	}
	if e.Missing {
		parts = append(parts, "field "+FieldYield+" missing")
	} else {
		parts = append(parts, fmt.Sprintf("value=%q", e.Value))
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, " ")
}

func (e *YieldError) Is(target error) bool {
	return target == ErrInvalidYieldValue
}

func (e *YieldError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// SeriesError names the crop whose yield series could not be reduced.
type SeriesError struct {
	Crop string
}

func (e *SeriesError) Error() string {
	if e == nil {
		return ErrEmptyYieldSeries.Error()
	}
	return fmt.Sprintf("%s: crop=%q", ErrEmptyYieldSeries, e.Crop)
}

func (e *SeriesError) Unwrap() error {
	return ErrEmptyYieldSeries
}
