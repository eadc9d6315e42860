package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/palantir/palantir-compute-module-crop-yield/internal/crop"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/schema"
)

// FormatYield renders a yield with two decimal places.
func FormatYield(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// WriteAverageCSV writes one row per crop, sorted by crop name.
func WriteAverageCSV(w io.Writer, r crop.AverageYieldReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(schema.AverageYield.Header()); err != nil {
		return err
	}
	for _, c := range r.Crops() {
		if err := cw.Write([]string{c, FormatYield(r[c])}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDominantCSV writes one region,crop row per region, sorted by region.
func WriteDominantCSV(w io.Writer, r crop.DominantCropReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(schema.DominantCrop.Header()); err != nil {
		return err
	}
	for _, region := range r.Regions() {
		if err := cw.Write([]string{region, r[region]}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDominantText writes the human-readable region blocks.
func WriteDominantText(w io.Writer, r crop.DominantCropReport) error {
	if _, err := io.WriteString(w, "Most Frequent Crop by Region:\n\n"); err != nil {
		return err
	}
	for _, region := range r.Regions() {
		if _, err := fmt.Fprintf(w, "Region: %s\nMost Common Crop: %s\n\n", region, r[region]); err != nil {
			return err
		}
	}
	return nil
}
