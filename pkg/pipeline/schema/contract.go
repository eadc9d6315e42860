package schema

import (
	"strings"
)

// Field captures the minimal behavior-relevant schema fields.
type Field struct {
	Name     string
	Type     string
	Nullable bool
}

// DatasetContract is the logical column contract for a tabular source or report.
type DatasetContract struct {
	Name   string
	Fields []Field
}

// CropObservations is the input contract: one row per planting observation.
// Sources may carry additional columns; only these are required.
var CropObservations = DatasetContract{
	Name: "crop_observations",
	Fields: []Field{
		{Name: "Region", Type: "STRING"},
		{Name: "Crop", Type: "STRING"},
		{Name: "Yield_tons_per_hectare", Type: "DOUBLE"},
	},
}

// AverageYield is the column layout of the average-yield report.
var AverageYield = DatasetContract{
	Name: "average_yield",
	Fields: []Field{
		{Name: "Crop", Type: "STRING"},
		{Name: "Average Yield (tons/hectare)", Type: "DOUBLE"},
	},
}

// DominantCrop is the column layout of the dominant-crop report.
var DominantCrop = DatasetContract{
	Name: "dominant_crop",
	Fields: []Field{
		{Name: "Region", Type: "STRING"},
		{Name: "Crop", Type: "STRING"},
	},
}

// Header returns the contract's column names in order.
func (c DatasetContract) Header() []string {
	out := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		out = append(out, f.Name)
	}
	return out
}

// Missing returns the contract columns absent from header, in contract order.
func (c DatasetContract) Missing(header []string) []string {
	have := make(map[string]struct{}, len(header))
	for _, h := range header {
		have[NormalizeColumn(h)] = struct{}{}
	}
	var missing []string
	for _, f := range c.Fields {
		if _, ok := have[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// NormalizeColumn trims whitespace and a leading UTF-8 byte order mark from a header cell.
func NormalizeColumn(raw string) string {
	return strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
}
