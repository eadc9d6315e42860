package schema_test

import (
	"slices"
	"testing"

	"github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/schema"
)

func TestMissing(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   []string
	}{
		{name: "all present", header: []string{"Region", "Crop", "Yield_tons_per_hectare"}, want: nil},
		{name: "extra columns", header: []string{"Soil_Type", "Region", "Crop", "Rainfall_mm", "Yield_tons_per_hectare"}, want: nil},
		{name: "padded and bom", header: []string{"\ufeffRegion", " Crop ", "Yield_tons_per_hectare"}, want: nil},
		{name: "missing yield", header: []string{"Region", "Crop"}, want: []string{"Yield_tons_per_hectare"}},
		{name: "empty header", header: nil, want: []string{"Region", "Crop", "Yield_tons_per_hectare"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := schema.CropObservations.Missing(tt.header)
			if !slices.Equal(got, tt.want) {
				t.Fatalf("Missing(%q)=%q want=%q", tt.header, got, tt.want)
			}
		})
	}
}

func TestHeader(t *testing.T) {
	got := schema.AverageYield.Header()
	want := []string{"Crop", "Average Yield (tons/hectare)"}
	if !slices.Equal(got, want) {
		t.Fatalf("Header()=%q want=%q", got, want)
	}
}
