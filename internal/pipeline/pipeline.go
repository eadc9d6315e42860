package pipeline

import (
	"fmt"

	"github.com/palantir/palantir-compute-module-crop-yield/internal/crop"
)

// Reports is the output of one pipeline run.
type Reports struct {
	Averages crop.AverageYieldReport
	Dominant crop.DominantCropReport

	Rows    int
	Crops   int
	Regions int
}

// Run aggregates the dataset and reduces it into both reports.
//
// Any failure aborts the run; no partial reports are returned.
func Run(ds crop.Dataset) (Reports, error) {
	idx, err := crop.BuildYieldIndex(ds.Records)
	if err != nil {
		return Reports{}, fmt.Errorf("build yield index: %w", err)
	}
	freq := crop.BuildRegionFrequency(ds.Records)

	averages, err := crop.AverageYields(idx)
	if err != nil {
		return Reports{}, fmt.Errorf("average yields: %w", err)
	}
	dominant := crop.DominantCrop(freq)

	return Reports{
		Averages: averages,
		Dominant: dominant,
		Rows:     ds.Len(),
		Crops:    len(averages),
		Regions:  len(dominant),
	}, nil
}
