package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/palantir/palantir-compute-module-crop-yield/internal/crop"
	"github.com/palantir/palantir-compute-module-crop-yield/internal/pipeline"
)

func TestRun_EndToEnd(t *testing.T) {
	ds := crop.Dataset{
		Header: []string{"Region", "Crop", "Yield_tons_per_hectare"},
		Records: []crop.Record{
			crop.NewRecord("Region", "Region1", "Crop", "Wheat", "Yield_tons_per_hectare", "5.5"),
			crop.NewRecord("Region", "Region1", "Crop", "Rice", "Yield_tons_per_hectare", "4.2"),
			crop.NewRecord("Region", "Region2", "Crop", "Wheat", "Yield_tons_per_hectare", "4.8"),
			crop.NewRecord("Region", "Region2", "Crop", "Corn", "Yield_tons_per_hectare", "6.0"),
		},
	}

	got, err := pipeline.Run(ds)
	require.NoError(t, err)
	require.Equal(t, 4, got.Rows)
	require.Equal(t, 3, got.Crops)
	require.Equal(t, 2, got.Regions)

	require.InDelta(t, 5.15, got.Averages["Wheat"], 1e-9)
	require.InDelta(t, 4.2, got.Averages["Rice"], 1e-9)
	require.InDelta(t, 6.0, got.Averages["Corn"], 1e-9)

	// Both regions are ties; only membership in the tied set is guaranteed.
	require.Contains(t, []string{"Wheat", "Rice"}, got.Dominant["Region1"])
	require.Contains(t, []string{"Wheat", "Corn"}, got.Dominant["Region2"])

	again, err := pipeline.Run(ds)
	require.NoError(t, err)
	require.Equal(t, got.Dominant, again.Dominant)
}

func TestRun_EmptyDataset(t *testing.T) {
	got, err := pipeline.Run(crop.Dataset{Header: crop.RequiredFields()})
	require.NoError(t, err)
	require.Empty(t, got.Averages)
	require.Empty(t, got.Dominant)
	require.Zero(t, got.Rows)
}

func TestRun_InvalidYieldAbortsRun(t *testing.T) {
	ds := crop.Dataset{Records: []crop.Record{
		crop.NewRecord("Region", "R1", "Crop", "Wheat", "Yield_tons_per_hectare", "5.0"),
		crop.NewRecord("Region", "R1", "Crop", "Wheat", "Yield_tons_per_hectare", ""),
	}}
	got, err := pipeline.Run(ds)
	require.ErrorIs(t, err, crop.ErrInvalidYieldValue)
	require.Nil(t, got.Averages)
	require.Nil(t, got.Dominant)
}
