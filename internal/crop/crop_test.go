package crop_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/palantir/palantir-compute-module-crop-yield/internal/crop"
)

func sampleRecords() []crop.Record {
	return []crop.Record{
		crop.NewRecord("Region", "Region1", "Soil_Type", "Sandy", "Crop", "Wheat", "Yield_tons_per_hectare", "5.5"),
		crop.NewRecord("Region", "Region1", "Soil_Type", "Clay", "Crop", "Rice", "Yield_tons_per_hectare", "4.2"),
		crop.NewRecord("Region", "Region2", "Soil_Type", "Sandy", "Crop", "Wheat", "Yield_tons_per_hectare", "4.8"),
		crop.NewRecord("Region", "Region2", "Soil_Type", "Loam", "Crop", "Corn", "Yield_tons_per_hectare", "6.0"),
	}
}

func TestBuildYieldIndex(t *testing.T) {
	t.Run("groups by crop in dataset order", func(t *testing.T) {
		idx, err := crop.BuildYieldIndex(sampleRecords())
		require.NoError(t, err)
		require.Len(t, idx, 3)
		require.Equal(t, []float64{5.5, 4.8}, idx["Wheat"])
		require.Equal(t, []float64{4.2}, idx["Rice"])
		require.Equal(t, []float64{6.0}, idx["Corn"])
		require.Equal(t, 4, idx.Total())
	})

	t.Run("empty dataset", func(t *testing.T) {
		idx, err := crop.BuildYieldIndex(nil)
		require.NoError(t, err)
		require.NotNil(t, idx)
		require.Empty(t, idx)
	})

	t.Run("duplicate rows all count", func(t *testing.T) {
		r := crop.NewRecord("Region", "R1", "Crop", "Wheat", "Yield_tons_per_hectare", "3")
		idx, err := crop.BuildYieldIndex([]crop.Record{r, r, r})
		require.NoError(t, err)
		require.Equal(t, []float64{3, 3, 3}, idx["Wheat"])
	})

	t.Run("whitespace around value is ignored", func(t *testing.T) {
		idx, err := crop.BuildYieldIndex([]crop.Record{
			crop.NewRecord("Crop", "Wheat", "Yield_tons_per_hectare", " 5.0 "),
		})
		require.NoError(t, err)
		require.Equal(t, []float64{5.0}, idx["Wheat"])
	})

	t.Run("zero and exponent forms are accepted", func(t *testing.T) {
		idx, err := crop.BuildYieldIndex([]crop.Record{
			crop.NewRecord("Crop", "Wheat", "Yield_tons_per_hectare", "0"),
			crop.NewRecord("Crop", "Wheat", "Yield_tons_per_hectare", "4.5e0"),
			crop.NewRecord("Crop", "Wheat", "Yield_tons_per_hectare", "+2"),
		})
		require.NoError(t, err)
		require.Equal(t, []float64{0, 4.5, 2}, idx["Wheat"])
	})
}

func TestBuildYieldIndex_InvalidYield(t *testing.T) {
	tests := []struct {
		name    string
		records []crop.Record
		wantRow int
	}{
		{
			name: "empty value",
			records: []crop.Record{
				crop.NewRecord("Crop", "Wheat", "Yield_tons_per_hectare", ""),
				crop.NewRecord("Crop", "Wheat", "Yield_tons_per_hectare", "5.0"),
			},
			wantRow: 1,
		},
		{
			name: "non numeric",
			records: []crop.Record{
				crop.NewRecord("Crop", "Wheat", "Yield_tons_per_hectare", "5.0"),
				crop.NewRecord("Crop", "Rice", "Yield_tons_per_hectare", "lots"),
			},
			wantRow: 2,
		},
		{
			name: "missing column",
			records: []crop.Record{
				crop.NewRecord("Region", "R1", "Crop", "Wheat"),
			},
			wantRow: 1,
		},
		{
			name: "not finite",
			records: []crop.Record{
				crop.NewRecord("Crop", "Wheat", "Yield_tons_per_hectare", "NaN"),
			},
			wantRow: 1,
		},
		{
			name: "hex float",
			records: []crop.Record{
				crop.NewRecord("Crop", "Wheat", "Yield_tons_per_hectare", "0x1p2"),
			},
			wantRow: 1,
		},
		{
			name: "digit separator",
			records: []crop.Record{
				crop.NewRecord("Crop", "Wheat", "Yield_tons_per_hectare", "4.5"),
				crop.NewRecord("Crop", "Wheat", "Yield_tons_per_hectare", "1_000"),
			},
			wantRow: 2,
		},
		{
			name: "negative",
			records: []crop.Record{
				crop.NewRecord("Crop", "Rice", "Yield_tons_per_hectare", "-3"),
			},
			wantRow: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := crop.BuildYieldIndex(tt.records)
			require.Error(t, err)
			require.Nil(t, idx)
			require.ErrorIs(t, err, crop.ErrInvalidYieldValue)

			var ye *crop.YieldError
			require.True(t, errors.As(err, &ye))
			require.Equal(t, tt.wantRow, ye.Row)
		})
	}
}

func TestBuildRegionFrequency(t *testing.T) {
	t.Run("counts per region", func(t *testing.T) {
		freq := crop.BuildRegionFrequency(sampleRecords())
		require.Equal(t, crop.RegionCropFrequency{
			"Region1": {"Wheat": 1, "Rice": 1},
			"Region2": {"Wheat": 1, "Corn": 1},
		}, freq)
	})

	t.Run("sum of counts equals region rows", func(t *testing.T) {
		records := append(sampleRecords(),
			crop.NewRecord("Region", "Region1", "Crop", "Wheat", "Yield_tons_per_hectare", "x"),
			crop.NewRecord("Region", "Region3", "Crop", "Soybean"),
		)
		freq := crop.BuildRegionFrequency(records)

		perRegion := map[string]int{}
		for _, r := range records {
			perRegion[r.Region()]++
		}
		for region, n := range perRegion {
			require.Equal(t, n, freq.RegionTotal(region), "region %s", region)
		}
	})

	t.Run("empty dataset", func(t *testing.T) {
		freq := crop.BuildRegionFrequency(nil)
		require.NotNil(t, freq)
		require.Empty(t, freq)
	})
}

func TestAverageYields(t *testing.T) {
	t.Run("multiple values", func(t *testing.T) {
		got, err := crop.AverageYields(crop.CropYieldIndex{
			"Wheat": {5.5, 4.8},
			"Rice":  {4.2},
		})
		require.NoError(t, err)
		require.InDelta(t, 5.15, got["Wheat"], 1e-9)
		require.InDelta(t, 4.2, got["Rice"], 1e-9)
	})

	t.Run("single value is exact", func(t *testing.T) {
		got, err := crop.AverageYields(crop.CropYieldIndex{"Corn": {6.0}})
		require.NoError(t, err)
		require.Equal(t, 6.0, got["Corn"])
	})

	t.Run("empty index", func(t *testing.T) {
		got, err := crop.AverageYields(crop.CropYieldIndex{})
		require.NoError(t, err)
		require.Equal(t, crop.AverageYieldReport{}, got)
	})

	t.Run("empty series fails", func(t *testing.T) {
		got, err := crop.AverageYields(crop.CropYieldIndex{"Wheat": {}, "Rice": {4.2}})
		require.Nil(t, got)
		require.ErrorIs(t, err, crop.ErrEmptyYieldSeries)

		var se *crop.SeriesError
		require.True(t, errors.As(err, &se))
		require.Equal(t, "Wheat", se.Crop)
	})
}

func TestDominantCrop(t *testing.T) {
	t.Run("clear winner", func(t *testing.T) {
		got := crop.DominantCrop(crop.RegionCropFrequency{
			"North": {"Wheat": 3, "Rice": 1},
			"South": {"Corn": 2},
		})
		require.Equal(t, crop.DominantCropReport{"North": "Wheat", "South": "Corn"}, got)
	})

	t.Run("tie winner is one of the tied crops", func(t *testing.T) {
		freq := crop.RegionCropFrequency{
			"R1": {"Wheat": 2, "Barley": 2, "Rice": 1},
		}
		got := crop.DominantCrop(freq)
		require.Contains(t, []string{"Barley", "Wheat"}, got["R1"])
		for i := 0; i < 20; i++ {
			require.Equal(t, got["R1"], crop.DominantCrop(freq)["R1"])
		}
	})

	t.Run("tie is stable and within the tied set", func(t *testing.T) {
		records := []crop.Record{
			crop.NewRecord("Region", "R1", "Crop", "Wheat"),
			crop.NewRecord("Region", "R1", "Crop", "Rice"),
		}
		first := crop.DominantCrop(crop.BuildRegionFrequency(records))
		require.Contains(t, []string{"Wheat", "Rice"}, first["R1"])
		for i := 0; i < 20; i++ {
			again := crop.DominantCrop(crop.BuildRegionFrequency(records))
			require.Equal(t, first, again)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		require.Equal(t, crop.DominantCropReport{}, crop.DominantCrop(crop.RegionCropFrequency{}))
	})
}

func TestDatasetConcat(t *testing.T) {
	a := crop.Dataset{
		Header:  []string{"Region", "Crop", "Yield_tons_per_hectare"},
		Records: []crop.Record{crop.NewRecord("Region", "A", "Crop", "Wheat", "Yield_tons_per_hectare", "1")},
	}
	b := crop.Dataset{
		Header:  []string{"Crop", "Region", "Yield_tons_per_hectare", "Soil_Type"},
		Records: []crop.Record{crop.NewRecord("Region", "B", "Crop", "Rice", "Yield_tons_per_hectare", "2")},
	}
	got := a.Concat(b)
	require.Equal(t, []string{"Region", "Crop", "Yield_tons_per_hectare", "Soil_Type"}, got.Header)
	require.Equal(t, 2, got.Len())
	require.Equal(t, "A", got.Records[0].Region())
	require.Equal(t, "B", got.Records[1].Region())
}
