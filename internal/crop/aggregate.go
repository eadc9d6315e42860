package crop

import (
	"errors"
	"math"
	"strings"

	"github.com/spf13/cast"
)

// CropYieldIndex maps a crop name to its yield values in dataset order.
type CropYieldIndex map[string][]float64

// Total returns the number of yield values across all crops.
func (idx CropYieldIndex) Total() int {
	n := 0
	for _, vals := range idx {
		n += len(vals)
	}
	return n
}

// RegionCropFrequency maps region -> crop -> number of observations.
type RegionCropFrequency map[string]map[string]int

// RegionTotal returns how many observations were counted for region.
func (f RegionCropFrequency) RegionTotal(region string) int {
	n := 0
	for _, c := range f[region] {
		n += c
	}
	return n
}

// BuildYieldIndex groups parsed yields by crop.
//
// The first record with a missing, empty or non-numeric yield aborts the build; no
// partial index is returned.
func BuildYieldIndex(records []Record) (CropYieldIndex, error) {
	idx := make(CropYieldIndex)
	for i, rec := range records {
		v, err := ParseYield(rec)
		if err != nil {
			var ye *YieldError
			if errors.As(err, &ye) {
				ye.Row = i + 1
			}
			return nil, err
		}
		c := rec.Crop()
		idx[c] = append(idx[c], v)
	}
	return idx, nil
}

// BuildRegionFrequency counts observations per (region, crop) pair.
func BuildRegionFrequency(records []Record) RegionCropFrequency {
	freq := make(RegionCropFrequency)
	for _, rec := range records {
		region := rec.Region()
		counts, ok := freq[region]
		if !ok {
			counts = make(map[string]int)
			freq[region] = counts
		}
		counts[rec.Crop()]++
	}
	return freq
}

// ParseYield reads the record's yield column as a non-negative decimal with an optional
// exponent ("5.8", "1e3"). Surrounding whitespace is ignored. Go literal forms that cast
// would otherwise accept (hex floats, digit separators) and negative values are rejected.
func ParseYield(rec Record) (float64, error) {
	raw, ok := rec.Get(FieldYield)
	if !ok {
		return 0, &YieldError{Crop: rec.Crop(), Missing: true}
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, &YieldError{Crop: rec.Crop(), Value: raw, Err: errors.New("empty")}
	}
	if strings.ContainsAny(s, "xX_") {
		return 0, &YieldError{Crop: rec.Crop(), Value: raw, Err: errors.New("not a plain decimal")}
	}
	v, err := cast.ToFloat64E(s)
	if err != nil {
		return 0, &YieldError{Crop: rec.Crop(), Value: raw, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &YieldError{Crop: rec.Crop(), Value: raw, Err: errors.New("not finite")}
	}
	if v < 0 {
		return 0, &YieldError{Crop: rec.Crop(), Value: raw, Err: errors.New("negative")}
	}
	return v, nil
}
