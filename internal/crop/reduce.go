package crop

import "sort"

// AverageYieldReport maps a crop name to its mean yield.
type AverageYieldReport map[string]float64

// DominantCropReport maps a region to its most observed crop.
type DominantCropReport map[string]string

// AverageYields computes the arithmetic mean of each crop's series.
//
// A crop with an empty series fails the whole call with ErrEmptyYieldSeries.
func AverageYields(idx CropYieldIndex) (AverageYieldReport, error) {
	out := make(AverageYieldReport, len(idx))
	for _, c := range sortedKeys(idx) {
		vals := idx[c]
		if len(vals) == 0 {
			return nil, &SeriesError{Crop: c}
		}
		sum := 0.0
		for _, v := range vals {
			sum += v
		}
		out[c] = sum / float64(len(vals))
	}
	return out, nil
}

// DominantCrop picks the crop with the highest count in each region.
//
// When several crops share the highest count the lexicographically smallest name wins,
// so repeated calls on the same input always agree.
func DominantCrop(freq RegionCropFrequency) DominantCropReport {
	out := make(DominantCropReport, len(freq))
	for region, counts := range freq {
		best := ""
		bestCount := -1
		for _, c := range sortedKeys(counts) {
			if counts[c] > bestCount {
				best, bestCount = c, counts[c]
			}
		}
		if bestCount < 0 {
			continue
		}
		out[region] = best
	}
	return out
}

// Crops returns the report's crop names in sorted order.
func (r AverageYieldReport) Crops() []string { return sortedKeys(r) }

// Regions returns the report's region names in sorted order.
func (r DominantCropReport) Regions() []string { return sortedKeys(r) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
