package crop

import "strings"

// Column names read by the aggregation pipeline. Other columns are carried but ignored.
const (
	FieldRegion = "Region"
	FieldCrop   = "Crop"
	FieldYield  = "Yield_tons_per_hectare"
)

// RequiredFields returns the columns every observation source must provide.
func RequiredFields() []string {
	return []string{FieldRegion, FieldCrop, FieldYield}
}

// Record is one observation row keyed by column name. Values are kept as raw text.
type Record map[string]string

// Get returns the raw value for a column and whether it was present.
func (r Record) Get(field string) (string, bool) {
	v, ok := r[field]
	return v, ok
}

func (r Record) Region() string { return r[FieldRegion] }

func (r Record) Crop() string { return r[FieldCrop] }

// Dataset is the full ordered set of records loaded from one or more sources.
//
// Header preserves the source column order; Records preserves row order.
type Dataset struct {
	Header  []string
	Records []Record
}

func (d Dataset) Len() int { return len(d.Records) }

// Concat appends other's rows after d's. Header columns missing from d are appended
// in other's order so the combined header still names every loaded field.
func (d Dataset) Concat(other Dataset) Dataset {
	header := append([]string(nil), d.Header...)
	seen := make(map[string]struct{}, len(header))
	for _, h := range header {
		seen[h] = struct{}{}
	}
	for _, h := range other.Header {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		header = append(header, h)
	}

	records := make([]Record, 0, len(d.Records)+len(other.Records))
	records = append(records, d.Records...)
	records = append(records, other.Records...)
	return Dataset{Header: header, Records: records}
}

// NewRecord builds a record from alternating column/value pairs.
// A trailing column with no value is stored as empty.
func NewRecord(kv ...string) Record {
	r := make(Record, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key := strings.TrimSpace(kv[i])
		val := ""
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		r[key] = val
	}
	return r
}
