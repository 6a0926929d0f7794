package analysis

import (
	"fmt"
	"sort"
)

// Range is an inclusive interval of clinically normal values.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies within the range, bounds included.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// String formats the range as [min, max].
func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

// RangeTable is an immutable set of normal ranges keyed by feature name.
// The zero value is an empty table.
type RangeTable struct {
	ranges map[string]Range
}

// NewRangeTable copies ranges into a new table. Ranges whose Min exceeds Max
// are rejected.
func NewRangeTable(ranges map[string]Range) (RangeTable, error) {
	owned := make(map[string]Range, len(ranges))
	for name, r := range ranges {
		if r.Min > r.Max {
			return RangeTable{}, fmt.Errorf("range for %s: min %g exceeds max %g", name, r.Min, r.Max)
		}
		owned[name] = r
	}
	return RangeTable{ranges: owned}, nil
}

// DefaultRangeTable returns the adult reference ranges for the six core
// features.
func DefaultRangeTable() RangeTable {
	return RangeTable{ranges: map[string]Range{
		FeatureAge:         {Min: 20, Max: 60},
		FeatureRestingBP:   {Min: 80, Max: 120},
		FeatureCholesterol: {Min: 125, Max: 200},
		FeatureMaxHR:       {Min: 100, Max: 170},
		FeatureOldpeak:     {Min: 0, Max: 2},
		FeatureFastingBS:   {Min: 0, Max: 0},
	}}
}

// Lookup returns the range for feature.
func (t RangeTable) Lookup(feature string) (Range, bool) {
	r, ok := t.ranges[feature]
	return r, ok
}

// Features returns the feature names in the table, sorted.
func (t RangeTable) Features() []string {
	names := make([]string, 0, len(t.ranges))
	for name := range t.ranges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Map returns a copy of the table contents.
func (t RangeTable) Map() map[string]Range {
	out := make(map[string]Range, len(t.ranges))
	for name, r := range t.ranges {
		out[name] = r
	}
	return out
}

// Len returns the number of ranges.
func (t RangeTable) Len() int {
	return len(t.ranges)
}

// Status is the outcome of classifying one value.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusAbnormal Status = "abnormal"
	// StatusUnknown marks a value that could not be read as a number.
	StatusUnknown Status = "unknown"
	// StatusNoRange marks a feature absent from the range table.
	StatusNoRange Status = "no_range"
)

// Classifier flags values falling outside their feature's normal range.
type Classifier struct {
	table RangeTable
}

// NewClassifier returns a classifier bound to table.
func NewClassifier(table RangeTable) *Classifier {
	return &Classifier{table: table}
}

// Table returns the classifier's range table.
func (c *Classifier) Table() RangeTable {
	return c.table
}

// Classify reports how value relates to the normal range of feature.
func (c *Classifier) Classify(feature string, value any) Status {
	r, ok := c.table.Lookup(feature)
	if !ok {
		return StatusNoRange
	}
	v, ok := ParseNumber(value)
	if !ok {
		return StatusUnknown
	}
	if r.Contains(v) {
		return StatusNormal
	}
	return StatusAbnormal
}

// IsAbnormal reports whether value lies strictly outside the normal range of
// feature. Unknown features and non-numeric values are never abnormal.
func (c *Classifier) IsAbnormal(feature string, value any) bool {
	return c.Classify(feature, value) == StatusAbnormal
}

// FlagValues classifies every entry of values and returns the abnormal flag
// per feature name.
func (c *Classifier) FlagValues(values Values) map[string]bool {
	flags := make(map[string]bool, len(values))
	for name, v := range values {
		flags[name] = c.IsAbnormal(name, v)
	}
	return flags
}
