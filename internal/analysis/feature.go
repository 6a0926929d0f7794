// Package analysis implements deviation and contribution analysis for a
// heart-risk prediction, and abnormality classification of recorded values
// against clinical reference ranges.
//
// Everything in this package is pure: no I/O, no logging, no shared mutable
// state. All exported operations are safe for concurrent use.
package analysis

// Names of the clinical features used by the default analysis.
const (
	FeatureAge         = "Age"
	FeatureRestingBP   = "RestingBP"
	FeatureCholesterol = "Cholesterol"
	FeatureMaxHR       = "MaxHR"
	FeatureOldpeak     = "Oldpeak"
	FeatureFastingBS   = "FastingBS"
)

// Values maps a feature name to its raw value as received from a form or a
// decoded JSON document.
type Values = map[string]any

// ParseFunc converts a raw value into a number. It reports false when the
// value cannot be interpreted.
type ParseFunc func(raw any) (float64, bool)

// Feature describes one measurement taking part in the deviation analysis.
type Feature struct {
	Name  string
	Parse ParseFunc
}

// NumericFeature returns a feature parsed with ParseLeadingNumber.
func NumericFeature(name string) Feature {
	return Feature{Name: name, Parse: ParseLeadingNumber}
}

// valueOf returns the parsed value of f in values, or 0 when it is missing or
// cannot be parsed.
func (f Feature) valueOf(values Values) float64 {
	raw, ok := values[f.Name]
	if !ok {
		return 0
	}
	parse := f.Parse
	if parse == nil {
		parse = ParseLeadingNumber
	}
	v, ok := parse(raw)
	if !ok {
		return 0
	}
	return v
}

// FeatureSet is an ordered list of features. The order is significant: it is
// the order of computed deviations and the tie-break order of the ranking.
type FeatureSet []Feature

// NewFeatureSet builds a numeric feature set from names, keeping their order.
func NewFeatureSet(names ...string) FeatureSet {
	set := make(FeatureSet, 0, len(names))
	for _, name := range names {
		set = append(set, NumericFeature(name))
	}
	return set
}

// DefaultFeatures returns the six numeric features compared against the
// healthy baseline.
func DefaultFeatures() FeatureSet {
	return NewFeatureSet(
		FeatureAge,
		FeatureRestingBP,
		FeatureCholesterol,
		FeatureMaxHR,
		FeatureOldpeak,
		FeatureFastingBS,
	)
}

// Names returns the feature names in order.
func (s FeatureSet) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}
