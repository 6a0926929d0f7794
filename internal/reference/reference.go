// Package reference holds the clinical reference data the service compares
// submissions against: the submission feature order, the healthy baseline and
// the normal ranges. Defaults are built in; a YAML file may override any
// section.
package reference

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/heartrisk-server/internal/analysis"
)

// Reference is the full set of reference data used by one process.
type Reference struct {
	// Features is the order in which the prediction service expects features.
	Features []string `yaml:"features" json:"features"`

	// Numeric lists the features compared against the baseline, in ranking
	// tie-break order.
	Numeric []string `yaml:"numeric_features" json:"numeric_features"`

	// Baseline is the healthy reference value per feature.
	Baseline map[string]any `yaml:"baseline" json:"baseline"`

	// Ranges are the inclusive normal ranges used to flag recorded values.
	Ranges map[string]analysis.Range `yaml:"normal_ranges" json:"normal_ranges"`
}

// Default returns the built-in reference data.
func Default() *Reference {
	return &Reference{
		Features: []string{
			"Age", "RestingBP", "Cholesterol", "MaxHR", "Oldpeak",
			"Sex", "ChestPainType", "RestingECG", "ExerciseAngina",
			"ST_Slope", "FastingBS",
		},
		Numeric: analysis.DefaultFeatures().Names(),
		Baseline: map[string]any{
			"Age":            30,
			"RestingBP":      120,
			"Cholesterol":    180,
			"MaxHR":          140,
			"Oldpeak":        0,
			"Sex":            "F",
			"ChestPainType":  "ATA",
			"RestingECG":     "Normal",
			"ExerciseAngina": "N",
			"ST_Slope":       "Up",
			"FastingBS":      0,
		},
		Ranges: analysis.DefaultRangeTable().Map(),
	}
}

// Load reads a YAML reference file. Sections absent from the file keep their
// default values.
func Load(path string) (*Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading reference file: %w", err)
	}
	ref, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing reference file %s: %w", path, err)
	}
	return ref, nil
}

// Parse decodes YAML reference data over the defaults and validates it.
func Parse(data []byte) (*Reference, error) {
	var override Reference
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, err
	}

	ref := Default()
	if len(override.Features) > 0 {
		ref.Features = override.Features
	}
	if len(override.Numeric) > 0 {
		ref.Numeric = override.Numeric
	}
	if len(override.Baseline) > 0 {
		ref.Baseline = override.Baseline
	}
	if len(override.Ranges) > 0 {
		ref.Ranges = override.Ranges
	}

	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return ref, nil
}

// Validate checks internal consistency: numeric features must be submission
// features with a numeric baseline, and every range must be well formed.
func (r *Reference) Validate() error {
	if len(r.Features) == 0 {
		return fmt.Errorf("reference: no features defined")
	}

	known := make(map[string]bool, len(r.Features))
	for _, f := range r.Features {
		if known[f] {
			return fmt.Errorf("reference: duplicate feature %q", f)
		}
		known[f] = true
	}

	for _, f := range r.Numeric {
		if !known[f] {
			return fmt.Errorf("reference: numeric feature %q is not a submission feature", f)
		}
		if _, ok := analysis.ParseNumber(r.Baseline[f]); !ok {
			return fmt.Errorf("reference: baseline for %q must be numeric", f)
		}
	}

	if _, err := analysis.NewRangeTable(r.Ranges); err != nil {
		return fmt.Errorf("reference: %w", err)
	}
	return nil
}

// RangeTable returns the normal ranges as an immutable table.
func (r *Reference) RangeTable() (analysis.RangeTable, error) {
	return analysis.NewRangeTable(r.Ranges)
}

// FeatureSet returns the numeric features as an analysis feature set.
func (r *Reference) FeatureSet() analysis.FeatureSet {
	return analysis.NewFeatureSet(r.Numeric...)
}

// IsNumeric reports whether feature takes part in the deviation analysis.
func (r *Reference) IsNumeric(feature string) bool {
	for _, f := range r.Numeric {
		if f == feature {
			return true
		}
	}
	return false
}

// BaselineValues returns a copy of the baseline.
func (r *Reference) BaselineValues() map[string]any {
	out := make(map[string]any, len(r.Baseline))
	for k, v := range r.Baseline {
		out[k] = v
	}
	return out
}

// FeatureList returns a copy of the submission feature order.
func (r *Reference) FeatureList() []string {
	return append([]string(nil), r.Features...)
}
