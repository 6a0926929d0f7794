package service

import (
	"fmt"
	"strings"

	"github.com/heartrisk-server/internal/analysis"
	"github.com/heartrisk-server/internal/domain"
	"github.com/heartrisk-server/internal/reference"
)

// categoricalValues lists the accepted values per categorical feature.
var categoricalValues = map[string][]string{
	"Sex":            {"M", "F"},
	"ChestPainType":  {"ATA", "NAP", "ASY", "TA"},
	"RestingECG":     {"Normal", "ST", "LVH"},
	"ExerciseAngina": {"Y", "N"},
	"ST_Slope":       {"Up", "Flat", "Down"},
}

// InputValidator checks a submission against the reference feature list.
type InputValidator struct {
	ref *reference.Reference
}

// NewInputValidator creates a validator bound to ref.
func NewInputValidator(ref *reference.Reference) *InputValidator {
	return &InputValidator{ref: ref}
}

// Validate checks every reference feature of input and returns a normalized
// copy: numeric features become float64 and strings are trimmed. Features not
// in the reference are dropped. All violations are returned together as
// domain.ValidationErrors.
func (v *InputValidator) Validate(input map[string]any) (map[string]any, error) {
	var errs domain.ValidationErrors
	out := make(map[string]any, len(v.ref.Features))

	for _, feature := range v.ref.Features {
		raw, ok := input[feature]
		if !ok || raw == nil || raw == "" {
			errs = append(errs, domain.NewValidationError(feature, "is required", raw))
			continue
		}

		if v.ref.IsNumeric(feature) {
			n, ok := analysis.ParseNumber(raw)
			if !ok {
				errs = append(errs, domain.NewValidationError(feature, "must be a number", raw))
				continue
			}
			if err := checkNumeric(feature, n); err != nil {
				errs = append(errs, err)
				continue
			}
			out[feature] = n
			continue
		}

		s, ok := raw.(string)
		if !ok {
			errs = append(errs, domain.NewValidationError(feature, "must be a string", raw))
			continue
		}
		s = strings.TrimSpace(s)
		if allowed, known := categoricalValues[feature]; known && !contains(allowed, s) {
			errs = append(errs, domain.NewValidationError(feature,
				fmt.Sprintf("must be one of %s", strings.Join(allowed, ", ")), raw))
			continue
		}
		out[feature] = s
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

func checkNumeric(feature string, n float64) *domain.ValidationError {
	switch feature {
	case analysis.FeatureAge:
		if n <= 0 || n > 120 {
			return domain.NewValidationError(feature, "must be in (0, 120]", n)
		}
	case analysis.FeatureFastingBS:
		if n != 0 && n != 1 {
			return domain.NewValidationError(feature, "must be 0 or 1", n)
		}
	}
	return nil
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// CategoricalValues returns the accepted values per categorical feature.
func CategoricalValues() map[string][]string {
	out := make(map[string][]string, len(categoricalValues))
	for k, v := range categoricalValues {
		out[k] = append([]string(nil), v...)
	}
	return out
}
