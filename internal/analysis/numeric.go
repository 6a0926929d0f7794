package analysis

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// leadingNumber matches a decimal literal at the start of a string.
var leadingNumber = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`)

// ParseNumber converts a raw feature value into a float64.
// It accepts Go numeric types, json.Number and numeric strings (surrounding
// whitespace ignored). The boolean result is false for missing, non-numeric,
// NaN or infinite values.
func ParseNumber(raw any) (float64, bool) {
	var v float64

	switch x := raw.(type) {
	case nil:
		return 0, false
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int32:
		v = float64(x)
	case int64:
		v = float64(x)
	case uint:
		v = float64(x)
	case uint32:
		v = float64(x)
	case uint64:
		v = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseLeadingNumber is the lenient form of ParseNumber used by the
// deviation analysis: a string yields the number it starts with, so
// "150 mmHg" reads as 150. Non-string values are handled by ParseNumber.
func ParseLeadingNumber(raw any) (float64, bool) {
	if v, ok := ParseNumber(raw); ok {
		return v, true
	}
	s, ok := raw.(string)
	if !ok {
		return 0, false
	}
	m := leadingNumber.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	return ParseNumber(m)
}

// roundTo rounds v to the given number of decimal places, half away from zero.
func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
