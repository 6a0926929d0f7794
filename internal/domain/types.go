// Package domain contains the core entities of the heart-risk assessment
// service: prediction results, history records, configuration and errors.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// RiskLevel is the binary outcome produced by the prediction service.
type RiskLevel string

const (
	HighRisk RiskLevel = "High Risk"
	LowRisk  RiskLevel = "Low Risk"
)

// Sentinel errors shared across packages.
var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidRiskLevel      = errors.New("invalid risk level")
	ErrInvalidConfidence     = errors.New("confidence must be within [0, 1]")
	ErrPredictionUnavailable = errors.New("prediction service unavailable")
)

// IsValid reports whether r is one of the known risk levels.
func (r RiskLevel) IsValid() bool {
	switch r {
	case HighRisk, LowRisk:
		return true
	default:
		return false
	}
}

// IsHigh reports whether r is HighRisk.
func (r RiskLevel) IsHigh() bool {
	return r == HighRisk
}

// String returns the string representation of the risk level.
func (r RiskLevel) String() string {
	return string(r)
}

// ParseRiskLevel validates s as a risk level.
func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(s)
	if !r.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRiskLevel, s)
	}
	return r, nil
}

// PredictionResult is the outcome of one submission: the prediction, the
// submitted values and the healthy baseline they were compared to.
type PredictionResult struct {
	Prediction RiskLevel      `json:"prediction"`
	Confidence float64        `json:"confidence"`
	Features   []string       `json:"features"`
	Input      map[string]any `json:"input"`
	Baseline   map[string]any `json:"baseline"`
}

// UserValues returns the submitted values.
func (r *PredictionResult) UserValues() map[string]any {
	if r == nil {
		return nil
	}
	return r.Input
}

// BaselineValues returns the healthy baseline.
func (r *PredictionResult) BaselineValues() map[string]any {
	if r == nil {
		return nil
	}
	return r.Baseline
}

// Validate checks the prediction and confidence fields.
func (r *PredictionResult) Validate() error {
	if !r.Prediction.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRiskLevel, r.Prediction)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: got %g", ErrInvalidConfidence, r.Confidence)
	}
	return nil
}

// HistoryRecord is a persisted prediction. Records are created once and
// never updated; they are removed only by explicit deletion.
type HistoryRecord struct {
	ID         string         `json:"id"`
	Prediction RiskLevel      `json:"prediction"`
	Confidence float64        `json:"confidence"`
	Features   []string       `json:"features"`
	Input      map[string]any `json:"input"`
	Baseline   map[string]any `json:"baseline,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewHistoryRecord snapshots a prediction result as a history record.
func NewHistoryRecord(id string, result *PredictionResult, createdAt time.Time) *HistoryRecord {
	return &HistoryRecord{
		ID:         id,
		Prediction: result.Prediction,
		Confidence: result.Confidence,
		Features:   append([]string(nil), result.Features...),
		Input:      cloneValues(result.Input),
		Baseline:   cloneValues(result.Baseline),
		CreatedAt:  createdAt.UTC(),
	}
}

// Result returns the record as a prediction result.
func (h *HistoryRecord) Result() *PredictionResult {
	return &PredictionResult{
		Prediction: h.Prediction,
		Confidence: h.Confidence,
		Features:   h.Features,
		Input:      h.Input,
		Baseline:   h.Baseline,
	}
}

// LogFields returns structured logging fields for the record.
func (h *HistoryRecord) LogFields() map[string]any {
	return map[string]any{
		"record_id":  h.ID,
		"prediction": h.Prediction.String(),
		"confidence": h.Confidence,
		"features":   len(h.Features),
	}
}

func cloneValues(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var (
	highRiskSuggestions = []string{
		"Consider further evaluation.",
		"Adopt a heart-healthy diet low in saturated fats and cholesterol.",
		"Increase regular physical activity (with doctor's approval).",
		"Manage stress and monitor blood pressure regularly.",
	}
	lowRiskSuggestions = []string{
		"Maintain your current healthy lifestyle.",
		"Continue regular check-ups and preventive screenings.",
		"Stay physically active and eat a balanced diet.",
		"Monitor blood pressure, cholesterol, and blood sugar annually.",
	}
)

// Suggestions returns the lifestyle guidance shown alongside a prediction.
func Suggestions(r RiskLevel) []string {
	if r.IsHigh() {
		return append([]string(nil), highRiskSuggestions...)
	}
	return append([]string(nil), lowRiskSuggestions...)
}
