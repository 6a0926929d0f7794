package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/heartrisk-server/internal/analysis"
	"github.com/heartrisk-server/internal/domain"
	"github.com/heartrisk-server/internal/history"
	"github.com/heartrisk-server/internal/prediction"
	"github.com/heartrisk-server/internal/reference"
)

// Assessment is the response to one submission.
type Assessment struct {
	Result              *domain.PredictionResult      `json:"result"`
	RecordID            string                        `json:"record_id"`
	Deviations          []analysis.FeatureDeviation   `json:"deviations"`
	ContributingFactors []analysis.ContributingFactor `json:"contributing_factors"`
	AbnormalFlags       map[string]bool               `json:"abnormal_flags,omitempty"`
	Suggestions         []string                      `json:"suggestions"`
}

// AssessmentService validates a submission, obtains its prediction, records
// it and explains it against the healthy baseline.
type AssessmentService struct {
	ref        *reference.Reference
	validator  *InputValidator
	predictor  prediction.Predictor
	store      history.Store
	analyzer   *analysis.ContributionAnalyzer
	classifier *analysis.Classifier
	log        *logrus.Logger
	now        func() time.Time
}

// NewAssessmentService wires the assessment pipeline. store may be nil, in
// which case results are not persisted.
func NewAssessmentService(ref *reference.Reference, predictor prediction.Predictor, store history.Store, logger *logrus.Logger) (*AssessmentService, error) {
	if ref == nil {
		return nil, fmt.Errorf("reference data is required")
	}
	if predictor == nil {
		return nil, fmt.Errorf("predictor is required")
	}
	table, err := ref.RangeTable()
	if err != nil {
		return nil, fmt.Errorf("building range table: %w", err)
	}

	return &AssessmentService{
		ref:        ref,
		validator:  NewInputValidator(ref),
		predictor:  predictor,
		store:      store,
		analyzer:   analysis.NewContributionAnalyzer(ref.FeatureSet()),
		classifier: analysis.NewClassifier(table),
		log:        logger,
		now:        time.Now,
	}, nil
}

// Assess runs the full pipeline for one submission. Validation failures are
// returned as domain.ValidationErrors; prediction failures wrap
// domain.ErrPredictionUnavailable. A failure to persist the record is logged
// and the assessment is returned with an empty RecordID.
func (s *AssessmentService) Assess(ctx context.Context, input map[string]any) (*Assessment, error) {
	values, err := s.validator.Validate(input)
	if err != nil {
		return nil, err
	}

	p, err := s.predictor.Predict(ctx, values)
	if err != nil {
		return nil, fmt.Errorf("predicting risk: %w", err)
	}

	result := &domain.PredictionResult{
		Prediction: p.Risk,
		Confidence: p.Confidence,
		Features:   s.ref.FeatureList(),
		Input:      values,
		Baseline:   s.ref.BaselineValues(),
	}

	assessment := &Assessment{
		Result:              result,
		Deviations:          []analysis.FeatureDeviation{},
		ContributingFactors: []analysis.ContributingFactor{},
		Suggestions:         domain.Suggestions(result.Prediction),
	}
	if result.Prediction.IsHigh() {
		a := s.analyzer.Analyze(result)
		assessment.Deviations = a.Deviations
		assessment.ContributingFactors = a.ContributingFactors
		assessment.AbnormalFlags = AbnormalFlags(s.classifier, result.Prediction, result.Features, result.Input)
	}

	if s.store != nil {
		record := domain.NewHistoryRecord("", result, s.now())
		if err := s.store.Save(ctx, record); err != nil {
			s.log.WithError(err).Error("Failed to persist prediction")
		} else {
			assessment.RecordID = record.ID
			s.log.WithFields(logrus.Fields(record.LogFields())).Info("Prediction recorded")
		}
	}

	return assessment, nil
}

// Analyze computes deviations and rounded contributing factors for an
// already materialized result, regardless of its risk level.
func (s *AssessmentService) Analyze(result *domain.PredictionResult) analysis.Analysis {
	return s.analyzer.Analyze(result)
}

// CheckAbnormal classifies a single value against its normal range.
func (s *AssessmentService) CheckAbnormal(feature string, value any) (bool, analysis.Status) {
	status := s.classifier.Classify(feature, value)
	return status == analysis.StatusAbnormal, status
}

// Classifier returns the abnormality classifier in use.
func (s *AssessmentService) Classifier() *analysis.Classifier {
	return s.classifier
}

// Reference returns the reference data in use.
func (s *AssessmentService) Reference() *reference.Reference {
	return s.ref
}

// AbnormalFlags returns the abnormal flag of every feature a record lists.
// A listed feature missing from input, or one without a normal range, is
// flagged false. Records that list no features fall back to the ranged
// features present in input. Flags are only produced for HighRisk
// predictions; any other level yields nil.
func AbnormalFlags(classifier *analysis.Classifier, risk domain.RiskLevel, features []string, input map[string]any) map[string]bool {
	if classifier == nil || !risk.IsHigh() {
		return nil
	}
	if len(features) == 0 {
		for _, feature := range classifier.Table().Features() {
			if _, ok := input[feature]; ok {
				features = append(features, feature)
			}
		}
	}
	flags := make(map[string]bool, len(features))
	for _, feature := range features {
		flags[feature] = classifier.IsAbnormal(feature, input[feature])
	}
	return flags
}
