package analysis

import (
	"math"
	"sort"
)

// MaxContributingFactors caps the length of a ranking.
const MaxContributingFactors = 5

// percentagePrecision is the number of decimals kept by RoundPercentages.
const percentagePrecision = 1

// Comparison is anything that carries a user's values together with the
// healthy baseline they are measured against.
type Comparison interface {
	UserValues() Values
	BaselineValues() Values
}

// Pair is the minimal Comparison: two value maps.
type Pair struct {
	Input    Values `json:"input"`
	Baseline Values `json:"baseline"`
}

// UserValues implements Comparison.
func (p Pair) UserValues() Values { return p.Input }

// BaselineValues implements Comparison.
func (p Pair) BaselineValues() Values { return p.Baseline }

// FeatureDeviation is the distance between a user value and its baseline.
type FeatureDeviation struct {
	Feature       string  `json:"feature"`
	UserValue     float64 `json:"user_value"`
	BaselineValue float64 `json:"baseline_value"`
	AbsoluteDiff  float64 `json:"absolute_diff"`
}

// ContributingFactor is a feature's share of the total deviation, in percent.
type ContributingFactor struct {
	Feature    string  `json:"feature"`
	Percentage float64 `json:"percentage"`
}

// Analysis bundles the output of ContributionAnalyzer.Analyze.
type Analysis struct {
	Deviations          []FeatureDeviation   `json:"deviations"`
	TotalDeviation      float64              `json:"total_deviation"`
	ContributingFactors []ContributingFactor `json:"contributing_factors"`
}

// ContributionAnalyzer measures how far a result strays from its baseline and
// which features account for most of that distance.
type ContributionAnalyzer struct {
	features FeatureSet
}

// NewContributionAnalyzer returns an analyzer over the given features.
// An empty set selects DefaultFeatures.
func NewContributionAnalyzer(features FeatureSet) *ContributionAnalyzer {
	if len(features) == 0 {
		features = DefaultFeatures()
	}
	owned := make(FeatureSet, len(features))
	copy(owned, features)
	return &ContributionAnalyzer{features: owned}
}

// Features returns a copy of the analyzed feature set.
func (a *ContributionAnalyzer) Features() FeatureSet {
	out := make(FeatureSet, len(a.features))
	copy(out, a.features)
	return out
}

// ComputeDeviations returns one deviation per configured feature, in feature
// order. Missing or unparsable values count as 0.
func (a *ContributionAnalyzer) ComputeDeviations(c Comparison) []FeatureDeviation {
	var input, baseline Values
	if c != nil {
		input = c.UserValues()
		baseline = c.BaselineValues()
	}

	deviations := make([]FeatureDeviation, len(a.features))
	for i, f := range a.features {
		user := f.valueOf(input)
		base := f.valueOf(baseline)
		deviations[i] = FeatureDeviation{
			Feature:       f.Name,
			UserValue:     user,
			BaselineValue: base,
			AbsoluteDiff:  math.Abs(user - base),
		}
	}
	return deviations
}

// RankContributingFactors ranks deviations produced by ComputeDeviations.
func (a *ContributionAnalyzer) RankContributingFactors(deviations []FeatureDeviation) []ContributingFactor {
	return RankContributingFactors(deviations)
}

// Analyze computes deviations and the display ranking in one call. See
// RankRounded for how displayed ties are ordered.
func (a *ContributionAnalyzer) Analyze(c Comparison) Analysis {
	deviations := a.ComputeDeviations(c)
	return Analysis{
		Deviations:          deviations,
		TotalDeviation:      TotalDeviation(deviations),
		ContributingFactors: RankRounded(deviations),
	}
}

// TotalDeviation sums the absolute differences.
func TotalDeviation(deviations []FeatureDeviation) float64 {
	var total float64
	for _, d := range deviations {
		total += math.Abs(d.AbsoluteDiff)
	}
	return total
}

// RankContributingFactors converts deviations into percentage shares of the
// total, sorted in descending order and truncated to MaxContributingFactors.
// Equal shares keep their input order. When the total is zero every share is
// zero. Percentages are not rounded; see RoundPercentages.
func RankContributingFactors(deviations []FeatureDeviation) []ContributingFactor {
	return rank(shares(deviations))
}

// RankRounded is the display ranking: shares are rounded to one decimal
// first, then sorted and truncated, so features whose rounded shares are
// equal appear in feature order.
func RankRounded(deviations []FeatureDeviation) []ContributingFactor {
	return rank(RoundPercentages(shares(deviations)))
}

// shares returns each deviation's percentage of the total, in input order.
func shares(deviations []FeatureDeviation) []ContributingFactor {
	total := TotalDeviation(deviations)

	factors := make([]ContributingFactor, len(deviations))
	for i, d := range deviations {
		var pct float64
		if total > 0 {
			pct = math.Abs(d.AbsoluteDiff) / total * 100
		}
		factors[i] = ContributingFactor{Feature: d.Feature, Percentage: pct}
	}
	return factors
}

// rank sorts factors in place by descending share, keeping input order for
// equal shares, and truncates to MaxContributingFactors.
func rank(factors []ContributingFactor) []ContributingFactor {
	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Percentage > factors[j].Percentage
	})

	if len(factors) > MaxContributingFactors {
		factors = factors[:MaxContributingFactors]
	}
	return factors
}

// RoundPercentages returns a copy of factors with each percentage rounded to
// one decimal place for display.
func RoundPercentages(factors []ContributingFactor) []ContributingFactor {
	out := make([]ContributingFactor, len(factors))
	for i, f := range factors {
		out[i] = ContributingFactor{
			Feature:    f.Feature,
			Percentage: roundTo(f.Percentage, percentagePrecision),
		}
	}
	return out
}
