package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAbnormal_DefaultTable(t *testing.T) {
	classifier := NewClassifier(DefaultRangeTable())

	tests := []struct {
		name    string
		feature string
		value   any
		want    bool
	}{
		{"cholesterol upper bound inclusive", "Cholesterol", 200, false},
		{"cholesterol above range", "Cholesterol", 201, true},
		{"cholesterol lower bound inclusive", "Cholesterol", 125, false},
		{"cholesterol below range", "Cholesterol", 124.9, true},
		{"unknown feature", "UnknownFeature", 9999, false},
		{"fasting bs zero", "FastingBS", 0, false},
		{"fasting bs one", "FastingBS", 1, true},
		{"oldpeak numeric string", "Oldpeak", "2.5", true},
		{"age in range", "Age", 45, false},
		{"age json number", "Age", json.Number("61"), true},
		{"max hr low", "MaxHR", 99, true},
		{"resting bp high", "RestingBP", 121.0, true},
		{"non-numeric value", "Cholesterol", "high", false},
		{"empty string", "Cholesterol", "", false},
		{"nil value", "Cholesterol", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifier.IsAbnormal(tt.feature, tt.value))
		})
	}
}

func TestClassify_Statuses(t *testing.T) {
	classifier := NewClassifier(DefaultRangeTable())

	assert.Equal(t, StatusNormal, classifier.Classify("Cholesterol", 200))
	assert.Equal(t, StatusAbnormal, classifier.Classify("Cholesterol", 201))
	assert.Equal(t, StatusUnknown, classifier.Classify("Cholesterol", "abc"))
	assert.Equal(t, StatusNoRange, classifier.Classify("Sex", "M"))
}

func TestClassifier_AlternateTable(t *testing.T) {
	table, err := NewRangeTable(map[string]Range{
		"Cholesterol": {Min: 100, Max: 240},
		"Glucose":     {Min: 70, Max: 99},
	})
	require.NoError(t, err)
	classifier := NewClassifier(table)

	assert.False(t, classifier.IsAbnormal("Cholesterol", 220))
	assert.True(t, classifier.IsAbnormal("Glucose", 126))
	assert.False(t, classifier.IsAbnormal("Age", 95), "feature missing from the alternate table")
}

func TestNewRangeTable_RejectsInvertedRange(t *testing.T) {
	_, err := NewRangeTable(map[string]Range{"Age": {Min: 60, Max: 20}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Age")
}

func TestRangeTable_IsolatedFromSource(t *testing.T) {
	src := map[string]Range{"Age": {Min: 20, Max: 60}}
	table, err := NewRangeTable(src)
	require.NoError(t, err)

	src["Age"] = Range{Min: 0, Max: 1}
	copied := table.Map()
	copied["Age"] = Range{Min: 0, Max: 1}

	r, ok := table.Lookup("Age")
	require.True(t, ok)
	assert.Equal(t, Range{Min: 20, Max: 60}, r)
}

func TestRangeTable_Features(t *testing.T) {
	table := DefaultRangeTable()

	assert.Equal(t, 6, table.Len())
	assert.Equal(t, []string{"Age", "Cholesterol", "FastingBS", "MaxHR", "Oldpeak", "RestingBP"}, table.Features())

	var empty RangeTable
	_, ok := empty.Lookup("Age")
	assert.False(t, ok)
	assert.False(t, NewClassifier(empty).IsAbnormal("Age", 500))
}

func TestFlagValues(t *testing.T) {
	classifier := NewClassifier(DefaultRangeTable())

	flags := classifier.FlagValues(Values{
		"Age":         70,
		"Cholesterol": 180,
		"Sex":         "M",
		"Oldpeak":     "bad",
	})

	assert.Equal(t, map[string]bool{
		"Age":         true,
		"Cholesterol": false,
		"Sex":         false,
		"Oldpeak":     false,
	}, flags)
}

func TestRange_String(t *testing.T) {
	assert.Equal(t, "[125, 200]", Range{Min: 125, Max: 200}.String())
	assert.Equal(t, "[0, 2.5]", Range{Min: 0, Max: 2.5}.String())
}
