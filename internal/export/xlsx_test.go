package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/heartrisk-server/internal/analysis"
	"github.com/heartrisk-server/internal/domain"
)

func openWorkbook(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestHistoryWorkbook(t *testing.T) {
	created := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	records := []*domain.HistoryRecord{
		{
			ID:         "high-1",
			Prediction: domain.HighRisk,
			Confidence: 0.82,
			Input:      map[string]any{"Age": float64(45), "Cholesterol": float64(289), "Sex": "M"},
			CreatedAt:  created,
		},
		{
			ID:         "low-1",
			Prediction: domain.LowRisk,
			Confidence: 0.7,
			Input:      map[string]any{"Age": float64(45), "Cholesterol": float64(289)},
			CreatedAt:  created.Add(-time.Hour),
		},
	}
	features := []string{"Age", "Cholesterol", "Sex"}
	classifier := analysis.NewClassifier(analysis.DefaultRangeTable())

	data, err := HistoryWorkbook(records, features, classifier)
	require.NoError(t, err)

	f := openWorkbook(t, data)
	assert.Equal(t, []string{SheetName}, f.GetSheetList())

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"ID", "Created At", "Prediction", "Confidence", "Age", "Cholesterol", "Sex"}, rows[0])
	assert.Equal(t, "high-1", rows[1][0])
	assert.Equal(t, "2026-05-04T10:30:00Z", rows[1][1])
	assert.Equal(t, "High Risk", rows[1][2])
	assert.Equal(t, "289", rows[1][5])
	assert.Equal(t, "M", rows[1][6])
	assert.Equal(t, "Low Risk", rows[2][2])

	abnormal, err := f.GetCellStyle(SheetName, "F2")
	require.NoError(t, err)
	normal, err := f.GetCellStyle(SheetName, "E2")
	require.NoError(t, err)
	lowRisk, err := f.GetCellStyle(SheetName, "F3")
	require.NoError(t, err)

	assert.NotZero(t, abnormal, "abnormal value on a HighRisk record is highlighted")
	assert.Zero(t, normal)
	assert.Zero(t, lowRisk, "LowRisk records are never highlighted")
}

func TestHistoryWorkbook_Empty(t *testing.T) {
	data, err := HistoryWorkbook(nil, []string{"Age"}, nil)
	require.NoError(t, err)

	f := openWorkbook(t, data)
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"ID", "Created At", "Prediction", "Confidence", "Age"}, rows[0])
}
