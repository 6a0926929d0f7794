package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartrisk-server/internal/analysis"
	"github.com/heartrisk-server/internal/domain"
	"github.com/heartrisk-server/internal/history"
	"github.com/heartrisk-server/internal/reference"
	"github.com/heartrisk-server/internal/service"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	server, err := NewServer(domain.MCPConfig{}, reference.Default(), nil, testLogger())
	require.NoError(t, err)
	return server
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewServer(t *testing.T) {
	server := newTestServer(t)

	assert.NotNil(t, server.mcpServer)
	assert.Equal(t, []string{
		ToolAnalyzeContributions,
		ToolCheckAbnormal,
		ToolFlagRecord,
		ToolGetReference,
	}, server.Tools())
}

func TestNewServer_RequiresReference(t *testing.T) {
	_, err := NewServer(domain.MCPConfig{}, nil, nil, testLogger())
	assert.Error(t, err)
}

func TestNewServer_InvalidRanges(t *testing.T) {
	ref := reference.Default()
	ref.Ranges = map[string]analysis.Range{"Age": {Min: 60, Max: 20}}

	_, err := NewServer(domain.MCPConfig{}, ref, nil, testLogger())
	assert.Error(t, err)
}

func TestHandleAnalyzeContributions(t *testing.T) {
	server := newTestServer(t)

	params := AnalyzeContributionsParams{
		Input: map[string]any{
			"Age":         40,
			"RestingBP":   120,
			"Cholesterol": "210",
			"MaxHR":       140,
			"Oldpeak":     0,
			"FastingBS":   0,
		},
	}
	result, out, err := server.handleAnalyzeContributions(context.Background(), nil, params)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	a, ok := out.(analysis.Analysis)
	require.True(t, ok)
	assert.InDelta(t, 40.0, a.TotalDeviation, 1e-9)
	require.Len(t, a.ContributingFactors, analysis.MaxContributingFactors)
	assert.Equal(t, analysis.ContributingFactor{Feature: "Cholesterol", Percentage: 75}, a.ContributingFactors[0])
	assert.Equal(t, analysis.ContributingFactor{Feature: "Age", Percentage: 25}, a.ContributingFactors[1])

	var decoded analysis.Analysis
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &decoded))
	assert.Equal(t, a.ContributingFactors, decoded.ContributingFactors)
}

func TestHandleAnalyzeContributions_CustomBaseline(t *testing.T) {
	server := newTestServer(t)

	params := AnalyzeContributionsParams{
		Input:    map[string]any{"Age": 50, "RestingBP": 130},
		Baseline: map[string]any{"Age": 50, "RestingBP": 120},
	}
	_, out, err := server.handleAnalyzeContributions(context.Background(), nil, params)
	require.NoError(t, err)

	a := out.(analysis.Analysis)
	assert.InDelta(t, 10.0, a.TotalDeviation, 1e-9)
	assert.Equal(t, "RestingBP", a.ContributingFactors[0].Feature)
	assert.Equal(t, 100.0, a.ContributingFactors[0].Percentage)
}

func TestHandleAnalyzeContributions_MissingInput(t *testing.T) {
	server := newTestServer(t)

	result, out, err := server.handleAnalyzeContributions(context.Background(), nil, AnalyzeContributionsParams{})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "input is required")
}

func TestHandleCheckAbnormal(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name      string
		params    CheckAbnormalParams
		abnormal  bool
		status    analysis.Status
		withRange bool
	}{
		{"above range", CheckAbnormalParams{Feature: "Cholesterol", Value: 289}, true, analysis.StatusAbnormal, true},
		{"upper bound", CheckAbnormalParams{Feature: "Cholesterol", Value: 200}, false, analysis.StatusNormal, true},
		{"numeric string", CheckAbnormalParams{Feature: "Age", Value: "61"}, true, analysis.StatusAbnormal, true},
		{"not numeric", CheckAbnormalParams{Feature: "Age", Value: "old"}, false, analysis.StatusUnknown, true},
		{"no range", CheckAbnormalParams{Feature: "Sex", Value: "M"}, false, analysis.StatusNoRange, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, out, err := server.handleCheckAbnormal(context.Background(), nil, tt.params)
			require.NoError(t, err)
			assert.False(t, result.IsError)

			res, ok := out.(CheckAbnormalResult)
			require.True(t, ok)
			assert.Equal(t, tt.abnormal, res.Abnormal)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.withRange, res.Range != nil)
		})
	}
}

func TestHandleCheckAbnormal_MissingFeature(t *testing.T) {
	server := newTestServer(t)

	result, _, err := server.handleCheckAbnormal(context.Background(), nil, CheckAbnormalParams{Value: 1})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleFlagRecord(t *testing.T) {
	server := newTestServer(t)
	input := map[string]any{"Age": 55, "RestingBP": 150, "Cholesterol": 195, "Sex": "M"}

	_, out, err := server.handleFlagRecord(context.Background(), nil, FlagRecordParams{
		Prediction: string(domain.HighRisk),
		Input:      input,
	})
	require.NoError(t, err)
	res := out.(FlagRecordResult)
	assert.Equal(t, domain.HighRisk, res.Prediction)
	assert.Equal(t, map[string]bool{"Age": false, "RestingBP": true, "Cholesterol": false}, res.AbnormalFlags)

	_, out, err = server.handleFlagRecord(context.Background(), nil, FlagRecordParams{
		Prediction: string(domain.LowRisk),
		Input:      input,
	})
	require.NoError(t, err)
	assert.Empty(t, out.(FlagRecordResult).AbnormalFlags)
}

func TestHandleFlagRecord_ListedFeatures(t *testing.T) {
	server := newTestServer(t)

	_, out, err := server.handleFlagRecord(context.Background(), nil, FlagRecordParams{
		Prediction: string(domain.HighRisk),
		Features:   []string{"RestingBP", "MaxHR"},
		Input:      map[string]any{"RestingBP": 150, "Cholesterol": 300},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"RestingBP": true, "MaxHR": false}, out.(FlagRecordResult).AbnormalFlags)
}

func TestHandleFlagRecord_InvalidPrediction(t *testing.T) {
	server := newTestServer(t)

	result, _, err := server.handleFlagRecord(context.Background(), nil, FlagRecordParams{Prediction: "Medium"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "invalid risk level")
}

func TestHandleGetReference(t *testing.T) {
	server := newTestServer(t)

	result, _, err := server.handleGetReference(context.Background(), nil, GetReferenceParams{})
	require.NoError(t, err)

	var ref reference.Reference
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &ref))
	assert.Equal(t, reference.Default().Features, ref.Features)
	assert.Equal(t, analysis.Range{Min: 125, Max: 200}, ref.Ranges["Cholesterol"])
}

func TestHandleListHistory(t *testing.T) {
	store, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Save(context.Background(), &domain.HistoryRecord{
		ID:         "rec-1",
		Prediction: domain.HighRisk,
		Confidence: 0.8,
		Input:      map[string]any{"Age": 65.0},
		CreatedAt:  time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC),
	}))

	ref := reference.Default()
	historySvc, err := service.NewHistoryService(store, ref, testLogger())
	require.NoError(t, err)
	server, err := NewServer(domain.MCPConfig{ServerName: "test"}, ref, historySvc, testLogger())
	require.NoError(t, err)
	assert.Contains(t, server.Tools(), ToolListHistory)

	_, out, err := server.handleListHistory(context.Background(), nil, ListHistoryParams{Limit: 10})
	require.NoError(t, err)

	page, ok := out.(*service.HistoryPage)
	require.True(t, ok)
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "rec-1", page.Records[0].ID)
	assert.Equal(t, map[string]bool{"Age": true}, page.Records[0].AbnormalFlags)
}
