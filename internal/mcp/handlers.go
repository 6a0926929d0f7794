package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/heartrisk-server/internal/analysis"
	"github.com/heartrisk-server/internal/domain"
	"github.com/heartrisk-server/internal/service"
)

// AnalyzeContributionsParams defines parameters for analyze_contributions tool
type AnalyzeContributionsParams struct {
	Input    map[string]any `json:"input"`
	Baseline map[string]any `json:"baseline,omitempty"`
}

// CheckAbnormalParams defines parameters for check_abnormal tool
type CheckAbnormalParams struct {
	Feature string `json:"feature"`
	Value   any    `json:"value"`
}

// CheckAbnormalResult defines the result structure for check_abnormal tool
type CheckAbnormalResult struct {
	Feature  string          `json:"feature"`
	Value    any             `json:"value"`
	Abnormal bool            `json:"abnormal"`
	Status   analysis.Status `json:"status"`
	Range    *analysis.Range `json:"range,omitempty"`
}

// FlagRecordParams defines parameters for flag_record tool
type FlagRecordParams struct {
	Prediction string         `json:"prediction"`
	Features   []string       `json:"features,omitempty"`
	Input      map[string]any `json:"input"`
}

// FlagRecordResult defines the result structure for flag_record tool
type FlagRecordResult struct {
	Prediction    domain.RiskLevel `json:"prediction"`
	AbnormalFlags map[string]bool  `json:"abnormal_flags"`
}

// GetReferenceParams defines parameters for get_reference tool
type GetReferenceParams struct{}

// ListHistoryParams defines parameters for list_history tool
type ListHistoryParams struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func (s *Server) handleAnalyzeContributions(ctx context.Context, req *mcp.CallToolRequest, params AnalyzeContributionsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolAnalyzeContributions).Info("Tool invoked")

	if len(params.Input) == 0 {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("input is required")), nil, nil
	}
	baseline := params.Baseline
	if len(baseline) == 0 {
		baseline = s.ref.BaselineValues()
	}

	result := s.analyzer.Analyze(analysis.Pair{Input: params.Input, Baseline: baseline})
	return s.createJSONResult(result)
}

func (s *Server) handleCheckAbnormal(ctx context.Context, req *mcp.CallToolRequest, params CheckAbnormalParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolCheckAbnormal).Info("Tool invoked")

	if params.Feature == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("feature is required")), nil, nil
	}

	status := s.classifier.Classify(params.Feature, params.Value)
	result := CheckAbnormalResult{
		Feature:  params.Feature,
		Value:    params.Value,
		Abnormal: status == analysis.StatusAbnormal,
		Status:   status,
	}
	if r, ok := s.classifier.Table().Lookup(params.Feature); ok {
		result.Range = &r
	}
	return s.createJSONResult(result)
}

func (s *Server) handleFlagRecord(ctx context.Context, req *mcp.CallToolRequest, params FlagRecordParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolFlagRecord).Info("Tool invoked")

	risk, err := domain.ParseRiskLevel(params.Prediction)
	if err != nil {
		return s.createErrorResult("Invalid prediction", err), nil, nil
	}

	flags := service.AbnormalFlags(s.classifier, risk, params.Features, params.Input)
	if flags == nil {
		flags = map[string]bool{}
	}
	return s.createJSONResult(FlagRecordResult{Prediction: risk, AbnormalFlags: flags})
}

func (s *Server) handleGetReference(ctx context.Context, req *mcp.CallToolRequest, params GetReferenceParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolGetReference).Debug("Tool invoked")
	return s.createJSONResult(s.ref)
}

func (s *Server) handleListHistory(ctx context.Context, req *mcp.CallToolRequest, params ListHistoryParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolListHistory).Info("Tool invoked")

	page, err := s.history.List(ctx, params.Limit, params.Offset)
	if err != nil {
		return s.createErrorResult("Failed to list history", err), nil, nil
	}
	return s.createJSONResult(page)
}

// createJSONResult renders v as the tool's text content and returns it as
// the structured result.
func (s *Server) createJSONResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return s.createErrorResult("Failed to encode result", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, v, nil
}

// createErrorResult creates an error result for tool calls
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
