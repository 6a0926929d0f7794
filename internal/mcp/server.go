// Package mcp exposes the deviation and abnormality analysis as Model Context
// Protocol tools served over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/heartrisk-server/internal/analysis"
	"github.com/heartrisk-server/internal/domain"
	"github.com/heartrisk-server/internal/reference"
	"github.com/heartrisk-server/internal/service"
)

// Tool names.
const (
	ToolAnalyzeContributions = "analyze_contributions"
	ToolCheckAbnormal        = "check_abnormal"
	ToolFlagRecord           = "flag_record"
	ToolGetReference         = "get_reference"
	ToolListHistory          = "list_history"
)

// Server represents the heart-risk MCP server.
type Server struct {
	mcpServer  *mcp.Server
	ref        *reference.Reference
	analyzer   *analysis.ContributionAnalyzer
	classifier *analysis.Classifier
	history    *service.HistoryService
	tools      []string
	logger     *logrus.Logger
}

// NewServer creates a new MCP server. history may be nil, in which case the
// list_history tool is not registered.
func NewServer(cfg domain.MCPConfig, ref *reference.Reference, history *service.HistoryService, logger *logrus.Logger) (*Server, error) {
	if ref == nil {
		return nil, fmt.Errorf("reference data is required")
	}
	table, err := ref.RangeTable()
	if err != nil {
		return nil, fmt.Errorf("building range table: %w", err)
	}

	name := cfg.ServerName
	if name == "" {
		name = "heartrisk-analysis"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "v0.1.0"
	}

	// Create MCP server
	mcpServer := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)

	server := &Server{
		mcpServer:  mcpServer,
		ref:        ref,
		analyzer:   analysis.NewContributionAnalyzer(ref.FeatureSet()),
		classifier: analysis.NewClassifier(table),
		history:    history,
		logger:     logger,
	}
	server.registerTools()

	logger.WithFields(logrus.Fields{
		"server_name": name,
		"tool_count":  len(server.tools),
	}).Info("MCP server initialized")
	return server, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolAnalyzeContributions,
		Description: "Compare a submission with the healthy baseline and rank the features contributing most to the deviation",
	}, s.handleAnalyzeContributions)
	s.tools = append(s.tools, ToolAnalyzeContributions)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolCheckAbnormal,
		Description: "Check whether a single clinical value lies outside its normal range",
	}, s.handleCheckAbnormal)
	s.tools = append(s.tools, ToolCheckAbnormal)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolFlagRecord,
		Description: "Flag the abnormal values of a recorded prediction (high risk records only)",
	}, s.handleFlagRecord)
	s.tools = append(s.tools, ToolFlagRecord)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolGetReference,
		Description: "Return the healthy baseline and normal ranges in use",
	}, s.handleGetReference)
	s.tools = append(s.tools, ToolGetReference)

	if s.history != nil {
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        ToolListHistory,
			Description: "List recorded predictions, newest first, with abnormal flags",
		}, s.handleListHistory)
		s.tools = append(s.tools, ToolListHistory)
	}
}

// Tools returns the names of the registered tools in registration order.
func (s *Server) Tools() []string {
	return append([]string(nil), s.tools...)
}

// Run serves the tools over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting heart-risk MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
