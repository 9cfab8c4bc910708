package mcptools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/miradorstack/mirador-authlens/internal/models"
	"github.com/miradorstack/mirador-authlens/internal/utils"
)

const toolModels = "analytics_models"

// CategoryService computes the JSON payload of one analytics category.
type CategoryService interface {
	Category(ctx context.Context, category models.Category) (json.RawMessage, error)
}

var toolDescriptions = map[models.Category]string{
	models.CategoryDescriptive:  "Summary totals, top repeated-failure sources and the last 24 hourly buckets of authentication activity",
	models.CategoryDiagnostic:   "Sources of failures inside hours with a failure spike, with their error codes and log types",
	models.CategoryPredictive:   "Anomalous source IPs from k-means clustering and high-risk (ip, principal) pairs from logistic regression",
	models.CategoryPrescriptive: "Risk-scored remediation actions per (ip, principal), riskiest first",
}

// Server exposes the analytics categories as MCP tools.
type Server struct {
	server  *server.MCPServer
	service CategoryService
	catalog []models.ModelInfo
	logger  *slog.Logger
}

// NewServer registers one tool per category plus the model catalog.
func NewServer(name, version string, service CategoryService, catalog []models.ModelInfo, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		server:  server.NewMCPServer(name, version, server.WithToolCapabilities(true), server.WithRecovery()),
		service: service,
		catalog: catalog,
		logger:  logger,
	}

	for _, category := range models.Categories {
		s.server.AddTool(
			mcp.NewTool(ToolName(category), mcp.WithDescription(toolDescriptions[category])),
			s.categoryHandler(category),
		)
	}
	s.server.AddTool(
		mcp.NewTool(toolModels, mcp.WithDescription("Describe the ML models backing the predictive analytics")),
		s.handleModels,
	)
	return s
}

// ToolName returns the MCP tool name for category.
func ToolName(category models.Category) string {
	return "analytics_" + category.String()
}

// Serve runs the server over stdio until the client disconnects.
func (s *Server) Serve() error {
	s.logger.Info("starting MCP server with stdio transport")
	return server.ServeStdio(s.server)
}

func (s *Server) categoryHandler(category models.Category) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		data, err := s.service.Category(ctx, category)
		if err != nil {
			s.logger.Error("analytics tool failed", slog.String("tool", request.Params.Name), slog.Any("error", err))
			return mcp.NewToolResultError(utils.PublicMessage(err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func (s *Server) handleModels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(s.catalog)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
