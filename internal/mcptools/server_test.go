package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-authlens/internal/models"
)

type stubService struct {
	data json.RawMessage
	err  error
	got  models.Category
}

func (s *stubService) Category(ctx context.Context, category models.Category) (json.RawMessage, error) {
	s.got = category
	return s.data, s.err
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func call(name string) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name}}
}

func TestToolNames(t *testing.T) {
	assert.Equal(t, "analytics_descriptive", ToolName(models.CategoryDescriptive))
	assert.Equal(t, "analytics_prescriptive", ToolName(models.CategoryPrescriptive))
}

func TestCategoryToolReturnsPayload(t *testing.T) {
	svc := &stubService{data: json.RawMessage(`[{"ipAddress":"1.2.3.4","risk_score":95}]`)}
	srv := NewServer("authlens", "test", svc, nil, nil)

	result, err := srv.categoryHandler(models.CategoryPrescriptive)(context.Background(), call("analytics_prescriptive"))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `[{"ipAddress":"1.2.3.4","risk_score":95}]`, resultText(t, result))
	assert.Equal(t, models.CategoryPrescriptive, svc.got)
}

func TestCategoryToolReportsFailure(t *testing.T) {
	svc := &stubService{err: errors.New("Table not found")}
	srv := NewServer("authlens", "test", svc, nil, nil)

	result, err := srv.categoryHandler(models.CategoryDiagnostic)(context.Background(), call("analytics_diagnostic"))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "Table not found", resultText(t, result))
}

func TestModelsTool(t *testing.T) {
	srv := NewServer("authlens", "test", &stubService{}, models.DefaultModelCatalog(), nil)

	result, err := srv.handleModels(context.Background(), call(toolModels))
	require.NoError(t, err)
	var catalog []models.ModelInfo
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &catalog))
	assert.Len(t, catalog, 2)
}
