package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/revsent/internal/ranking"
	"github.com/kalambet/revsent/internal/sentiment"
	"github.com/kalambet/revsent/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Predictor Predictor     // optional; if nil, predict_sentiment returns an error
	Summaries SummaryReader // optional; if nil, summary tools and resources report no data
	TopN      int
	GapM      int
}

// NewMCPServer creates an MCP server with the revsent tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.TopN <= 0 {
		deps.TopN = ranking.DefaultTopN
	}
	if deps.GapM <= 0 {
		deps.GapM = ranking.DefaultGapM
	}

	s := server.NewMCPServer(
		"revsent",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("revsent scores product review sentiment and reports products whose reviews disagree with their star rating."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("predict_sentiment",
			mcp.WithDescription("Score a review text and return its positive probability and predicted label."),
			mcp.WithString("text", mcp.Description("Review text to score"), mcp.Required()),
		),
		mcpPredictSentiment(deps),
	)

	s.AddTool(
		mcp.NewTool("product_summary",
			mcp.WithDescription("Return the latest aggregated sentiment statistics for one product."),
			mcp.WithString("product_id", mcp.Description("Product identifier (ASIN)"), mcp.Required()),
		),
		mcpProductSummary(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"summary://top-bottom",
			"Top and Bottom Products",
			mcp.WithResourceDescription("Products with the highest and lowest average sentiment in the latest summary run"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTopBottom(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"summary://issues",
			"Perception Gap Issues",
			mcp.WithResourceDescription("Products whose review sentiment diverges most from their star rating"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceIssues(deps),
	)

	return s
}

func mcpPredictSentiment(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcpError("text is required and must not be empty"), nil
		}
		if !modelLoaded(deps.Predictor) {
			return mcpError(errNoModel.Error()), nil
		}

		pred, err := deps.Predictor.Predict(text)
		if errors.Is(err, sentiment.ErrInvalidInput) {
			return mcpError("text is required and must not be empty"), nil
		}
		if err != nil {
			slog.Error("mcp prediction failed", "error", err)
			return mcpError("prediction failed"), nil
		}

		b, err := json.Marshal(pred)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal prediction: %w", err)
		}
		return mcpText(string(b)), nil
	}
}

func mcpProductSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("product_id")
		if err != nil || strings.TrimSpace(id) == "" {
			return mcpError("product_id is required"), nil
		}

		run, p, err := latestProduct(deps.Summaries, strings.TrimSpace(id))
		switch {
		case errors.Is(err, errNoSummary):
			return mcpError(errNoSummary.Error()), nil
		case errors.Is(err, storage.ErrNotFound):
			return mcpError(fmt.Sprintf("product %q not found in summary run %s", id, run.ID)), nil
		case err != nil:
			return nil, fmt.Errorf("failed to load product summary: %w", err)
		}

		b, err := json.Marshal(map[string]any{"run_id": run.ID, "product": p})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal product summary: %w", err)
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceTopBottom(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		run, products, err := latestProducts(deps.Summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to load summary: %w", err)
		}
		return jsonResource(req.Params.URI, topBottomView(run, products, deps.TopN))
	}
}

func mcpResourceIssues(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		run, products, err := latestProducts(deps.Summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to load summary: %w", err)
		}
		return jsonResource(req.Params.URI, issuesView(run, products, deps.GapM))
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
