package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/harwick/gpuscout/internal/ingest"
	"github.com/harwick/gpuscout/internal/registry"
	"github.com/harwick/gpuscout/internal/resolve"
	"github.com/harwick/gpuscout/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Registry *registry.Registry
	Resolver *resolve.Engine
}

// NewMCPServer creates an MCP server with the marketplace tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"gpuscout",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("gpuscout: GPU marketplace listing resolution, deduplication, and scoring."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("resolve_title",
			mcp.WithDescription("Resolve a free-form listing title to a canonical GPU model name."),
			mcp.WithString("title", mcp.Description("Listing title to resolve"), mcp.Required()),
			mcp.WithString("notes", mcp.Description("Optional listing notes or description")),
		),
		mcpResolveTitle(deps),
	)

	s.AddTool(
		mcp.NewTool("search_listings",
			mcp.WithDescription("Search stored listings by canonical model, dedup role, and minimum score."),
			mcp.WithString("canonical", mcp.Description("Canonical model name filter (e.g. RTX_A5000)")),
			mcp.WithString("role", mcp.Description("Dedup role filter: unique, primary, or secondary")),
			mcp.WithNumber("min_score", mcp.Description("Minimum composite score (0 to 1)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpSearchListings(deps),
	)

	s.AddTool(
		mcp.NewTool("market_summary",
			mcp.WithDescription("Return per-model price and score aggregates over unique and primary listings."),
		),
		mcpMarketSummary(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_listings",
			mcp.WithDescription("Queue a batch of raw listings for resolution, deduplication, and scoring."),
			mcp.WithString("listings", mcp.Description("JSON array of {title, notes, price, source_url, seller, region} objects"), mcp.Required()),
		),
		mcpIngestListings(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"registry://devices",
			"Device Registry",
			mcp.WithResourceDescription("Canonical GPU device registry as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDevices(deps),
	)

	return s
}

func mcpResolveTitle(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		notes := req.GetString("notes", "")

		res := deps.Resolver.Resolve(title, notes)

		out := map[string]any{
			"canonical":   res.Canonical,
			"match_type":  string(res.Match),
			"match_score": res.Score,
			"valid_gpu":   res.ValidGPU,
		}
		if res.Reason != "" {
			out["reason"] = res.Reason
		}
		if dev, ok := deps.Registry.Get(res.Canonical); ok {
			out["specs"] = dev
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchListings(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		f := storage.ListFilter{
			Canonical: req.GetString("canonical", ""),
			Role:      req.GetString("role", ""),
			MinScore:  req.GetFloat("min_score", 0),
			Limit:     limit,
		}

		results, err := deps.Store.ListListings(f)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(listingsToWire(results))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpMarketSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Store.Stats()
		if err != nil {
			return mcpError(fmt.Sprintf("stats failed: %v", err)), nil
		}
		models, err := deps.Store.ModelStats()
		if err != nil {
			return mcpError(fmt.Sprintf("model stats failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"totals": stats,
			"models": models,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpIngestListings(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		listingsJSON, err := req.RequireString("listings")
		if err != nil {
			return mcpError("listings is required"), nil
		}

		var raws []ingest.RawInput
		if err := json.Unmarshal([]byte(listingsJSON), &raws); err != nil {
			return mcpError(fmt.Sprintf("invalid listings JSON: %v", err)), nil
		}
		if len(raws) == 0 {
			return mcpError("listings array is empty"), nil
		}

		payload, err := json.Marshal(ingest.Payload{Listings: raws})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal payload: %v", err)), nil
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        ingest.JobType,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			return mcpError(fmt.Sprintf("failed to queue batch: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Queued batch %s with %d listings at %s", job.ID, len(raws), time.Now().UTC().Format(time.RFC3339))), nil
	}
}

func mcpResourceDevices(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Registry.Devices())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal devices: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
