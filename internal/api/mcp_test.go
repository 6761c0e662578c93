package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/harwick/gpuscout/internal/ingest"
	"github.com/harwick/gpuscout/internal/listing"
	"github.com/harwick/gpuscout/internal/resolve"
	"github.com/harwick/gpuscout/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := testRegistry(t)
	return MCPDeps{
		Store:    store,
		Registry: reg,
		Resolver: resolve.NewEngine(reg, nil, resolve.DefaultConfig()),
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPTool_ResolveTitle(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpResolveTitle(deps)

	req := makeCallToolRequest("resolve_title", map[string]interface{}{
		"title": "NVIDIA RTX A5000 24GB workstation card",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var out struct {
		Canonical  string           `json:"canonical"`
		MatchType  string           `json:"match_type"`
		MatchScore float64          `json:"match_score"`
		ValidGPU   bool             `json:"valid_gpu"`
		Specs      *json.RawMessage `json:"specs"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if out.Canonical != "RTX_A5000" || !out.ValidGPU {
		t.Fatalf("resolution = %+v", out)
	}
	if out.Specs == nil {
		t.Fatal("expected joined specs for a resolved title")
	}
}

func TestMCPTool_ResolveTitle_MissingTitle(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpResolveTitle(deps)

	result, err := handler(context.Background(), makeCallToolRequest("resolve_title", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing title")
	}
}

func TestMCPTool_SearchListings(t *testing.T) {
	deps, store := newTestMCPDeps(t)

	err := store.SaveListings([]*listing.Listing{
		savedListing("m1", "RTX_A5000", 0.6, listing.RoleUnique),
		savedListing("m2", "A100_80GB", 0.9, listing.RoleUnique),
	})
	if err != nil {
		t.Fatal(err)
	}
	handler := mcpSearchListings(deps)

	req := makeCallToolRequest("search_listings", map[string]interface{}{
		"canonical": "A100_80GB",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var results []wireListing
	if err := json.Unmarshal([]byte(toolText(t, result)), &results); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(results) != 1 || results[0].ID != "m2" {
		t.Fatalf("results = %+v", results)
	}
}

func TestMCPTool_SearchListings_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSearchListings(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_listings", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("text = %q, want empty array", text)
	}
}

func TestMCPTool_MarketSummary(t *testing.T) {
	deps, store := newTestMCPDeps(t)

	err := store.SaveListings([]*listing.Listing{
		savedListing("m1", "RTX_A5000", 0.6, listing.RoleUnique),
		savedListing("m2", "RTX_A5000", 0.4, listing.RoleSecondary),
	})
	if err != nil {
		t.Fatal(err)
	}
	handler := mcpMarketSummary(deps)

	result, err := handler(context.Background(), makeCallToolRequest("market_summary", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var out struct {
		Totals storage.BatchStats   `json:"totals"`
		Models []storage.ModelStats `json:"models"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if out.Totals.Total != 2 || out.Totals.Duplicates != 1 {
		t.Fatalf("totals = %+v", out.Totals)
	}
	if len(out.Models) != 1 || out.Models[0].Count != 1 {
		t.Fatalf("models = %+v", out.Models)
	}
}

func TestMCPTool_IngestListings(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpIngestListings(deps)

	req := makeCallToolRequest("ingest_listings", map[string]interface{}{
		"listings": `[{"title":"NVIDIA RTX A5000","price":1400},{"title":"A100 80GB","price":9000}]`,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); !strings.Contains(text, "2 listings") {
		t.Fatalf("unexpected response: %s", text)
	}

	job, err := store.ClaimNextJob([]string{ingest.JobType})
	if err != nil {
		t.Fatalf("claiming job: %v", err)
	}
	if job == nil {
		t.Fatal("no job enqueued")
	}
	var payload ingest.Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Listings) != 2 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestMCPTool_IngestListings_Invalid(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpIngestListings(deps)

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing listings", map[string]interface{}{}},
		{"invalid json", map[string]interface{}{"listings": `{not json`}},
		{"empty array", map[string]interface{}{"listings": `[]`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handler(context.Background(), makeCallToolRequest("ingest_listings", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected tool error")
			}
		})
	}
}

func TestMCPResource_Devices(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpResourceDevices(deps)

	req := mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "registry://devices"},
	}
	contents, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("content count = %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var devices []json.RawMessage
	if err := json.Unmarshal([]byte(tc.Text), &devices); err != nil {
		t.Fatalf("failed to parse devices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("device count = %d", len(devices))
	}
}
