package pipeline

import (
	"context"
	"math"
	"testing"

	"github.com/harwick/gpuscout/internal/dedup"
	"github.com/harwick/gpuscout/internal/enrich"
	"github.com/harwick/gpuscout/internal/heuristics"
	"github.com/harwick/gpuscout/internal/listing"
	"github.com/harwick/gpuscout/internal/registry"
	"github.com/harwick/gpuscout/internal/resolve"
	"github.com/harwick/gpuscout/internal/scoring"
)

func testPipeline(t *testing.T) *Pipeline {
	t.Helper()
	reg, err := registry.New([]registry.Device{
		{
			Name: "RTX_A5000", Vendor: "NVIDIA", VRAMGB: 24, TDPWatts: 230,
			PartitionLevel: 0, Interconnect: true, Architecture: "Ampere",
			Aliases: []string{"RTX A5000"},
		},
		{
			Name: "A100_80GB", Vendor: "NVIDIA", VRAMGB: 80, TDPWatts: 400,
			PartitionLevel: 7, Interconnect: true, Architecture: "Ampere",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	hcfg := heuristics.DefaultConfig()
	return New(
		resolve.NewEngine(reg, nil, resolve.DefaultConfig()),
		enrich.New(reg),
		[]heuristics.Tagger{
			heuristics.NewCapabilityTagger(hcfg.Capability),
			heuristics.NewCapacityTagger(hcfg.Capacity),
		},
		scoring.NewAdditive(scoring.DefaultWeights()),
		dedup.DefaultThresholds(),
		4,
	)
}

// TestRunEndToEnd walks one well-known listing through every stage and
// checks the accumulated record.
func TestRunEndToEnd(t *testing.T) {
	p := testPipeline(t)

	batch, meta, err := p.Run(context.Background(), []listing.Raw{
		{ID: "l1", Title: "NVIDIA RTX A5000 24GB workstation card", Price: 1400},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if meta.Total != 1 || meta.Resolved != 1 || meta.ValidGPUs != 1 || meta.Duplicates != 0 {
		t.Errorf("meta = %+v", meta)
	}

	l := batch[0]
	if l.Resolution.Canonical != "RTX_A5000" {
		t.Fatalf("Canonical = %s, want RTX_A5000", l.Resolution.Canonical)
	}
	if l.Specs == nil || l.Specs.VRAMGB != 24 {
		t.Fatalf("Specs = %+v, want joined A5000 specs", l.Specs)
	}

	// Capability fails on partition support; capacity is floor((24-2)/tier).
	if l.Capable {
		t.Error("A5000 with partition level 0 must not be capable")
	}
	if l.Capacity != (listing.CapacityCounts{Small: 2, Medium: 1, Large: 0}) {
		t.Errorf("Capacity = %+v", l.Capacity)
	}

	if l.Role != listing.RoleUnique || l.GroupID == "" {
		t.Errorf("dedup outcome = %s / %q", l.Role, l.GroupID)
	}

	// Weighted additive under defaults.
	want := 0.35*(24.0/96.0) + 0.10*1 + 0.15*(1-230.0/700.0) + 0.25*(1-1400.0/20000.0)
	if math.Abs(l.Score-want) > 1e-9 {
		t.Errorf("Score = %f, want %f", l.Score, want)
	}
	if len(l.ScoreParts) != 5 {
		t.Errorf("ScoreParts = %v, want 5 components", l.ScoreParts)
	}
}

// TestRunPreservesOrderAndCount verifies no record is dropped or reordered,
// bad rows included.
func TestRunPreservesOrderAndCount(t *testing.T) {
	p := testPipeline(t)

	raws := []listing.Raw{
		{ID: "r1", Title: "NVIDIA RTX A5000", Price: 1400},
		{ID: "r2", Title: "", Price: 100},
		{ID: "r3", Title: "antique sewing machine", Price: 40},
		{ID: "r4", Title: "A100 80GB SXM", Price: 9000},
	}

	batch, meta, err := p.Run(context.Background(), raws)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(batch) != len(raws) {
		t.Fatalf("len = %d, want %d", len(batch), len(raws))
	}
	for i, l := range batch {
		if l.ID != raws[i].ID {
			t.Errorf("batch[%d].ID = %s, want %s", i, l.ID, raws[i].ID)
		}
	}

	// The empty-title and sewing machine rows surface as UNKNOWN, not as
	// absences.
	if batch[1].Resolution.Canonical != registry.Unknown || batch[1].Resolution.ValidGPU {
		t.Errorf("empty title resolution = %+v", batch[1].Resolution)
	}
	if batch[2].Resolution.ValidGPU {
		t.Error("sewing machine must not be a valid GPU")
	}
	if meta.Resolved != 2 {
		t.Errorf("Resolved = %d, want 2", meta.Resolved)
	}
}

func TestRunDeduplicates(t *testing.T) {
	p := testPipeline(t)

	batch, meta, err := p.Run(context.Background(), []listing.Raw{
		{ID: "x1", Title: "NVIDIA RTX A5000 24GB", Price: 1400},
		{ID: "x2", Title: "NVIDIA RTX A5000 24GB", Price: 1410},
		{ID: "x3", Title: "A100 80GB SXM", Price: 9000},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if meta.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", meta.Duplicates)
	}
	if batch[0].GroupID != batch[1].GroupID {
		t.Error("reposts must share a group")
	}
	if batch[2].Role != listing.RoleUnique {
		t.Errorf("x3 role = %s, want unique", batch[2].Role)
	}
}

// TestRunCancelled verifies a cancelled context aborts the batch instead of
// returning partial results.
func TestRunCancelled(t *testing.T) {
	p := testPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	raws := make([]listing.Raw, 64)
	for i := range raws {
		raws[i] = listing.Raw{ID: "c", Title: "NVIDIA RTX A5000", Price: 1400}
	}

	batch, _, err := p.Run(ctx, raws)
	if err == nil {
		t.Fatal("expected context error")
	}
	if batch != nil {
		t.Error("cancelled run must not return partial results")
	}
}

func TestRunEmptyBatch(t *testing.T) {
	p := testPipeline(t)

	batch, meta, err := p.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(batch) != 0 || meta.Total != 0 {
		t.Errorf("batch = %v, meta = %+v", batch, meta)
	}
}
