package scoring

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/harwick/gpuscout/internal/listing"
	"github.com/harwick/gpuscout/internal/registry"
)

func TestLoadWeightsMissingFile(t *testing.T) {
	w, err := LoadWeights(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should yield defaults, got error: %v", err)
	}
	if w != DefaultWeights() {
		t.Errorf("weights = %+v, want defaults", w)
	}
}

func TestLoadWeightsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("vram: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWeights(path); err == nil {
		t.Fatal("malformed file must be an error")
	}
}

// TestScoreComponents verifies the documented component formula against a
// hand-computed example.
func TestScoreComponents(t *testing.T) {
	scorer := NewAdditive(DefaultWeights())

	l := &listing.Listing{
		Raw: listing.Raw{Price: 1400},
		Specs: &registry.Device{
			VRAMGB:         24,
			TDPWatts:       230,
			PartitionLevel: 0,
			Interconnect:   true,
		},
	}

	score, parts := scorer.Score(l)

	wantParts := map[string]float64{
		"vram":         24.0 / 96.0,
		"partition":    0,
		"interconnect": 1,
		"tdp":          1 - 230.0/700.0,
		"price":        1 - 1400.0/20000.0,
	}
	for name, want := range wantParts {
		if got := parts[name]; math.Abs(got-want) > 1e-9 {
			t.Errorf("parts[%s] = %f, want %f", name, got, want)
		}
	}

	want := 0.35*wantParts["vram"] +
		0.15*wantParts["partition"] +
		0.10*wantParts["interconnect"] +
		0.15*wantParts["tdp"] +
		0.25*wantParts["price"]
	if math.Abs(score-want) > 1e-9 {
		t.Errorf("score = %f, want %f", score, want)
	}
}

func TestScoreMissingData(t *testing.T) {
	scorer := NewAdditive(DefaultWeights())

	// No specs, no price: every component contributes zero.
	score, parts := scorer.Score(&listing.Listing{})
	if score != 0 {
		t.Errorf("score = %f, want 0", score)
	}
	for name, v := range parts {
		if v != 0 {
			t.Errorf("parts[%s] = %f, want 0", name, v)
		}
	}

	// Price alone still scores.
	score, parts = scorer.Score(&listing.Listing{Raw: listing.Raw{Price: 500}})
	if parts["price"] == 0 {
		t.Error("price component should be nonzero")
	}
	if score <= 0 {
		t.Errorf("score = %f, want > 0", score)
	}
}

// TestScoreBounds verifies the score stays in [0,1] across extreme inputs
// and weights.
func TestScoreBounds(t *testing.T) {
	extremes := []*listing.Listing{
		{},
		{Raw: listing.Raw{Price: 1e9}},
		{Raw: listing.Raw{Price: 1}, Specs: &registry.Device{VRAMGB: 1000, TDPWatts: 1, PartitionLevel: 7, Interconnect: true}},
		{Specs: &registry.Device{VRAMGB: 0, TDPWatts: 5000}},
	}
	weights := []Weights{
		DefaultWeights(),
		{VRAM: 1, Partition: 1, Interconnect: 1, TDP: 1, Price: 1},
		{VRAM: 0.1},
	}
	for _, w := range weights {
		scorer := NewAdditive(w)
		for _, l := range extremes {
			score, parts := scorer.Score(l)
			if score < 0 || score > 1 {
				t.Errorf("score = %f out of [0,1] for weights %+v", score, w)
			}
			for name, v := range parts {
				if v < 0 || v > 1 {
					t.Errorf("parts[%s] = %f out of [0,1]", name, v)
				}
			}
		}
	}
}

// TestScoreOrdering verifies cheaper and better-equipped listings outrank
// worse ones under default weights.
func TestScoreOrdering(t *testing.T) {
	scorer := NewAdditive(DefaultWeights())

	cheap := &listing.Listing{Raw: listing.Raw{Price: 800}, Specs: &registry.Device{VRAMGB: 24, TDPWatts: 230}}
	pricey := &listing.Listing{Raw: listing.Raw{Price: 2400}, Specs: &registry.Device{VRAMGB: 24, TDPWatts: 230}}

	cheapScore, _ := scorer.Score(cheap)
	priceyScore, _ := scorer.Score(pricey)
	if cheapScore <= priceyScore {
		t.Errorf("cheaper identical card should outrank: %f vs %f", cheapScore, priceyScore)
	}

	big := &listing.Listing{Raw: listing.Raw{Price: 800}, Specs: &registry.Device{VRAMGB: 80, TDPWatts: 230}}
	bigScore, _ := scorer.Score(big)
	if bigScore <= cheapScore {
		t.Errorf("more VRAM at equal price should outrank: %f vs %f", bigScore, cheapScore)
	}
}
