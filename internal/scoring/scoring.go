// Package scoring computes a bounded utility score for tagged listings.
// Scorers are pluggable strategies; the reference strategy is a weighted
// additive model over five normalized components.
package scoring

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/harwick/gpuscout/internal/listing"
)

// Scorer computes a utility score in [0,1] and a per-component breakdown.
type Scorer interface {
	Name() string
	Score(l *listing.Listing) (float64, map[string]float64)
}

// Weights configures the additive scorer. Weights need not sum to 1; the
// final score is clamped to [0,1], not renormalized, so callers own weight
// sanity.
type Weights struct {
	VRAM         float64 `yaml:"vram"`
	Partition    float64 `yaml:"partition"`
	Interconnect float64 `yaml:"interconnect"`
	TDP          float64 `yaml:"tdp"`
	Price        float64 `yaml:"price"`

	// Normalization caps. Each component is a fraction of its cap, clamped
	// to [0,1] before weighting.
	MaxVRAMGB    int     `yaml:"max_vram_gb"`
	MaxPartition int     `yaml:"max_partition"`
	MaxTDPWatts  int     `yaml:"max_tdp_watts"`
	MaxPrice     float64 `yaml:"max_price"`
}

// DefaultWeights returns the documented scoring defaults.
func DefaultWeights() Weights {
	return Weights{
		VRAM:         0.35,
		Partition:    0.15,
		Interconnect: 0.10,
		TDP:          0.15,
		Price:        0.25,
		MaxVRAMGB:    96,
		MaxPartition: 7,
		MaxTDPWatts:  700,
		MaxPrice:     20000,
	}
}

// LoadWeights reads scoring weights from a YAML file. Missing file yields
// defaults with no error; malformed content is an error.
func LoadWeights(path string) (Weights, error) {
	w := DefaultWeights()
	if path == "" {
		return w, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return w, nil
		}
		return w, fmt.Errorf("reading scoring config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &w); err != nil {
		return DefaultWeights(), fmt.Errorf("parsing scoring config %s: %w", path, err)
	}
	return w, nil
}

// Additive is the reference weighted-additive scorer.
type Additive struct {
	weights Weights
}

// NewAdditive creates the reference scorer with the given weights.
func NewAdditive(w Weights) *Additive {
	def := DefaultWeights()
	if w.MaxVRAMGB <= 0 {
		w.MaxVRAMGB = def.MaxVRAMGB
	}
	if w.MaxPartition <= 0 {
		w.MaxPartition = def.MaxPartition
	}
	if w.MaxTDPWatts <= 0 {
		w.MaxTDPWatts = def.MaxTDPWatts
	}
	if w.MaxPrice <= 0 {
		w.MaxPrice = def.MaxPrice
	}
	return &Additive{weights: w}
}

func (a *Additive) Name() string { return "weighted_additive" }

// Score implements Scorer. Components:
//
//	vram         = VRAM / max_vram
//	partition    = partition_level / max_partition
//	interconnect = 1 if supported else 0
//	tdp          = 1 - TDP / max_tdp       (lower power scores higher)
//	price        = 1 - price / max_price   (cheaper scores higher)
//
// Each component is clamped to [0,1] before weighting. A missing spec set,
// TDP of zero-with-no-specs, or absent price contributes zero to its
// component instead of erroring. The weighted sum is clamped to [0,1].
func (a *Additive) Score(l *listing.Listing) (float64, map[string]float64) {
	w := a.weights
	parts := map[string]float64{
		"vram":         0,
		"partition":    0,
		"interconnect": 0,
		"tdp":          0,
		"price":        0,
	}

	if d := l.Specs; d != nil {
		parts["vram"] = clamp01(float64(d.VRAMGB) / float64(w.MaxVRAMGB))
		parts["partition"] = clamp01(float64(d.PartitionLevel) / float64(w.MaxPartition))
		if d.Interconnect {
			parts["interconnect"] = 1
		}
		if d.TDPWatts > 0 {
			parts["tdp"] = clamp01(1 - float64(d.TDPWatts)/float64(w.MaxTDPWatts))
		}
	}
	if l.Price > 0 {
		parts["price"] = clamp01(1 - l.Price/w.MaxPrice)
	}

	total := w.VRAM*parts["vram"] +
		w.Partition*parts["partition"] +
		w.Interconnect*parts["interconnect"] +
		w.TDP*parts["tdp"] +
		w.Price*parts["price"]

	return clamp01(total), parts
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
