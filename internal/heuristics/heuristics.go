// Package heuristics derives capability flags and capacity counts from
// enriched listings. Taggers are pluggable strategies sharing one interface
// and are composable: a listing may run through any number of them.
package heuristics

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/harwick/gpuscout/internal/listing"
)

// Tagger evaluates one enriched listing and writes its derived flags.
// Implementations must fail closed: a missing required attribute yields the
// zero outcome, never an error.
type Tagger interface {
	Name() string
	Tag(l *listing.Listing)
}

// Config holds the tagger thresholds, loadable from a YAML document.
type Config struct {
	Capability CapabilityConfig `yaml:"capability"`
	Capacity   CapacityConfig   `yaml:"capacity"`
}

// CapabilityConfig thresholds for the workload-fit flag.
type CapabilityConfig struct {
	MinVRAMGB    int `yaml:"min_vram_gb"`
	MaxTDPWatts  int `yaml:"max_tdp_watts"`
	MinPartition int `yaml:"min_partition"`
}

// CapacityConfig drives the per-tier capacity counts.
type CapacityConfig struct {
	ReservedGB int `yaml:"reserved_gb"`
	SmallGB    int `yaml:"small_gb"`
	MediumGB   int `yaml:"medium_gb"`
	LargeGB    int `yaml:"large_gb"`
}

// DefaultConfig returns the documented threshold defaults.
func DefaultConfig() Config {
	return Config{
		Capability: CapabilityConfig{
			MinVRAMGB:    24,
			MaxTDPWatts:  300,
			MinPartition: 1,
		},
		Capacity: CapacityConfig{
			ReservedGB: 2,
			SmallGB:    8,
			MediumGB:   16,
			LargeGB:    40,
		},
	}
}

// LoadConfig reads thresholds from a YAML file. A missing file yields the
// defaults and no error; a present but malformed file is an error so bad
// threshold documents are not silently ignored.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading heuristics config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parsing heuristics config %s: %w", path, err)
	}
	return cfg, nil
}

// CapabilityTagger sets the workload-fit flag: enough VRAM, acceptable
// power draw, and partitioning support.
type CapabilityTagger struct {
	cfg CapabilityConfig
}

// NewCapabilityTagger creates the capability heuristic with the given
// thresholds.
func NewCapabilityTagger(cfg CapabilityConfig) *CapabilityTagger {
	return &CapabilityTagger{cfg: cfg}
}

func (t *CapabilityTagger) Name() string { return "capability" }

// Tag implements Tagger. Unresolved listings have no specs and fail closed.
func (t *CapabilityTagger) Tag(l *listing.Listing) {
	d := l.Specs
	if d == nil {
		l.Capable = false
		return
	}
	l.Capable = d.VRAMGB >= t.cfg.MinVRAMGB &&
		d.TDPWatts <= t.cfg.MaxTDPWatts &&
		d.PartitionLevel >= t.cfg.MinPartition
}

// CapacityTagger computes how many units of three fixed reference workload
// sizes fit in VRAM after a reserved overhead, by floor division per tier.
type CapacityTagger struct {
	cfg CapacityConfig
}

// NewCapacityTagger creates the capacity heuristic with the given tiers.
func NewCapacityTagger(cfg CapacityConfig) *CapacityTagger {
	return &CapacityTagger{cfg: cfg}
}

func (t *CapacityTagger) Name() string { return "capacity" }

// Tag implements Tagger.
func (t *CapacityTagger) Tag(l *listing.Listing) {
	d := l.Specs
	if d == nil {
		l.Capacity = listing.CapacityCounts{}
		return
	}
	usable := d.VRAMGB - t.cfg.ReservedGB
	if usable < 0 {
		usable = 0
	}
	l.Capacity = listing.CapacityCounts{
		Small:  tierCount(usable, t.cfg.SmallGB),
		Medium: tierCount(usable, t.cfg.MediumGB),
		Large:  tierCount(usable, t.cfg.LargeGB),
	}
}

func tierCount(usable, size int) int {
	if size <= 0 {
		return 0
	}
	return usable / size
}
