// Package listing defines the record shapes flowing through the analysis
// pipeline. A Listing starts as raw marketplace input and accumulates
// resolution, enrichment, tagging, deduplication, and scoring fields; each
// stage only adds, never rewrites, what earlier stages produced.
package listing

import (
	"time"

	"github.com/harwick/gpuscout/internal/registry"
	"github.com/harwick/gpuscout/internal/resolve"
)

// DedupRole labels a listing's position within its duplicate group.
type DedupRole string

const (
	RoleUnique    DedupRole = "unique"
	RolePrimary   DedupRole = "primary"
	RoleSecondary DedupRole = "secondary"
)

// Raw is the immutable marketplace input: title and price are required,
// everything else optional.
type Raw struct {
	ID         string
	Title      string
	Notes      string
	Price      float64
	SourceURL  string
	Seller     string
	Region     string
	ObservedAt *time.Time
}

// Listing is the pipeline record. Specs is nil until enrichment and stays
// nil for unresolved listings, so "no VRAM data" is distinguishable from
// "zero VRAM".
type Listing struct {
	Raw

	// Resolution Engine output.
	Resolution resolve.Resolution

	// Enrichment Join output; nil when Canonical is registry.Unknown.
	Specs *registry.Device

	// Heuristic Tagger output.
	Capable  bool
	Capacity CapacityCounts

	// Deduplication Engine output.
	GroupID string
	Role    DedupRole

	// Scoring Engine output.
	Score      float64
	ScoreParts map[string]float64
}

// CapacityCounts is the number of reference workload units that fit in the
// device's usable VRAM, per size tier.
type CapacityCounts struct {
	Small  int
	Medium int
	Large  int
}

// Resolved reports whether the listing carries a canonical identity.
func (l *Listing) Resolved() bool {
	return l.Resolution.Canonical != "" && l.Resolution.Canonical != registry.Unknown
}
