// Package enrich joins canonical device specifications onto resolved
// listings.
package enrich

import (
	"github.com/harwick/gpuscout/internal/listing"
	"github.com/harwick/gpuscout/internal/registry"
)

// Enricher performs the registry join. It trusts the resolver's identity
// verbatim: there is no fuzzy fallback here, and unresolved listings keep
// nil specs.
type Enricher struct {
	reg *registry.Registry
}

// New creates an Enricher over the given registry.
func New(reg *registry.Registry) *Enricher {
	return &Enricher{reg: reg}
}

// Enrich attaches the canonical specification set to a resolved listing.
// The mutation is additive only; resolution fields are never touched.
func (e *Enricher) Enrich(l *listing.Listing) {
	if !l.Resolved() {
		return
	}
	if d, ok := e.reg.Get(l.Resolution.Canonical); ok {
		l.Specs = d
	}
}
