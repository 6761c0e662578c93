// Package resolve maps free-text marketplace titles to canonical device
// identities. Resolution runs an ordered list of stages sharing one
// contract; the first stage that accepts a result short-circuits the rest.
package resolve

import (
	"strings"

	"github.com/harwick/gpuscout/internal/classifier"
	"github.com/harwick/gpuscout/internal/registry"
)

// MatchType records which stage produced a resolution.
type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchRegex MatchType = "regex"
	MatchFuzzy MatchType = "fuzzy"
	MatchNone  MatchType = "none"
)

// Resolution is the outcome of resolving one title. Canonical is
// registry.Unknown when no identity could be established; ValidGPU answers
// the weaker "is this plausibly a GPU at all" question independently.
type Resolution struct {
	Canonical string
	Match     MatchType
	Score     float64
	ValidGPU  bool
	Reason    string
}

// Stage attempts to resolve a title. ok reports whether the stage accepted
// a result; a false return falls through to the next stage. Stages must not
// fail on malformed input; absence of a match is a normal outcome.
type Stage interface {
	Name() string
	Resolve(title, notes string) (Resolution, bool)
}

// Config holds the resolver thresholds.
type Config struct {
	// FuzzyThreshold is the minimum similarity for the fuzzy stage to accept
	// its best candidate. Candidates below it are rejected outright.
	FuzzyThreshold float64
	// ValidityThreshold is the minimum classifier probability for marking an
	// unresolved listing as a valid GPU.
	ValidityThreshold float64
}

// DefaultConfig returns the documented resolver defaults.
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:    0.7,
		ValidityThreshold: 0.2,
	}
}

// Engine runs the staged resolution chain.
type Engine struct {
	stages   []Stage
	fallback *fallbackStage
}

// NewEngine builds the standard chain: exact → pattern → fuzzy, then the
// terminal validity stage. model may be nil, in which case validity is
// inferred from lexical cues alone.
func NewEngine(reg *registry.Registry, model classifier.Model, cfg Config) *Engine {
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultConfig().FuzzyThreshold
	}
	if cfg.ValidityThreshold <= 0 {
		cfg.ValidityThreshold = DefaultConfig().ValidityThreshold
	}
	return &Engine{
		stages: []Stage{
			newExactStage(reg),
			newPatternStage(reg),
			newFuzzyStage(reg, cfg.FuzzyThreshold),
		},
		fallback: newFallbackStage(model, cfg.ValidityThreshold),
	}
}

// Resolve maps a title (plus optional supplementary notes) to a canonical
// identity with a confidence and provenance trail. It never returns an
// error: unresolvable input yields Canonical == registry.Unknown with
// Match == MatchNone and a human-readable reason.
func (e *Engine) Resolve(title, notes string) Resolution {
	if strings.TrimSpace(title) == "" {
		return Resolution{
			Canonical: registry.Unknown,
			Match:     MatchNone,
			Reason:    "empty title",
		}
	}
	for _, stage := range e.stages {
		if res, ok := stage.Resolve(title, notes); ok {
			res.ValidGPU = true
			return res
		}
	}
	res, _ := e.fallback.Resolve(title, notes)
	return res
}

// Stages returns the names of the identity stages in evaluation order.
func (e *Engine) Stages() []string {
	names := make([]string, 0, len(e.stages)+1)
	for _, s := range e.stages {
		names = append(names, s.Name())
	}
	return append(names, e.fallback.Name())
}
