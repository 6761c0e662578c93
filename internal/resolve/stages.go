package resolve

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harwick/gpuscout/internal/classifier"
	"github.com/harwick/gpuscout/internal/registry"
	"github.com/harwick/gpuscout/internal/textsim"
)

// --- exact stage ---

type exactStage struct {
	reg *registry.Registry
}

func newExactStage(reg *registry.Registry) *exactStage {
	return &exactStage{reg: reg}
}

func (s *exactStage) Name() string { return "exact" }

// Resolve accepts only case-insensitive, whitespace-normalized equality with
// a registry name or curated alias.
func (s *exactStage) Resolve(title, _ string) (Resolution, bool) {
	d, ok := s.reg.Lookup(title)
	if !ok {
		return Resolution{}, false
	}
	return Resolution{
		Canonical: d.Name,
		Match:     MatchExact,
		Score:     1.0,
	}, true
}

// --- pattern stage ---

// titlePattern binds one hand-curated regular expression to one canonical
// identity. Patterns are evaluated in order; the first match wins.
type titlePattern struct {
	re        *regexp.Regexp
	canonical string
}

type patternStage struct {
	reg      *registry.Registry
	patterns []titlePattern
}

// patternSpecs is the curated pattern table. Each expression is scoped to
// one vendor's naming scheme; the vendor gate below rejects cross-vendor
// hits even if a pattern fires on a competitor's part number.
var patternSpecs = []struct {
	expr      string
	canonical string
}{
	{`\brtx\s*a?\s*6000(\s*ada)?\b`, "RTX_6000_ADA"},
	{`\brtx\s*a\s*5000\b`, "RTX_A5000"},
	{`\brtx\s*a\s*4000\b`, "RTX_A4000"},
	{`\brtx\s*50?90\b`, "RTX_5090"},
	{`\brtx\s*40?90\b`, "RTX_4090"},
	{`\brtx\s*40?80(\s*super)?\b`, "RTX_4080"},
	{`\brtx\s*30?90(\s*ti)?\b`, "RTX_3090"},
	{`\b[ah]\s*100\b.{0,20}\b80\s*gb\b`, "A100_80GB"},
	{`\ba\s*100\b`, "A100_40GB"},
	{`\bh\s*100\b`, "H100_80GB"},
	{`\bl\s*40\s*s?\b`, "L40S"},
	{`\btesla\s*v\s*100\b`, "V100_16GB"},
	{`\bmi\s*300\s*x\b`, "MI300X"},
	{`\bmi\s*250\s*x?\b`, "MI250X"},
	{`\b(rx\s*)?7900\s*xtx\b`, "RX_7900_XTX"},
	{`\b(rx\s*)?6700\s*xt\b`, "RX_6700_XT"},
	{`\barc\s*a\s*770\b`, "ARC_A770"},
}

func newPatternStage(reg *registry.Registry) *patternStage {
	s := &patternStage{reg: reg}
	for _, spec := range patternSpecs {
		// Patterns for devices absent from the loaded registry are skipped so
		// the stage can never produce an identity enrichment cannot join.
		if _, ok := reg.Get(spec.canonical); !ok {
			continue
		}
		s.patterns = append(s.patterns, titlePattern{
			re:        regexp.MustCompile(spec.expr),
			canonical: spec.canonical,
		})
	}
	return s
}

func (s *patternStage) Name() string { return "regex" }

func (s *patternStage) Resolve(title, _ string) (Resolution, bool) {
	cleaned := textsim.Clean(title)
	for _, p := range s.patterns {
		if !p.re.MatchString(cleaned) {
			continue
		}
		d, ok := s.reg.Get(p.canonical)
		if !ok {
			continue
		}
		if !vendorCompatible(title, d.Vendor) {
			continue
		}
		return Resolution{
			Canonical: d.Name,
			Match:     MatchRegex,
			Score:     1.0,
		}, true
	}
	return Resolution{}, false
}

// --- fuzzy stage ---

type fuzzyStage struct {
	reg       *registry.Registry
	threshold float64
}

func newFuzzyStage(reg *registry.Registry, threshold float64) *fuzzyStage {
	return &fuzzyStage{reg: reg, threshold: threshold}
}

func (s *fuzzyStage) Name() string { return "fuzzy" }

// Resolve scores the cleaned title against every registry name and alias
// with token-set similarity and accepts the best candidate only when it
// clears the threshold and survives the vendor gate. Sub-threshold
// candidates are rejected outright, never returned as low-confidence hits.
func (s *fuzzyStage) Resolve(title, _ string) (Resolution, bool) {
	cleaned := textsim.Clean(title)
	if cleaned == "" {
		return Resolution{}, false
	}

	bestScore := 0.0
	bestName := ""
	for key, canonical := range s.reg.Keys() {
		score := textsim.TokenSetRatio(cleaned, key)
		if score > bestScore || (score == bestScore && canonical < bestName) {
			bestScore = score
			bestName = canonical
		}
	}
	if bestName == "" || bestScore < s.threshold {
		return Resolution{}, false
	}
	d, ok := s.reg.Get(bestName)
	if !ok || !vendorCompatible(title, d.Vendor) {
		return Resolution{}, false
	}
	return Resolution{
		Canonical: d.Name,
		Match:     MatchFuzzy,
		Score:     bestScore,
	}, true
}

// --- fallback validity stage ---

// categoryKeywords are the lexical cues used for validity inference when the
// classifier is unavailable.
var categoryKeywords = []string{
	"gpu", "graphics", "video card", "videocard", "accelerator",
	"rtx", "gtx", "geforce", "quadro", "tesla",
	"radeon", "instinct", "arc",
}

type fallbackStage struct {
	model     classifier.Model
	threshold float64
}

func newFallbackStage(model classifier.Model, threshold float64) *fallbackStage {
	return &fallbackStage{model: model, threshold: threshold}
}

func (s *fallbackStage) Name() string {
	if s.model != nil {
		return "classifier"
	}
	return "lexical"
}

// Resolve is the terminal stage: identity stays Unknown, and only the
// validity flag is decided. With a classifier present, the lowercased
// title+notes concatenation is scored against the validity threshold;
// otherwise category keywords decide.
func (s *fallbackStage) Resolve(title, notes string) (Resolution, bool) {
	res := Resolution{
		Canonical: registry.Unknown,
		Match:     MatchNone,
	}

	if s.model != nil {
		text := strings.ToLower(strings.TrimSpace(title + " " + notes))
		p := s.model.Predict(text)
		res.ValidGPU = p >= s.threshold
		res.Reason = fmt.Sprintf("no identity match; classifier probability %.2f", p)
		return res, true
	}

	cleaned := " " + textsim.Clean(title+" "+notes) + " "
	for _, kw := range categoryKeywords {
		if strings.Contains(cleaned, " "+kw+" ") {
			res.ValidGPU = true
			res.Reason = fmt.Sprintf("no identity match; category keyword %q", kw)
			return res, true
		}
	}
	res.Reason = "no identity match; no category keywords"
	return res, true
}
