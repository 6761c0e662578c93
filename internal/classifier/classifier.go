// Package classifier loads a pre-trained binary "is this a GPU listing"
// model and exposes it as an opaque probability function. The model is a
// logistic bag-of-words artifact; training happens elsewhere.
package classifier

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"unicode"
)

// Model scores free text for membership in the target device category.
type Model interface {
	// Predict returns a probability in [0,1] that the text describes a GPU.
	Predict(text string) float64
}

// LogisticModel is a bag-of-words logistic regression loaded from a JSON
// artifact: {"bias": -1.5, "weights": {"gpu": 2.1, "nvidia": 1.4, ...}}.
type LogisticModel struct {
	Bias    float64            `json:"bias"`
	Weights map[string]float64 `json:"weights"`
}

// Load reads a model artifact from disk. Callers are expected to treat a nil
// model as "classifier disabled" rather than an error condition; Detect
// wraps that policy.
func Load(path string) (*LogisticModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model artifact %s: %w", path, err)
	}
	var m LogisticModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing model artifact %s: %w", path, err)
	}
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("model artifact %s has no weights", path)
	}
	return &m, nil
}

// Detect loads the artifact at path and degrades to a disabled classifier
// (nil Model) when the path is empty, the file is missing, or the artifact
// is malformed. Load failures are logged, never propagated: the resolver
// falls back to lexical validity inference.
func Detect(path string) Model {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	m, err := Load(path)
	if err != nil {
		slog.Warn("classifier unavailable, continuing with lexical validity only", "error", err)
		return nil
	}
	slog.Debug("classifier loaded", "path", path, "vocabulary", len(m.Weights))
	return m
}

// Predict implements Model.
func (m *LogisticModel) Predict(text string) float64 {
	z := m.Bias
	for _, tok := range tokenize(text) {
		z += m.Weights[tok]
	}
	return 1 / (1 + math.Exp(-z))
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
