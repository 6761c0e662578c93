// Package textsim provides the string normalization and similarity scoring
// shared by the resolver's fuzzy stage and the deduplication engine.
package textsim

import (
	"sort"
	"strings"
	"unicode"
)

// Clean lowercases the input and strips everything except letters, digits,
// and single spaces. Marketplace titles arrive with punctuation, emoji, and
// seller boilerplate separators; those never carry model identity.
func Clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens returns the cleaned, deduplicated token set of s.
func Tokens(s string) []string {
	fields := strings.Fields(Clean(s))
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

// Ratio is the normalized Levenshtein similarity of two cleaned strings,
// in [0,1]. Equal strings score 1, fully dissimilar strings score 0.
func Ratio(a, b string) float64 {
	a, b = Clean(a), Clean(b)
	if a == b {
		return 1
	}
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

// TokenSetRatio compares the token sets of two strings the way fuzzy title
// matchers do: it scores the sorted intersection against each sorted token
// set and takes the best, so extra boilerplate tokens on one side do not
// drown out an otherwise exact model-name match.
func TokenSetRatio(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		if len(ta) == 0 && len(tb) == 0 {
			return 1
		}
		return 0
	}

	setA := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		setA[t] = struct{}{}
	}
	var inter, onlyA, onlyB []string
	for _, t := range tb {
		if _, ok := setA[t]; ok {
			inter = append(inter, t)
		} else {
			onlyB = append(onlyB, t)
		}
	}
	interSet := make(map[string]struct{}, len(inter))
	for _, t := range inter {
		interSet[t] = struct{}{}
	}
	for _, t := range ta {
		if _, ok := interSet[t]; !ok {
			onlyA = append(onlyA, t)
		}
	}

	sortedJoin := func(ts []string) string {
		cp := make([]string, len(ts))
		copy(cp, ts)
		sort.Strings(cp)
		return strings.Join(cp, " ")
	}

	base := sortedJoin(inter)
	combinedA := strings.TrimSpace(base + " " + sortedJoin(onlyA))
	combinedB := strings.TrimSpace(base + " " + sortedJoin(onlyB))

	best := Ratio(base, combinedA)
	if r := Ratio(base, combinedB); r > best {
		best = r
	}
	if r := Ratio(combinedA, combinedB); r > best {
		best = r
	}
	return best
}

// levenshtein computes the edit distance between two strings using the
// two-row dynamic programming form.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
