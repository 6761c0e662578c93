// Package dedup collapses near-duplicate listings (reposts of the same
// physical offer) into groups with one designated primary each.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/harwick/gpuscout/internal/listing"
	"github.com/harwick/gpuscout/internal/textsim"
)

// Thresholds configures the pairwise duplicate rule.
type Thresholds struct {
	// SimilarityThreshold is the minimum title token-set similarity for the
	// similarity+price rule.
	SimilarityThreshold float64
	// PriceEpsilon is the maximum relative price difference for the
	// similarity+price rule.
	PriceEpsilon float64
}

// DefaultThresholds returns the documented dedup defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SimilarityThreshold: 0.85,
		PriceEpsilon:        0.02,
	}
}

// Deduplicate labels every listing in the batch with a group identity and a
// role (unique, primary, secondary). The batch is annotated in place: no
// listing is dropped or reordered. Group membership partitions the batch;
// duplicate pairs merge transitively (A~B and B~C put A, B, C in one group).
//
// Two listings pair as duplicates when title similarity clears
// SimilarityThreshold AND their relative price difference is within
// PriceEpsilon. Source-URL equality is a stronger independent signal that
// pairs them regardless of similarity and price.
func Deduplicate(batch []*listing.Listing, th Thresholds) {
	if th.SimilarityThreshold <= 0 {
		th.SimilarityThreshold = DefaultThresholds().SimilarityThreshold
	}
	if th.PriceEpsilon <= 0 {
		th.PriceEpsilon = DefaultThresholds().PriceEpsilon
	}

	n := len(batch)
	uf := newUnionFind(n)

	// URL identity: exact source equality marks duplicates outright.
	byURL := make(map[string]int, n)
	for i, l := range batch {
		url := strings.TrimSpace(l.SourceURL)
		if url == "" {
			continue
		}
		if first, ok := byURL[url]; ok {
			uf.union(first, i)
			continue
		}
		byURL[url] = i
	}

	// Price blocking: sort by price and only compare pairs inside the
	// epsilon window, which keeps candidate generation sub-quadratic for
	// realistic price distributions. Correctness is still the pairwise rule;
	// any pair within epsilon lands in the same window.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		if batch[order[a]].Price != batch[order[b]].Price {
			return batch[order[a]].Price < batch[order[b]].Price
		}
		return order[a] < order[b]
	})

	for wi, i := range order {
		li := batch[i]
		for wj := wi + 1; wj < n; wj++ {
			j := order[wj]
			lj := batch[j]
			if !priceClose(li.Price, lj.Price, th.PriceEpsilon) {
				// Prices are sorted; once the window exceeds epsilon no
				// later candidate can re-enter it.
				break
			}
			if uf.find(i) == uf.find(j) {
				continue
			}
			if textsim.TokenSetRatio(li.Title, lj.Title) >= th.SimilarityThreshold {
				uf.union(i, j)
			}
		}
	}

	assignGroups(batch, uf)
}

// priceClose reports whether the relative price difference is within eps.
// Relative difference is against the larger price so the test is symmetric.
func priceClose(a, b, eps float64) bool {
	if a == b {
		return true
	}
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return true
	}
	return math.Abs(a-b)/larger <= eps
}

// assignGroups selects each group's primary with a deterministic total
// order and writes group IDs and roles back onto the batch.
func assignGroups(batch []*listing.Listing, uf *unionFind) {
	groups := make(map[int][]int, len(batch))
	for i := range batch {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	for _, members := range groups {
		primary := members[0]
		for _, idx := range members[1:] {
			if comparePrimary(batch[idx], batch[primary]) < 0 {
				primary = idx
			}
		}

		gid := groupID(batch[primary])
		for _, idx := range members {
			batch[idx].GroupID = gid
			switch {
			case len(members) == 1:
				batch[idx].Role = listing.RoleUnique
			case idx == primary:
				batch[idx].Role = listing.RolePrimary
			default:
				batch[idx].Role = listing.RoleSecondary
			}
		}
	}
}

// comparePrimary is the total order for primary selection: earliest
// observation timestamp first (absent timestamps sort last), then lowest
// price, then lexicographically smallest source URL, then smallest listing
// ID. Stable across runs by construction.
func comparePrimary(a, b *listing.Listing) int {
	switch {
	case a.ObservedAt != nil && b.ObservedAt == nil:
		return -1
	case a.ObservedAt == nil && b.ObservedAt != nil:
		return 1
	case a.ObservedAt != nil && b.ObservedAt != nil:
		if a.ObservedAt.Before(*b.ObservedAt) {
			return -1
		}
		if b.ObservedAt.Before(*a.ObservedAt) {
			return 1
		}
	}
	if a.Price != b.Price {
		if a.Price < b.Price {
			return -1
		}
		return 1
	}
	if c := strings.Compare(a.SourceURL, b.SourceURL); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// groupID derives the group identity from the primary's stable attributes.
func groupID(primary *listing.Listing) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%.2f", primary.SourceURL, primary.Title, primary.Price))
	return hex.EncodeToString(sum[:])[:16]
}
