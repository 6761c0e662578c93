package dedup

import (
	"testing"
	"time"

	"github.com/harwick/gpuscout/internal/listing"
)

func mk(id, title string, price float64) *listing.Listing {
	return &listing.Listing{Raw: listing.Raw{ID: id, Title: title, Price: price}}
}

func TestUniqueListings(t *testing.T) {
	batch := []*listing.Listing{
		mk("a", "RTX A5000 workstation card", 1400),
		mk("b", "Radeon RX 6700 XT", 300),
		mk("c", "Intel Arc A770 16GB", 250),
	}

	Deduplicate(batch, DefaultThresholds())

	for _, l := range batch {
		if l.Role != listing.RoleUnique {
			t.Errorf("%s: role = %s, want unique", l.ID, l.Role)
		}
		if l.GroupID == "" {
			t.Errorf("%s: missing group id", l.ID)
		}
	}
	if batch[0].GroupID == batch[1].GroupID {
		t.Error("distinct listings must not share a group")
	}
}

func TestSimilarTitleClosePrice(t *testing.T) {
	batch := []*listing.Listing{
		mk("a", "NVIDIA RTX A5000 24GB workstation GPU", 1400),
		mk("b", "NVIDIA RTX A5000 24GB workstation GPU!!", 1410),
	}

	Deduplicate(batch, DefaultThresholds())

	if batch[0].GroupID != batch[1].GroupID {
		t.Fatal("near-identical reposts must share a group")
	}
	roles := map[listing.DedupRole]int{}
	for _, l := range batch {
		roles[l.Role]++
	}
	if roles[listing.RolePrimary] != 1 || roles[listing.RoleSecondary] != 1 {
		t.Errorf("roles = %v, want one primary and one secondary", roles)
	}
}

// TestPriceEpsilonBlocks verifies similar titles with prices outside the
// epsilon stay separate.
func TestPriceEpsilonBlocks(t *testing.T) {
	batch := []*listing.Listing{
		mk("a", "NVIDIA RTX A5000 24GB workstation GPU", 1400),
		mk("b", "NVIDIA RTX A5000 24GB workstation GPU", 1800),
	}

	Deduplicate(batch, DefaultThresholds())

	if batch[0].GroupID == batch[1].GroupID {
		t.Error("a 28% price gap must not pair under a 2% epsilon")
	}
}

// TestURLEqualityOverrides verifies source-URL equality pairs listings even
// when similarity and price would not.
func TestURLEqualityOverrides(t *testing.T) {
	a := mk("a", "RTX A5000 listed", 1400)
	b := mk("b", "workstation card relist, new photos", 1460)
	a.SourceURL = "https://example.com/listing/42"
	b.SourceURL = "https://example.com/listing/42"

	batch := []*listing.Listing{a, b}
	Deduplicate(batch, DefaultThresholds())

	if a.GroupID != b.GroupID {
		t.Error("same source URL must pair regardless of title and price")
	}
}

func TestEmptyURLNeverPairs(t *testing.T) {
	batch := []*listing.Listing{
		mk("a", "RTX A5000 one", 100),
		mk("b", "totally different thing", 5000),
	}

	Deduplicate(batch, DefaultThresholds())

	if batch[0].GroupID == batch[1].GroupID {
		t.Error("two empty source URLs must not pair")
	}
}

// TestTransitiveMerge verifies A~B and B~C put all three in one group even
// if A and C would not pair directly.
func TestTransitiveMerge(t *testing.T) {
	a := mk("a", "NVIDIA RTX A5000 24GB", 1400)
	b := mk("b", "NVIDIA RTX A5000 24GB", 1420)
	c := mk("c", "NVIDIA RTX A5000 24GB", 1445)

	batch := []*listing.Listing{a, b, c}
	Deduplicate(batch, DefaultThresholds())

	if a.GroupID != b.GroupID || b.GroupID != c.GroupID {
		t.Fatalf("expected one transitive group, got %s / %s / %s", a.GroupID, b.GroupID, c.GroupID)
	}
	primaries := 0
	for _, l := range batch {
		if l.Role == listing.RolePrimary {
			primaries++
		}
	}
	if primaries != 1 {
		t.Errorf("primaries = %d, want exactly 1", primaries)
	}
}

// TestPrimaryDeterministic verifies the primary tie-break order: earliest
// observation first, then lowest price, then source URL, then ID.
func TestPrimaryDeterministic(t *testing.T) {
	early := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	a := mk("a", "NVIDIA RTX A5000 24GB", 1400)
	b := mk("b", "NVIDIA RTX A5000 24GB", 1400)
	c := mk("c", "NVIDIA RTX A5000 24GB", 1400)
	a.ObservedAt = &late
	b.ObservedAt = &early
	// c has no timestamp and sorts last despite the smallest price.
	c.Price = 1390

	batch := []*listing.Listing{a, b, c}
	Deduplicate(batch, DefaultThresholds())

	if b.Role != listing.RolePrimary {
		t.Errorf("primary = %v, want b (earliest observation)", roles(batch))
	}

	// Same input in a different order selects the same primary.
	a2, b2, c2 := mk("a", a.Title, a.Price), mk("b", b.Title, b.Price), mk("c", c.Title, c.Price)
	a2.ObservedAt, b2.ObservedAt = &late, &early
	batch2 := []*listing.Listing{c2, a2, b2}
	Deduplicate(batch2, DefaultThresholds())
	if b2.Role != listing.RolePrimary {
		t.Errorf("primary after reorder = %v, want b", roles(batch2))
	}
	if b2.GroupID != b.GroupID {
		t.Errorf("group id unstable across input order: %s vs %s", b.GroupID, b2.GroupID)
	}
}

func roles(batch []*listing.Listing) map[string]listing.DedupRole {
	out := make(map[string]listing.DedupRole, len(batch))
	for _, l := range batch {
		out[l.ID] = l.Role
	}
	return out
}

func TestPriceClose(t *testing.T) {
	tests := []struct {
		a, b, eps float64
		want      bool
	}{
		{100, 100, 0.02, true},
		{100, 102, 0.02, true},
		{100, 103, 0.02, false},
		{0, 0, 0.02, true},
		{0, 1, 0.02, false},
		{1400, 1428, 0.02, true},
	}
	for _, tt := range tests {
		if got := priceClose(tt.a, tt.b, tt.eps); got != tt.want {
			t.Errorf("priceClose(%f, %f, %f) = %t, want %t", tt.a, tt.b, tt.eps, got, tt.want)
		}
	}
	// Symmetry.
	if priceClose(100, 102, 0.02) != priceClose(102, 100, 0.02) {
		t.Error("priceClose is not symmetric")
	}
}

func TestUnionFind(t *testing.T) {
	uf := newUnionFind(5)
	uf.union(0, 1)
	uf.union(3, 4)
	uf.union(1, 3)

	if uf.find(0) != uf.find(4) {
		t.Error("expected 0 and 4 connected via 1-3")
	}
	if uf.find(2) == uf.find(0) {
		t.Error("expected 2 to stay isolated")
	}
}
