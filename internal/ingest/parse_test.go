package ingest

import (
	"strings"
	"testing"
	"time"
)

func TestParseCSV(t *testing.T) {
	input := `title,price,notes,source_url,seller,region,observed_at
NVIDIA RTX A5000 24GB,$1400.00,light use,https://example.com/a,dealer,US,2026-03-14T10:00:00Z
A100 80GB SXM,9000,,,,,
`
	raws, err := ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("row count = %d, want 2", len(raws))
	}

	a := raws[0]
	if a.Title != "NVIDIA RTX A5000 24GB" || a.Price != 1400 {
		t.Errorf("row 0 = %+v", a)
	}
	if a.Notes != "light use" || a.SourceURL != "https://example.com/a" || a.Seller != "dealer" || a.Region != "US" {
		t.Errorf("optional fields = %+v", a)
	}
	if a.ObservedAt == nil || !a.ObservedAt.Equal(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("observed_at = %v", a.ObservedAt)
	}
	if a.ID == "" {
		t.Error("expected a generated ID")
	}

	b := raws[1]
	if b.Title != "A100 80GB SXM" || b.Price != 9000 || b.ObservedAt != nil {
		t.Errorf("row 1 = %+v", b)
	}
}

// TestParseCSVColumnOrder verifies columns are matched by header name, not
// position.
func TestParseCSVColumnOrder(t *testing.T) {
	input := `price,region,title
500,EU,RTX 3090
`
	raws, err := ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(raws) != 1 || raws[0].Title != "RTX 3090" || raws[0].Price != 500 || raws[0].Region != "EU" {
		t.Errorf("rows = %+v", raws)
	}
}

// TestParseCSVBadPrice verifies rows with an unparseable price survive with
// price zero instead of vanishing.
func TestParseCSVBadPrice(t *testing.T) {
	input := `title,price
RTX 3090,lots
RTX 3090 Ti,-50
RTX 4090,1600
`
	raws, err := ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(raws) != 3 {
		t.Fatalf("row count = %d, want 3", len(raws))
	}
	if raws[0].Price != 0 || raws[1].Price != 0 {
		t.Errorf("bad prices = %f, %f, want 0", raws[0].Price, raws[1].Price)
	}
	if raws[2].Price != 1600 {
		t.Errorf("good price = %f", raws[2].Price)
	}
}

func TestParseCSVMissingTitleColumn(t *testing.T) {
	if _, err := ParseCSV(strings.NewReader("price,notes\n100,x\n")); err == nil {
		t.Fatal("expected error for missing title column")
	}
}

func TestParseCSVEmpty(t *testing.T) {
	if _, err := ParseCSV(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty input")
	}

	raws, err := ParseCSV(strings.NewReader("title,price\n"))
	if err != nil {
		t.Fatalf("header-only input: %v", err)
	}
	if len(raws) != 0 {
		t.Errorf("rows = %+v, want none", raws)
	}
}

func TestPriceLine(t *testing.T) {
	tests := []struct {
		line  string
		title string
		price string
	}{
		{"NVIDIA RTX A5000 24GB .... $1,400.00", "NVIDIA RTX A5000 24GB", "1,400.00"},
		{"A100 80GB SXM 9000", "A100 80GB SXM", "9000"},
		{"Tesla V100 $ 650", "Tesla V100", "650"},
		{"just a heading", "", ""},
		{"$450", "", ""},
	}
	for _, tt := range tests {
		m := priceLine.FindStringSubmatch(tt.line)
		if tt.price == "" {
			if m != nil && strings.TrimSpace(m[1]) != "" {
				t.Errorf("%q: unexpected match %v", tt.line, m)
			}
			continue
		}
		if m == nil {
			t.Errorf("%q: no match", tt.line)
			continue
		}
		if got := strings.TrimSpace(m[1]); got != tt.title {
			t.Errorf("%q: title = %q, want %q", tt.line, got, tt.title)
		}
		if m[2] != tt.price {
			t.Errorf("%q: price = %q, want %q", tt.line, m[2], tt.price)
		}
	}
}

func TestHTMLToText(t *testing.T) {
	page := `<html><head><title>RTX A5000 for sale</title>
<script>var x = "ignore me";</script>
<style>body { color: red; }</style></head>
<body><h1>NVIDIA RTX A5000</h1><p>24GB workstation GPU, $1400</p></body></html>`

	text, err := HTMLToText(strings.NewReader(page))
	if err != nil {
		t.Fatalf("HTMLToText: %v", err)
	}
	if !strings.Contains(text, "NVIDIA RTX A5000") || !strings.Contains(text, "24GB workstation GPU, $1400") {
		t.Errorf("text = %q", text)
	}
	if strings.Contains(text, "ignore me") || strings.Contains(text, "color: red") {
		t.Errorf("script/style leaked into text: %q", text)
	}
}

func TestPageTitle(t *testing.T) {
	if got := PageTitle(strings.NewReader(`<html><head><title> RTX A5000 for sale </title></head></html>`)); got != "RTX A5000 for sale" {
		t.Errorf("PageTitle = %q", got)
	}
	if got := PageTitle(strings.NewReader(`<html><body><p>no title here</p></body></html>`)); got != "" {
		t.Errorf("PageTitle = %q, want empty", got)
	}
}
