// Package report renders a Markdown summary of the stored listing market.
package report

import (
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/harwick/gpuscout/internal/listing"
	"github.com/harwick/gpuscout/internal/storage"
)

// Data is everything the market report template needs.
type Data struct {
	GeneratedAt time.Time
	Totals      storage.BatchStats
	Models      []storage.ModelStats
	Top         []*listing.Listing
}

// Store is the subset of storage operations the report reads from.
type Store interface {
	Stats() (storage.BatchStats, error)
	ModelStats() ([]storage.ModelStats, error)
	ListListings(f storage.ListFilter) ([]*listing.Listing, error)
}

const reportTemplate = `# GPU Market Report

Generated {{.GeneratedAt.Format "2006-01-02 15:04 UTC"}}

## Totals

| Metric | Count |
|---|---|
| Listings | {{.Totals.Total}} |
| Resolved | {{.Totals.Resolved}} |
| Valid GPUs | {{.Totals.ValidGPUs}} |
| Unique | {{.Totals.Unique}} |
| Duplicates | {{.Totals.Duplicates}} |

## Price by Model

| Model | Count | Min | Avg | Max | Avg Score |
|---|---|---|---|---|---|
{{- range .Models}}
| {{.Canonical}} | {{.Count}} | {{price .MinPrice}} | {{price .AvgPrice}} | {{price .MaxPrice}} | {{printf "%.3f" .AvgScore}} |
{{- end}}

## Top Listings

| Score | Model | Price | Title |
|---|---|---|---|
{{- range .Top}}
| {{printf "%.3f" .Score}} | {{.Resolution.Canonical}} | {{price .Price}} | {{.Title}} |
{{- end}}
`

var tmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"price": func(v float64) string {
		if v <= 0 {
			return "-"
		}
		return fmt.Sprintf("$%.2f", v)
	},
}).Parse(reportTemplate))

// Generate collects stats and top-scored unduplicated listings and writes
// the Markdown report to w.
func Generate(store Store, topN int, w io.Writer) error {
	if topN <= 0 {
		topN = 10
	}

	totals, err := store.Stats()
	if err != nil {
		return fmt.Errorf("collecting stats: %w", err)
	}
	models, err := store.ModelStats()
	if err != nil {
		return fmt.Errorf("collecting model stats: %w", err)
	}

	top, err := store.ListListings(storage.ListFilter{Limit: topN * 2})
	if err != nil {
		return fmt.Errorf("listing top records: %w", err)
	}
	// Secondary duplicates would pad the table with reposts of the same
	// primary record.
	filtered := top[:0]
	for _, l := range top {
		if l.Role == listing.RoleSecondary {
			continue
		}
		filtered = append(filtered, l)
		if len(filtered) == topN {
			break
		}
	}

	return Render(Data{
		GeneratedAt: time.Now().UTC(),
		Totals:      totals,
		Models:      models,
		Top:         filtered,
	}, w)
}

// Render writes the report for pre-collected data.
func Render(d Data, w io.Writer) error {
	if err := tmpl.Execute(w, d); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	return nil
}
