package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/harwick/gpuscout/internal/listing"
)

// ParseCSV reads raw listings from CSV. The first row is a header; title
// and price columns are required, the rest (notes, source_url, seller,
// region, observed_at) optional in any order. Rows with an unparseable
// price are returned with price 0 rather than rejected; a bad record must
// surface in the output, not vanish.
func ParseCSV(r io.Reader) ([]listing.Raw, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["title"]; !ok {
		return nil, fmt.Errorf("CSV header missing required column %q", "title")
	}

	field := func(row []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var raws []listing.Raw
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row: %w", err)
		}
		raw := listing.Raw{
			ID:        uuid.New().String(),
			Title:     field(row, "title"),
			Notes:     field(row, "notes"),
			SourceURL: field(row, "source_url"),
			Seller:    field(row, "seller"),
			Region:    field(row, "region"),
		}
		if p, err := strconv.ParseFloat(strings.TrimPrefix(field(row, "price"), "$"), 64); err == nil && p >= 0 {
			raw.Price = p
		}
		if ts := field(row, "observed_at"); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				raw.ObservedAt = &t
			}
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

// priceLine matches "some listing title ... $1,234.56" style lines in
// extracted PDF price sheets.
var priceLine = regexp.MustCompile(`^(.*?)[\s.]*\$?\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)\s*$`)

// ParsePDF extracts text from a PDF price sheet and converts each
// title-plus-price line into a raw listing. Lines without a recognizable
// price are skipped; a document yielding no listings is an error so callers
// can surface it.
func ParsePDF(data []byte) ([]listing.Raw, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	var text strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text.WriteString(content)
		text.WriteByte('\n')
	}

	var raws []listing.Raw
	for _, line := range strings.Split(text.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := priceLine.FindStringSubmatch(line)
		if m == nil || strings.TrimSpace(m[1]) == "" {
			continue
		}
		price, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil || price <= 0 {
			continue
		}
		raws = append(raws, listing.Raw{
			ID:    uuid.New().String(),
			Title: strings.TrimSpace(m[1]),
			Price: price,
		})
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("no priced listings found in PDF")
	}
	return raws, nil
}

// HTMLToText reduces a fetched listing page to its visible text. Script and
// style subtrees are dropped; everything else is concatenated with spaces.
func HTMLToText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String()), nil
}

// PageTitle returns the <title> text of an HTML document, or "".
func PageTitle(r io.Reader) string {
	doc, err := html.Parse(r)
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}
