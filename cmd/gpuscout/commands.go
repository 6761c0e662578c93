package main

import (
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harwick/gpuscout/internal/config"
	"github.com/harwick/gpuscout/internal/ingest"
	"github.com/harwick/gpuscout/internal/listing"
	"github.com/harwick/gpuscout/internal/registry"
	"github.com/harwick/gpuscout/internal/report"
	"github.com/harwick/gpuscout/internal/storage"
)

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file.csv>",
	Short: "Resolve, deduplicate, and score a CSV of listings locally",
	Long: `Analyze a CSV of raw listings without a running server.

Examples:
  gpuscout analyze ./listings.csv
  gpuscout analyze ./listings.csv --format json
  gpuscout analyze ./listings.csv --min-score 0.5 --format csv > scored.csv`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		minScore, _ := cmd.Flags().GetFloat64("min-score")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()

		raws, err := ingest.ParseCSV(f)
		if err != nil {
			return fmt.Errorf("parsing CSV: %w", err)
		}
		if len(raws) == 0 {
			return fmt.Errorf("no listings in %s", args[0])
		}

		p, _, _, err := buildPipeline(cfg)
		if err != nil {
			return err
		}

		batch, meta, err := p.Run(cmd.Context(), raws)
		if err != nil {
			return err
		}

		printStep("%d listings: %d resolved, %d valid GPUs, %d duplicates (%dms)",
			meta.Total, meta.Resolved, meta.ValidGPUs, meta.Duplicates, meta.DurationMs)

		filtered := batch[:0]
		for _, l := range batch {
			if l.Score >= minScore {
				filtered = append(filtered, l)
			}
		}

		switch format {
		case "table":
			printListingTable(filtered)
			return nil
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(filtered)
		case "csv":
			return writeListingCSV(os.Stdout, filtered)
		default:
			return fmt.Errorf("unknown format %q (expected table, json, or csv)", format)
		}
	},
}

func init() {
	analyzeCmd.Flags().String("format", "table", "output format: table, json, or csv")
	analyzeCmd.Flags().Float64("min-score", 0, "only output listings at or above this score")
}

func printListingTable(batch []*listing.Listing) {
	headers := []string{"Score", "Model", "Price", "Role", "Cap", "Title"}
	aligns := []columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignLeft}

	rows := make([][]string, 0, len(batch))
	for _, l := range batch {
		capable := "-"
		if l.Capable {
			capable = "yes"
		}
		title := l.Title
		if len(title) > 60 {
			title = title[:60] + "..."
		}
		rows = append(rows, []string{
			fmt.Sprintf("%.3f", l.Score),
			l.Resolution.Canonical,
			fmt.Sprintf("%.2f", l.Price),
			string(l.Role),
			capable,
			title,
		})
	}
	fmt.Println(renderTable(headers, rows, aligns))
}

func writeListingCSV(w *os.File, batch []*listing.Listing) error {
	cw := csv.NewWriter(w)
	header := []string{"id", "title", "price", "canonical", "match_type", "valid_gpu", "capable", "group_id", "dedup_role", "score"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, l := range batch {
		row := []string{
			l.ID,
			l.Title,
			strconv.FormatFloat(l.Price, 'f', 2, 64),
			l.Resolution.Canonical,
			string(l.Resolution.Match),
			strconv.FormatBool(l.Resolution.ValidGPU),
			strconv.FormatBool(l.Capable),
			l.GroupID,
			string(l.Role),
			strconv.FormatFloat(l.Score, 'f', 4, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// --- resolve ---

var resolveCmd = &cobra.Command{
	Use:   "resolve <title>",
	Short: "Resolve a single listing title to a canonical model",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := strings.Join(args, " ")
		notes, _ := cmd.Flags().GetString("notes")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		reg, engine, err := buildResolver(cfg)
		if err != nil {
			return err
		}

		res := engine.Resolve(title, notes)

		printStatus("Canonical", "%s", res.Canonical)
		printStatus("Match", "%s (%.3f)", res.Match, res.Score)
		printStatus("Valid GPU", "%t", res.ValidGPU)
		if res.Reason != "" {
			printStatus("Reason", "%s", res.Reason)
		}
		if dev, ok := reg.Get(res.Canonical); ok {
			printStatus("Specs", "%dGB VRAM, %dW TDP, partition %d, %s",
				dev.VRAMGB, dev.TDPWatts, dev.PartitionLevel, dev.Architecture)
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().String("notes", "", "listing notes to include in resolution")
}

// --- registry ---

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the canonical device registry",
}

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		reg, err := registry.LoadFile(cfg.Registry.Path)
		if err != nil {
			return fmt.Errorf("loading registry: %w", err)
		}

		headers := []string{"Model", "Vendor", "VRAM", "TDP", "Part", "NVLink", "Arch"}
		aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft}
		rows := make([][]string, 0, reg.Len())
		for _, d := range reg.Devices() {
			interconnect := "-"
			if d.Interconnect {
				interconnect = "yes"
			}
			rows = append(rows, []string{
				d.Name,
				d.Vendor,
				fmt.Sprintf("%dGB", d.VRAMGB),
				fmt.Sprintf("%dW", d.TDPWatts),
				strconv.Itoa(d.PartitionLevel),
				interconnect,
				d.Architecture,
			})
		}
		fmt.Println(renderTable(headers, rows, aligns))
		return nil
	},
}

var registryCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a device registry file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path = cfg.Registry.Path
		}

		reg, err := registry.LoadFile(path)
		if err != nil {
			printError("%s: %v", path, err)
			return err
		}
		printSuccess("%s: %d devices OK", path, reg.Len())
		return nil
	},
}

var registryPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Sync the local device registry into server storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		reg, err := registry.LoadFile(cfg.Registry.Path)
		if err != nil {
			return fmt.Errorf("loading registry: %w", err)
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		if err := store.ReplaceDevices(reg.Devices()); err != nil {
			return fmt.Errorf("syncing devices: %w", err)
		}
		printSuccess("Synced %d devices", reg.Len())
		return nil
	},
}

func init() {
	registryCmd.AddCommand(registryListCmd)
	registryCmd.AddCommand(registryCheckCmd)
	registryCmd.AddCommand(registryPushCmd)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Queue listings for analysis on the running server",
	Long: `Queue listings for analysis on the running server.

Examples:
  gpuscout ingest --csv ./listings.csv --source craigslist-export
  gpuscout ingest --pdf ./auction-catalog.pdf --source auction
  gpuscout ingest --url https://example.com/listing/123 --price 950 --source web`,
	RunE: func(cmd *cobra.Command, args []string) error {
		csvPath, _ := cmd.Flags().GetString("csv")
		pdfPath, _ := cmd.Flags().GetString("pdf")
		pageURL, _ := cmd.Flags().GetString("url")
		source, _ := cmd.Flags().GetString("source")
		price, _ := cmd.Flags().GetFloat64("price")

		if csvPath == "" && pdfPath == "" && pageURL == "" {
			return fmt.Errorf("one of --csv, --pdf, or --url is required")
		}
		if source == "" {
			source = "cli"
		}

		req := map[string]any{"source": source}
		switch {
		case csvPath != "":
			data, err := os.ReadFile(csvPath)
			if err != nil {
				return fmt.Errorf("reading CSV: %w", err)
			}
			req["csv"] = string(data)
		case pdfPath != "":
			data, err := os.ReadFile(pdfPath)
			if err != nil {
				return fmt.Errorf("reading PDF: %w", err)
			}
			req["pdf_base64"] = base64.StdEncoding.EncodeToString(data)
		case pageURL != "":
			req["url"] = pageURL
			if price > 0 {
				req["price"] = price
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/ingest", req)
		if err != nil {
			return err
		}

		var result struct {
			JobID    string `json:"job_id"`
			Listings int    `json:"listings"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued job %s (%d listings)", result.JobID, result.Listings)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("csv", "", "CSV file of raw listings")
	ingestCmd.Flags().String("pdf", "", "PDF catalog of listings")
	ingestCmd.Flags().String("url", "", "listing page URL to fetch server-side")
	ingestCmd.Flags().String("source", "", "source tag for the batch")
	ingestCmd.Flags().Float64("price", 0, "price hint for --url ingest")
}

// --- listings ---

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "Query stored listings on the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		canonical, _ := cmd.Flags().GetString("model")
		role, _ := cmd.Flags().GetString("role")
		minScore, _ := cmd.Flags().GetFloat64("min-score")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		if canonical != "" {
			q.Set("canonical", canonical)
		}
		if role != "" {
			q.Set("role", role)
		}
		if minScore > 0 {
			q.Set("min_score", strconv.FormatFloat(minScore, 'f', -1, 64))
		}
		q.Set("limit", strconv.Itoa(limit))

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/listings?"+q.Encode())
		if err != nil {
			return err
		}

		var results []struct {
			ID        string  `json:"id"`
			Title     string  `json:"title"`
			Price     float64 `json:"price"`
			Canonical string  `json:"canonical"`
			Role      string  `json:"dedup_role"`
			Score     float64 `json:"score"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No listings found.")
			return nil
		}

		headers := []string{"ID", "Score", "Model", "Price", "Role", "Title"}
		aligns := []columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft}
		rows := make([][]string, 0, len(results))
		for _, r := range results {
			title := r.Title
			if len(title) > 50 {
				title = title[:50] + "..."
			}
			rows = append(rows, []string{
				shortID(r.ID),
				fmt.Sprintf("%.3f", r.Score),
				r.Canonical,
				fmt.Sprintf("%.2f", r.Price),
				r.Role,
				title,
			})
		}
		fmt.Println(renderTable(headers, rows, aligns))
		return nil
	},
}

func init() {
	listingsCmd.Flags().String("model", "", "canonical model filter (e.g. RTX_A5000)")
	listingsCmd.Flags().String("role", "", "dedup role filter: unique, primary, or secondary")
	listingsCmd.Flags().Float64("min-score", 0, "minimum composite score")
	listingsCmd.Flags().Int("limit", 20, "maximum number of results")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- report ---

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write a Markdown market report from stored listings",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		topN, _ := cmd.Flags().GetInt("top")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		writer := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		if err := report.Generate(store, topN, writer); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Report written to %s", output)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().String("output", "", "output file path (default: stdout)")
	reportCmd.Flags().Int("top", 10, "number of top-scored listings to include")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
