// Package api exposes the stored listing records over HTTP and MCP.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harwick/gpuscout/internal/ingest"
	"github.com/harwick/gpuscout/internal/listing"
	"github.com/harwick/gpuscout/internal/registry"
	"github.com/harwick/gpuscout/internal/resolve"
	"github.com/harwick/gpuscout/internal/storage"
)

const (
	maxIngestBodySize = 10 << 20
	maxURLFetchSize   = 5 << 20
)

// IngestRequest is the wire shape of POST /ingest. Exactly one of Listings,
// CSV, PDFBase64, or URL supplies the raw records.
type IngestRequest struct {
	Source    string            `json:"source"`
	Listings  []ingest.RawInput `json:"listings,omitempty"`
	CSV       string            `json:"csv,omitempty"`
	PDFBase64 string            `json:"pdf_base64,omitempty"`
	URL       string            `json:"url,omitempty"`
	Price     float64           `json:"price,omitempty"` // price hint for URL ingest
}

// AppDeps holds the dependencies for the management handler.
type AppDeps struct {
	Store      *storage.Store
	Registry   *registry.Registry
	Resolver   *resolve.Engine
	Token      string
	HTTPClient *http.Client
}

// NewAppHandler builds the authenticated management router plus the open
// health endpoint.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/ingest", handleIngest(deps))
		r.Get("/listings", handleListListings(deps))
		r.Get("/listings/{id}", handleGetListing(deps))
		r.Get("/groups/{id}", handleGetGroup(deps))
		r.Get("/devices", handleListDevices(deps))
		r.Get("/stats", handleStats(deps))
		r.Post("/resolve", handleResolve(deps))
	})

	return r
}

func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Source == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "source is required")
			return
		}

		var raws []ingest.RawInput
		switch {
		case len(req.Listings) > 0:
			raws = req.Listings
		case req.CSV != "":
			parsed, err := ingest.ParseCSV(strings.NewReader(req.CSV))
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "parsing CSV: %v", err)
				return
			}
			raws = rawsToInputs(parsed)
		case req.PDFBase64 != "":
			data, err := base64.StdEncoding.DecodeString(req.PDFBase64)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 PDF: %v", err)
				return
			}
			parsed, err := ingest.ParsePDF(data)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "parsing PDF: %v", err)
				return
			}
			raws = rawsToInputs(parsed)
		case req.URL != "":
			raw, err := fetchURLListing(r.Context(), deps.HTTPClient, req.URL, req.Price)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "fetching url: %v", err)
				return
			}
			raws = []ingest.RawInput{raw}
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of listings, csv, pdf_base64, or url is required")
			return
		}

		payload, err := json.Marshal(ingest.Payload{Listings: raws})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "encoding payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        ingest.JobType,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "enqueueing job: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id":   job.ID,
			"listings": len(raws),
			"status":   "pending",
		})
	}
}

func fetchURLListing(ctx context.Context, client *http.Client, url string, price float64) (ingest.RawInput, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return ingest.RawInput{}, fmt.Errorf("invalid url: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return ingest.RawInput{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ingest.RawInput{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
	if err != nil {
		return ingest.RawInput{}, err
	}
	text, err := ingest.HTMLToText(bytes.NewReader(data))
	if err != nil {
		return ingest.RawInput{}, err
	}
	title := ingest.PageTitle(bytes.NewReader(data))
	if title == "" {
		// No <title> element; fall back to the leading visible text.
		title = truncate(text, 120)
	}
	now := time.Now().UTC()
	return ingest.RawInput{
		Title:      title,
		Notes:      truncate(text, 2000),
		Price:      price,
		SourceURL:  url,
		ObservedAt: &now,
	}, nil
}

func handleListListings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := storage.ListFilter{
			Canonical: r.URL.Query().Get("canonical"),
			Role:      r.URL.Query().Get("role"),
		}
		if v := r.URL.Query().Get("min_score"); v != "" {
			if s, err := strconv.ParseFloat(v, 64); err == nil {
				f.MinScore = s
			}
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				f.Limit = n
			}
		}

		results, err := deps.Store.ListListings(f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing query: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, listingsToWire(results))
	}
}

func handleGetListing(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		l, err := deps.Store.GetListing(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "listing %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading listing: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, listingToWire(l))
	}
}

func handleGetGroup(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		members, err := deps.Store.GroupMembers(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "group %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading group: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"group_id": id,
			"size":     len(members),
			"members":  listingsToWire(members),
		})
	}
}

func handleListDevices(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		devices, err := deps.Store.ListDevices()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing devices: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, devices)
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		stats, err := deps.Store.Stats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "computing stats: %v", err)
			return
		}
		models, err := deps.Store.ModelStats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "computing model stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"totals": stats,
			"models": models,
		})
	}
}

// handleResolve runs the resolution engine on a single title without
// persisting anything; a debugging aid for curating patterns and aliases.
func handleResolve(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string `json:"title"`
			Notes string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}
		res := deps.Resolver.Resolve(req.Title, req.Notes)
		writeJSON(w, http.StatusOK, map[string]any{
			"canonical":   res.Canonical,
			"match_type":  res.Match,
			"match_score": res.Score,
			"valid_gpu":   res.ValidGPU,
			"reason":      res.Reason,
		})
	}
}

// --- wire helpers ---

type wireListing struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Notes      string     `json:"notes,omitempty"`
	Price      float64    `json:"price"`
	SourceURL  string     `json:"source_url,omitempty"`
	Seller     string     `json:"seller,omitempty"`
	Region     string     `json:"region,omitempty"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`

	Canonical     string  `json:"canonical"`
	MatchType     string  `json:"match_type"`
	MatchScore    float64 `json:"match_score"`
	ValidGPU      bool    `json:"valid_gpu"`
	ResolveReason string  `json:"resolve_reason,omitempty"`

	Specs *registry.Device `json:"specs,omitempty"`

	Capable        bool `json:"capable"`
	CapacitySmall  int  `json:"capacity_small"`
	CapacityMedium int  `json:"capacity_medium"`
	CapacityLarge  int  `json:"capacity_large"`

	GroupID string `json:"group_id"`
	Role    string `json:"dedup_role"`

	Score      float64            `json:"score"`
	ScoreParts map[string]float64 `json:"score_parts"`
}

func listingToWire(l *listing.Listing) wireListing {
	return wireListing{
		ID:         l.ID,
		Title:      l.Title,
		Notes:      l.Notes,
		Price:      l.Price,
		SourceURL:  l.SourceURL,
		Seller:     l.Seller,
		Region:     l.Region,
		ObservedAt: l.ObservedAt,

		Canonical:     l.Resolution.Canonical,
		MatchType:     string(l.Resolution.Match),
		MatchScore:    l.Resolution.Score,
		ValidGPU:      l.Resolution.ValidGPU,
		ResolveReason: l.Resolution.Reason,

		Specs: l.Specs,

		Capable:        l.Capable,
		CapacitySmall:  l.Capacity.Small,
		CapacityMedium: l.Capacity.Medium,
		CapacityLarge:  l.Capacity.Large,

		GroupID: l.GroupID,
		Role:    string(l.Role),

		Score:      l.Score,
		ScoreParts: l.ScoreParts,
	}
}

func listingsToWire(ls []*listing.Listing) []wireListing {
	out := make([]wireListing, len(ls))
	for i, l := range ls {
		out[i] = listingToWire(l)
	}
	return out
}

func rawsToInputs(raws []listing.Raw) []ingest.RawInput {
	out := make([]ingest.RawInput, len(raws))
	for i, r := range raws {
		out[i] = ingest.RawInput{
			ID:         r.ID,
			Title:      r.Title,
			Notes:      r.Notes,
			Price:      r.Price,
			SourceURL:  r.SourceURL,
			Seller:     r.Seller,
			Region:     r.Region,
			ObservedAt: r.ObservedAt,
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
