// Package pipeline orchestrates the listing analysis stages: resolution,
// enrichment, tagging, deduplication, and scoring over one in-memory batch.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harwick/gpuscout/internal/dedup"
	"github.com/harwick/gpuscout/internal/enrich"
	"github.com/harwick/gpuscout/internal/heuristics"
	"github.com/harwick/gpuscout/internal/listing"
	"github.com/harwick/gpuscout/internal/resolve"
	"github.com/harwick/gpuscout/internal/scoring"
)

const defaultParallelism = 4

// Metadata captures diagnostic counters for one batch run.
type Metadata struct {
	Total      int
	Resolved   int
	ValidGPUs  int
	Duplicates int
	DurationMs int64
}

// Pipeline wires the stages together. Per-record stages run in parallel;
// deduplication runs single-threaded over the completed batch because its
// correctness depends on seeing every record.
type Pipeline struct {
	resolver    *resolve.Engine
	enricher    *enrich.Enricher
	taggers     []heuristics.Tagger
	scorer      scoring.Scorer
	thresholds  dedup.Thresholds
	parallelism int
	logger      *slog.Logger
}

// New creates a Pipeline. parallelism bounds the per-record worker count
// (default 4 if <= 0).
func New(
	resolver *resolve.Engine,
	enricher *enrich.Enricher,
	taggers []heuristics.Tagger,
	scorer scoring.Scorer,
	thresholds dedup.Thresholds,
	parallelism int,
) *Pipeline {
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Pipeline{
		resolver:    resolver,
		enricher:    enricher,
		taggers:     taggers,
		scorer:      scorer,
		thresholds:  thresholds,
		parallelism: parallelism,
		logger:      slog.Default(),
	}
}

// Run transforms a batch of raw listings into scored, dedup-annotated
// records. Output order matches input order; no record is ever dropped, a
// bad record surfaces as an UNKNOWN/invalid row instead of an absence. Partial
// results from a cancelled context are not valid: Run returns ctx.Err() and
// callers must discard the batch.
func (p *Pipeline) Run(ctx context.Context, raws []listing.Raw) ([]*listing.Listing, Metadata, error) {
	start := time.Now()
	meta := Metadata{Total: len(raws)}

	batch := make([]*listing.Listing, len(raws))
	for i, raw := range raws {
		batch[i] = &listing.Listing{Raw: raw}
	}

	// Per-record stages are embarrassingly parallel. Each worker owns its
	// record; the only shared state (registry, config) is read-only.
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for _, l := range batch {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			p.processRecord(l)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, meta, err
	}

	dedup.Deduplicate(batch, p.thresholds)

	for _, l := range batch {
		if l.Resolved() {
			meta.Resolved++
		}
		if l.Resolution.ValidGPU {
			meta.ValidGPUs++
		}
		if l.Role == listing.RoleSecondary {
			meta.Duplicates++
		}
	}
	meta.DurationMs = time.Since(start).Milliseconds()

	p.logger.Debug("batch complete",
		"total", meta.Total,
		"resolved", meta.Resolved,
		"valid", meta.ValidGPUs,
		"duplicates", meta.Duplicates,
		"duration_ms", meta.DurationMs,
	)
	return batch, meta, nil
}

func (p *Pipeline) processRecord(l *listing.Listing) {
	l.Resolution = p.resolver.Resolve(l.Title, l.Notes)
	p.enricher.Enrich(l)
	for _, t := range p.taggers {
		t.Tag(l)
	}
	l.Score, l.ScoreParts = p.scorer.Score(l)
}
