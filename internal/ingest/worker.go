// Package ingest parses raw listing payloads and processes analyze jobs
// from the SQLite job queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/harwick/gpuscout/internal/listing"
	"github.com/harwick/gpuscout/internal/pipeline"
	"github.com/harwick/gpuscout/internal/storage"
)

// JobType is the queue type tag for batch analysis jobs.
const JobType = "analyze_batch"

// Payload is the JSON body of an analyze_batch job.
type Payload struct {
	Listings []RawInput `json:"listings"`
}

// RawInput is the wire shape of one raw listing inside a job payload or an
// API ingest request.
type RawInput struct {
	ID         string     `json:"id,omitempty"`
	Title      string     `json:"title"`
	Notes      string     `json:"notes,omitempty"`
	Price      float64    `json:"price"`
	SourceURL  string     `json:"source_url,omitempty"`
	Seller     string     `json:"seller,omitempty"`
	Region     string     `json:"region,omitempty"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
}

// ToRaw converts wire input to the pipeline record, assigning an ID when
// the producer did not.
func (in RawInput) ToRaw(newID func() string) listing.Raw {
	id := in.ID
	if id == "" {
		id = newID()
	}
	price := in.Price
	if price < 0 {
		price = 0
	}
	return listing.Raw{
		ID:         id,
		Title:      in.Title,
		Notes:      in.Notes,
		Price:      price,
		SourceURL:  in.SourceURL,
		Seller:     in.Seller,
		Region:     in.Region,
		ObservedAt: in.ObservedAt,
	}
}

// JobStore abstracts the queue operations the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// BatchSaver persists a scored batch.
type BatchSaver interface {
	SaveListings(batch []*listing.Listing) error
}

// Runner runs the analysis pipeline over a raw batch.
type Runner interface {
	Run(ctx context.Context, raws []listing.Raw) ([]*listing.Listing, pipeline.Metadata, error)
}

// Worker claims analyze_batch jobs, runs the pipeline, and persists the
// scored rows.
type Worker struct {
	jobs   JobStore
	runner Runner
	saver  BatchSaver
	newID  func() string
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to
// 500ms.
func NewWorker(jobs JobStore, runner Runner, saver BatchSaver, newID func() string, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		jobs:   jobs,
		runner: runner,
		saver:  saver,
		newID:  newID,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. Returns true if a job was
// processed, regardless of success.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.jobs.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}
	if err := w.jobs.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if len(payload.Listings) == 0 {
		return fmt.Errorf("payload has no listings")
	}

	raws := make([]listing.Raw, len(payload.Listings))
	for i, in := range payload.Listings {
		raws[i] = in.ToRaw(w.newID)
	}

	batch, meta, err := w.runner.Run(ctx, raws)
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}
	if err := w.saver.SaveListings(batch); err != nil {
		return fmt.Errorf("saving batch: %w", err)
	}

	w.logger.Info("batch analyzed",
		"job_id", job.ID,
		"total", meta.Total,
		"resolved", meta.Resolved,
		"duplicates", meta.Duplicates,
	)
	return nil
}
