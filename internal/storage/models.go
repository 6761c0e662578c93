package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job is one unit of ingest work in the SQLite-backed queue.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// ModelStats is a per-canonical-model price aggregate over primary and
// unique listings only, so repost clusters do not skew the distribution.
type ModelStats struct {
	Canonical string
	Count     int
	MinPrice  float64
	AvgPrice  float64
	MaxPrice  float64
	AvgScore  float64
}

// BatchStats summarizes the stored listing population.
type BatchStats struct {
	Total      int
	Resolved   int
	ValidGPUs  int
	Unique     int
	Duplicates int
}
