package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/harwick/gpuscout/internal/listing"
	"github.com/harwick/gpuscout/internal/registry"
	"github.com/harwick/gpuscout/internal/resolve"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding listings, the registry snapshot,
// and the ingest job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "gpuscout.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for read-only consumers (API stats).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// AppliedMigrations returns the recorded schema versions in application
// order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Listings ---

const listingColumns = `id, title, notes, price, source_url, seller, region, observed_at,
	canonical, match_type, match_score, valid_gpu, resolve_reason,
	vram_gb, tdp_watts, partition_level, interconnect, architecture,
	capable, capacity_small, capacity_medium, capacity_large,
	group_id, dedup_role,
	score, score_vram, score_partition, score_interconnect, score_tdp, score_price,
	created_at`

// SaveListings persists a scored batch in one transaction. Existing rows
// with the same ID are replaced, so re-running a batch is idempotent.
func (s *Store) SaveListings(batch []*listing.Listing) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO listings (` + listingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, l := range batch {
		var observedAt any
		if l.ObservedAt != nil {
			observedAt = l.ObservedAt.UTC().Format(time.RFC3339)
		}
		var vram, tdp, partition, interconnect, arch any
		if d := l.Specs; d != nil {
			vram = d.VRAMGB
			tdp = d.TDPWatts
			partition = d.PartitionLevel
			interconnect = boolInt(d.Interconnect)
			arch = d.Architecture
		}
		_, err := stmt.Exec(
			l.ID, l.Title, l.Notes, l.Price, l.SourceURL, l.Seller, l.Region, observedAt,
			l.Resolution.Canonical, string(l.Resolution.Match), l.Resolution.Score,
			boolInt(l.Resolution.ValidGPU), l.Resolution.Reason,
			vram, tdp, partition, interconnect, arch,
			boolInt(l.Capable), l.Capacity.Small, l.Capacity.Medium, l.Capacity.Large,
			l.GroupID, string(l.Role),
			l.Score, l.ScoreParts["vram"], l.ScoreParts["partition"],
			l.ScoreParts["interconnect"], l.ScoreParts["tdp"], l.ScoreParts["price"],
			now,
		)
		if err != nil {
			return fmt.Errorf("inserting listing %s: %w", l.ID, err)
		}
	}
	return tx.Commit()
}

// ListFilter narrows ListListings results. Zero values mean "no filter".
type ListFilter struct {
	Canonical string
	Role      string
	MinScore  float64
	Limit     int
}

// ListListings returns stored listings ordered by score descending.
func (s *Store) ListListings(f ListFilter) ([]*listing.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE 1=1`
	var args []any
	if f.Canonical != "" {
		query += ` AND canonical = ?`
		args = append(args, f.Canonical)
	}
	if f.Role != "" {
		query += ` AND dedup_role = ?`
		args = append(args, f.Role)
	}
	if f.MinScore > 0 {
		query += ` AND score >= ?`
		args = append(args, f.MinScore)
	}
	query += ` ORDER BY score DESC, id ASC`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanListings(rows)
}

// GetListing returns a single listing by ID.
func (s *Store) GetListing(id string) (*listing.Listing, error) {
	rows, err := s.db.Query(`SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results, err := scanListings(rows)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return results[0], nil
}

// GroupMembers returns every listing in the given dedup group, primary
// first.
func (s *Store) GroupMembers(groupID string) ([]*listing.Listing, error) {
	rows, err := s.db.Query(`SELECT `+listingColumns+` FROM listings
		WHERE group_id = ?
		ORDER BY CASE dedup_role WHEN 'primary' THEN 0 WHEN 'unique' THEN 0 ELSE 1 END, id ASC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results, err := scanListings(rows)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return results, nil
}

func scanListings(rows *sql.Rows) ([]*listing.Listing, error) {
	var results []*listing.Listing
	for rows.Next() {
		var l listing.Listing
		var observedAt, arch sql.NullString
		var vram, tdp, partition, interconnect sql.NullInt64
		var validGPU, capable int
		var match, role, createdAt string
		var sv, sp, si, st, spr float64
		err := rows.Scan(
			&l.ID, &l.Title, &l.Notes, &l.Price, &l.SourceURL, &l.Seller, &l.Region, &observedAt,
			&l.Resolution.Canonical, &match, &l.Resolution.Score, &validGPU, &l.Resolution.Reason,
			&vram, &tdp, &partition, &interconnect, &arch,
			&capable, &l.Capacity.Small, &l.Capacity.Medium, &l.Capacity.Large,
			&l.GroupID, &role,
			&l.Score, &sv, &sp, &si, &st, &spr,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}
		l.Resolution.Match = resolve.MatchType(match)
		l.Resolution.ValidGPU = validGPU != 0
		l.Capable = capable != 0
		l.Role = listing.DedupRole(role)
		l.ScoreParts = map[string]float64{
			"vram": sv, "partition": sp, "interconnect": si, "tdp": st, "price": spr,
		}
		if observedAt.Valid {
			if t, err := time.Parse(time.RFC3339, observedAt.String); err == nil {
				l.ObservedAt = &t
			}
		}
		if vram.Valid {
			l.Specs = &registry.Device{
				Name:           l.Resolution.Canonical,
				VRAMGB:         int(vram.Int64),
				TDPWatts:       int(tdp.Int64),
				PartitionLevel: int(partition.Int64),
				Interconnect:   interconnect.Int64 != 0,
				Architecture:   arch.String,
			}
		}
		results = append(results, &l)
	}
	return results, rows.Err()
}

// Stats aggregates the stored listing population.
func (s *Store) Stats() (BatchStats, error) {
	var st BatchStats
	err := s.db.QueryRow(`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN canonical != 'UNKNOWN' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(valid_gpu), 0),
			COALESCE(SUM(CASE WHEN dedup_role IN ('unique','primary') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN dedup_role = 'secondary' THEN 1 ELSE 0 END), 0)
		FROM listings`).Scan(&st.Total, &st.Resolved, &st.ValidGPUs, &st.Unique, &st.Duplicates)
	return st, err
}

// ModelStats returns per-model price aggregates over unique and primary
// listings, ordered by canonical name.
func (s *Store) ModelStats() ([]ModelStats, error) {
	rows, err := s.db.Query(`SELECT canonical, COUNT(*), MIN(price), AVG(price), MAX(price), AVG(score)
		FROM listings
		WHERE canonical != 'UNKNOWN' AND dedup_role IN ('unique','primary')
		GROUP BY canonical
		ORDER BY canonical ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ModelStats
	for rows.Next() {
		var m ModelStats
		if err := rows.Scan(&m.Canonical, &m.Count, &m.MinPrice, &m.AvgPrice, &m.MaxPrice, &m.AvgScore); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// --- Devices ---

// ReplaceDevices snapshots the loaded registry into the devices table so
// API consumers can inspect what the pipeline resolved against.
func (s *Store) ReplaceDevices(devices []registry.Device) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning device transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM devices`); err != nil {
		return fmt.Errorf("clearing devices: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, d := range devices {
		aliases, err := json.Marshal(d.Aliases)
		if err != nil {
			return fmt.Errorf("marshaling aliases for %s: %w", d.Name, err)
		}
		_, err = tx.Exec(`INSERT INTO devices
			(name, vendor, vram_gb, tdp_watts, partition_level, interconnect, architecture, core_count, slot_width, pcie_gen, aliases, loaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.Name, d.Vendor, d.VRAMGB, d.TDPWatts, d.PartitionLevel, boolInt(d.Interconnect),
			d.Architecture, nullableInt(d.CoreCount), nullableInt(d.SlotWidth), nullableInt(d.PCIeGen),
			string(aliases), now,
		)
		if err != nil {
			return fmt.Errorf("inserting device %s: %w", d.Name, err)
		}
	}
	return tx.Commit()
}

// ListDevices returns the stored registry snapshot ordered by name.
func (s *Store) ListDevices() ([]registry.Device, error) {
	rows, err := s.db.Query(`SELECT name, vendor, vram_gb, tdp_watts, partition_level, interconnect, architecture, core_count, slot_width, pcie_gen, aliases
		FROM devices ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []registry.Device
	for rows.Next() {
		var d registry.Device
		var interconnect int
		var coreCount, slotWidth, pcieGen sql.NullInt64
		var aliases string
		if err := rows.Scan(&d.Name, &d.Vendor, &d.VRAMGB, &d.TDPWatts, &d.PartitionLevel, &interconnect, &d.Architecture, &coreCount, &slotWidth, &pcieGen, &aliases); err != nil {
			return nil, err
		}
		d.Interconnect = interconnect != 0
		d.CoreCount = intPtr(coreCount)
		d.SlotWidth = intPtr(slotWidth)
		d.PCIeGen = intPtr(pcieGen)
		if err := json.Unmarshal([]byte(aliases), &d.Aliases); err != nil {
			return nil, fmt.Errorf("parsing aliases for %s: %w", d.Name, err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// --- Jobs ---

// EnqueueJob inserts a pending job. MaxAttempts defaults to 3.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextJob atomically transitions the oldest runnable pending job of
// one of the given types to running and returns it. Returns nil when no
// job is runnable.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

// CompleteJob marks a running job completed.
func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failure. Jobs under their attempt budget return to
// pending with exponential backoff; exhausted jobs go to failed.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
