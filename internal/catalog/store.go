// Package catalog is the durable record of processed files: one dicomdb row
// per header read, one errors row per failed read. It is the only state
// shared between scanners and the source of truth for what is already done.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eargollo/dicomcat/internal/db"
)

// Record is one successfully read file.
type Record struct {
	PatientID       string
	TrialArm        string
	SeriesUID       string
	StudyUID        string
	FilePath        string
	DirName         string
	Modality        string
	SeriesDate      string
	StudyDate       string
	AcquisitionDate string
}

// ErrorRecord is one file whose header could not be read.
type ErrorRecord struct {
	ID       int64  `json:"id"`
	FilePath string `json:"filepath"`
	DirName  string `json:"dirname"`
	Error    string `json:"error"`
}

// RetryPolicy bounds the backoff applied to contended writes.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     8,
		InitialBackoff: 25 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Options configures Open.
type Options struct {
	MaxConns      int
	BusyTimeoutMs int
	Retry         RetryPolicy
}

// Store wraps the catalog database.
type Store struct {
	db    *sql.DB
	retry RetryPolicy
}

// New wraps an already opened and migrated database.
func New(sqlDB *sql.DB, retry RetryPolicy) *Store {
	return &Store{db: sqlDB, retry: retry}
}

// Open opens the database at path, applies migrations and verifies the
// schema. Any failure here is fatal for a run: nothing has been dispatched
// yet and nothing should be.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	sqlDB, err := db.Open(path, db.Options{MaxConns: opts.MaxConns, BusyTimeoutMs: opts.BusyTimeoutMs})
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: %v", db.ErrSchemaMissing, err)
	}
	if err := db.VerifySchema(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return New(sqlDB, opts.Retry), nil
}

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// DirectoryCounts returns count(dicomdb) + count(errors) per dirname. The
// classifier takes this snapshot once, before any scanner writes.
func (s *Store) DirectoryCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dirname, COUNT(*)
		FROM (
			SELECT dirname FROM dicomdb
			UNION ALL
			SELECT dirname FROM errors
		)
		GROUP BY dirname`)
	if err != nil {
		return nil, fmt.Errorf("query directory counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			dir string
			n   int
		)
		if err := rows.Scan(&dir, &n); err != nil {
			return nil, fmt.Errorf("scan directory count: %w", err)
		}
		counts[dir] = n
	}
	return counts, rows.Err()
}

// RecordedPaths returns every file path under dirname that already has a
// dicomdb or errors row.
func (s *Store) RecordedPaths(ctx context.Context, dirname string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filepath FROM dicomdb WHERE dirname = ?
		UNION
		SELECT filepath FROM errors WHERE dirname = ?`, dirname, dirname)
	if err != nil {
		return nil, fmt.Errorf("query recorded paths for %q: %w", dirname, err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan recorded path: %w", err)
		}
		paths[p] = struct{}{}
	}
	return paths, rows.Err()
}

// Totals is the size of each catalog table.
type Totals struct {
	Records int64 `json:"records"`
	Errors  int64 `json:"errors"`
}

// Totals counts rows in both tables.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM dicomdb), (SELECT COUNT(*) FROM errors)`,
	).Scan(&t.Records, &t.Errors)
	if err != nil {
		return Totals{}, fmt.Errorf("query totals: %w", err)
	}
	return t, nil
}

// ListErrors pages through ErrorRecords, optionally restricted to one
// dirname. It returns the page and the total number of matching rows.
func (s *Store) ListErrors(ctx context.Context, dirname string, limit, offset int) ([]ErrorRecord, int, error) {
	var (
		rows  *sql.Rows
		total int
		err   error
	)
	if dirname == "" {
		if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM errors`).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count errors: %w", err)
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, filepath, dirname, error FROM errors
			ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	} else {
		if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM errors WHERE dirname = ?`, dirname).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count errors: %w", err)
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, filepath, dirname, error FROM errors
			WHERE dirname = ?
			ORDER BY id LIMIT ? OFFSET ?`, dirname, limit, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("list errors: %w", err)
	}
	defer rows.Close()

	items := []ErrorRecord{}
	for rows.Next() {
		var e ErrorRecord
		if err := rows.Scan(&e.ID, &e.FilePath, &e.DirName, &e.Error); err != nil {
			return nil, 0, fmt.Errorf("scan error record: %w", err)
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

// StudyFacet is one (study, patient, modality) combination present in the
// catalog, with its file count and lowest row id.
type StudyFacet struct {
	StudyUID  string
	PatientID string
	Modality  string
	Files     int
	FirstID   int64
}

// StudyFacets returns every distinct (study_uid, patient_id, modality)
// combination ordered by study_uid, for session assembly.
func (s *Store) StudyFacets(ctx context.Context) ([]StudyFacet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT study_uid, patient_id, COALESCE(modality, ''), COUNT(*), MIN(id)
		FROM dicomdb
		GROUP BY study_uid, patient_id, modality
		ORDER BY study_uid, patient_id, modality`)
	if err != nil {
		return nil, fmt.Errorf("query study facets: %w", err)
	}
	defer rows.Close()

	var facets []StudyFacet
	for rows.Next() {
		var f StudyFacet
		if err := rows.Scan(&f.StudyUID, &f.PatientID, &f.Modality, &f.Files, &f.FirstID); err != nil {
			return nil, fmt.Errorf("scan study facet: %w", err)
		}
		facets = append(facets, f)
	}
	return facets, rows.Err()
}
