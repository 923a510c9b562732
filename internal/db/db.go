package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUnavailable is returned when the database file cannot be opened or
// does not answer a ping.
var ErrUnavailable = errors.New("catalog store unavailable")

// ErrSchemaMissing is returned when the catalog tables are absent after
// migrations ran.
var ErrSchemaMissing = errors.New("catalog schema missing")

// requiredTables must exist before any crawl work is dispatched.
var requiredTables = []string{"dicomdb", "errors"}

// Options tunes the connection pool.
type Options struct {
	// MaxConns bounds the pool. Each scanner holds one connection for the
	// duration of a task, plus one for the classifier.
	MaxConns int
	// BusyTimeoutMs is how long SQLite itself waits on a locked database
	// before surfacing SQLITE_BUSY.
	BusyTimeoutMs int
}

// Open opens (or creates) the SQLite database at path. PRAGMAs go through
// the DSN so every pooled connection gets them, not only the first.
func Open(path string, opts Options) (*sql.DB, error) {
	if opts.MaxConns < 1 {
		opts.MaxConns = 1
	}
	if opts.BusyTimeoutMs <= 0 {
		opts.BusyTimeoutMs = 5000
	}

	q := url.Values{}
	for _, p := range []string{
		"journal_mode(WAL)",
		"foreign_keys(ON)",
		fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeoutMs),
		"synchronous(NORMAL)",
		"cache_size(-64000)",
	} {
		q.Add("_pragma", p)
	}
	dsn := (&url.URL{Scheme: "file", Opaque: uriPath(path), RawQuery: q.Encode()}).String()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %q: %v", ErrUnavailable, path, err)
	}
	db.SetMaxOpenConns(opts.MaxConns)
	db.SetMaxIdleConns(opts.MaxConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %q: %v", ErrUnavailable, path, err)
	}
	return db, nil
}

// uriPath escapes the characters SQLite's URI parser treats specially in the
// path part of a file: URI. Opaque is emitted verbatim by url.URL.String.
func uriPath(path string) string {
	return strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23").Replace(path)
}

// RunMigrations applies all pending goose migrations from the embedded FS.
func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// VerifySchema checks that the catalog tables exist.
func VerifySchema(ctx context.Context, db *sql.DB) error {
	for _, name := range requiredTables {
		var n int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("%w: query sqlite_master: %v", ErrUnavailable, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: table %q", ErrSchemaMissing, name)
		}
	}
	return nil
}
