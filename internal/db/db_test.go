package db_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eargollo/dicomcat/internal/db"
)

func TestOpenAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	conn, err := db.Open(path, db.Options{MaxConns: 4})
	require.NoError(t, err)
	defer conn.Close()

	require.ErrorIs(t, db.VerifySchema(context.Background(), conn), db.ErrSchemaMissing)

	require.NoError(t, db.RunMigrations(conn))
	require.NoError(t, db.VerifySchema(context.Background(), conn))

	// Migrations are idempotent across runs.
	require.NoError(t, db.RunMigrations(conn))

	var mode string
	require.NoError(t, conn.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestCatalogUniqueness(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	conn, err := db.Open(path, db.Options{})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, db.RunMigrations(conn))

	insert := `INSERT OR IGNORE INTO dicomdb
		(patient_id, trial_arm, series_uid, study_uid, filepath, dirname,
		 modality, series_date, study_date, acquisition_date)
		VALUES ('p', 'AJ', 'se', 'st', '/d/f1', '/d', 'CT', '', '', '')`
	for i := 0; i < 2; i++ {
		_, err := conn.Exec(insert)
		require.NoError(t, err)
	}
	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM dicomdb`).Scan(&n))
	assert.Equal(t, 1, n)

	_, err = conn.Exec(`INSERT INTO errors (filepath, dirname) VALUES ('/d/f2', '/d')`)
	assert.Error(t, err, "error text is NOT NULL")
}

func TestOpenUnavailable(t *testing.T) {
	_, err := db.Open(filepath.Join(t.TempDir(), "missing", "dir", "catalog.db"), db.Options{})
	require.ErrorIs(t, err, db.ErrUnavailable)
}

func TestOpenPathWithURIMetacharacters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cat?alog#1%20.db")
	conn, err := db.Open(path, db.Options{MaxConns: 1})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, db.RunMigrations(conn))

	_, err = os.Stat(path)
	require.NoError(t, err, "database created at the literal path")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Contains(t, e.Name(), "cat?alog#1%20.db")
	}

	var mode string
	require.NoError(t, conn.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode, "pragmas after the path still apply")
}
