package crawl

import (
	"bufio"
	"bytes"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/eargollo/dicomcat/internal/catalog"
	"github.com/eargollo/dicomcat/internal/db"
	"github.com/eargollo/dicomcat/internal/header"
)

// testPools maps each test store to its pool so assertions can run SQL the
// Store API does not offer.
var testPools sync.Map // *catalog.Store -> *sql.DB

// mustOpenStore opens a temp file catalog with the full schema applied.
func mustOpenStore(tb testing.TB) *catalog.Store {
	tb.Helper()
	sqlDB, err := db.Open(filepath.Join(tb.TempDir(), "catalog.db"), db.Options{MaxConns: 8})
	if err != nil {
		tb.Fatalf("open test store: %v", err)
	}
	if err := db.RunMigrations(sqlDB); err != nil {
		sqlDB.Close()
		tb.Fatalf("migrate test store: %v", err)
	}
	s := catalog.New(sqlDB, catalog.DefaultRetryPolicy())
	testPools.Store(s, sqlDB)
	tb.Cleanup(func() {
		testPools.Delete(s)
		s.Close()
	})
	return s
}

// rawDB returns the pool behind a store opened by mustOpenStore.
func rawDB(tb testing.TB, s *catalog.Store) *sql.DB {
	tb.Helper()
	v, ok := testPools.Load(s)
	if !ok {
		tb.Fatalf("store was not opened by mustOpenStore")
	}
	return v.(*sql.DB)
}

// errCorrupt is what fakeReader reports for files starting with "BAD".
var errCorrupt = errors.New("not a DICOM file")

// fakeReader parses files written by writeHeader: one "gggg|eeee=value"
// line per tag. Files whose content starts with "BAD" fail to read.
type fakeReader struct {
	calls atomic.Int64
}

func (r *fakeReader) Read(path string) (map[header.Tag]string, error) {
	r.calls.Add(1)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &header.ReadError{Path: path, Err: err}
	}
	if bytes.HasPrefix(data, []byte("BAD")) {
		return nil, &header.ReadError{Path: path, Err: errCorrupt}
	}
	values := map[header.Tag]string{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if ok {
			values[header.Tag(k)] = v
		}
	}
	return values, nil
}

// fullHeader returns a header with all seven fields set.
func fullHeader(patient, series string) map[header.Field]string {
	return map[header.Field]string{
		header.PatientID:       patient,
		header.SeriesUID:       series,
		header.StudyUID:        "1.2.840.99",
		header.Modality:        "CT",
		header.SeriesDate:      "20200102",
		header.StudyDate:       "20200101",
		header.AcquisitionDate: "20200102",
	}
}

// writeHeader writes a file fakeReader understands.
func writeHeader(tb testing.TB, path string, fields map[header.Field]string) {
	tb.Helper()
	var b strings.Builder
	for f, v := range fields {
		b.WriteString(string(header.Dictionary[f]))
		b.WriteString("=")
		b.WriteString(v)
		b.WriteString("\n")
	}
	writeFile(tb, path, b.String())
}

func writeFile(tb testing.TB, path, content string) {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("mkdir %q: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %q: %v", path, err)
	}
}

// noErrors is an ErrorReporter that fails the test if invoked.
func noErrors(tb testing.TB) ErrorReporter {
	return func(path, stage, errMsg string) {
		tb.Errorf("unexpected walk error: path=%q stage=%q err=%q", path, stage, errMsg)
	}
}

// rowsFor returns the number of dicomdb and errors rows with dirname dir.
func rowsFor(tb testing.TB, s *catalog.Store, dir string) (records, errs int) {
	tb.Helper()
	pool := rawDB(tb, s)
	if err := pool.QueryRow(`SELECT count(*) FROM dicomdb WHERE dirname = ?`, dir).Scan(&records); err != nil {
		tb.Fatalf("count dicomdb: %v", err)
	}
	if err := pool.QueryRow(`SELECT count(*) FROM errors WHERE dirname = ?`, dir).Scan(&errs); err != nil {
		tb.Fatalf("count errors: %v", err)
	}
	return records, errs
}

// allDirnames returns every dirname present in either table.
func allDirnames(tb testing.TB, s *catalog.Store) []string {
	tb.Helper()
	rows, err := rawDB(tb, s).Query(`SELECT dirname FROM dicomdb UNION SELECT dirname FROM errors`)
	if err != nil {
		tb.Fatalf("query dirnames: %v", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			tb.Fatalf("scan dirname: %v", err)
		}
		out = append(out, d)
	}
	return out
}
