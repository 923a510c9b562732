package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eargollo/dicomcat/internal/db"
)

// mustOpenStore opens a temp file catalog with the full schema applied.
func mustOpenStore(tb testing.TB, opts Options) *Store {
	tb.Helper()
	if opts.MaxConns == 0 {
		opts.MaxConns = 4
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	s, err := Open(context.Background(), filepath.Join(tb.TempDir(), "catalog.db"), opts)
	if err != nil {
		tb.Fatalf("open test store: %v", err)
	}
	tb.Cleanup(func() { s.Close() })
	return s
}

func mustSession(tb testing.TB, s *Store) *Session {
	tb.Helper()
	ss, err := s.Session(context.Background())
	require.NoError(tb, err)
	tb.Cleanup(func() { ss.Close() })
	return ss
}

func record(dir, name string) Record {
	return Record{
		PatientID: "AltID0001",
		TrialArm:  "AJ",
		SeriesUID: "1.2.840.1",
		StudyUID:  "1.2.840",
		FilePath:  filepath.Join(dir, name),
		DirName:   dir,
		Modality:  "CT",
		StudyDate: "20200101",
	}
}

func TestInsertRecordIsIdempotent(t *testing.T) {
	s := mustOpenStore(t, Options{})
	ss := mustSession(t, s)
	ctx := context.Background()

	added, err := ss.InsertRecord(ctx, record("/data/p1/s1", "a.dcm"))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = ss.InsertRecord(ctx, record("/data/p1/s1", "a.dcm"))
	require.NoError(t, err)
	assert.False(t, added, "identical row must be dropped silently")

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, Totals{Records: 1}, totals)
}

// Two files with identical metadata but different paths are distinct rows.
func TestInsertRecordDistinctFilePaths(t *testing.T) {
	s := mustOpenStore(t, Options{})
	ss := mustSession(t, s)
	ctx := context.Background()

	for _, name := range []string{"a.dcm", "b.dcm"} {
		added, err := ss.InsertRecord(ctx, record("/data/p1/s1", name))
		require.NoError(t, err)
		assert.True(t, added)
	}
	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, totals.Records)
}

func TestInsertErrorIsIdempotent(t *testing.T) {
	s := mustOpenStore(t, Options{})
	ss := mustSession(t, s)
	ctx := context.Background()

	e := ErrorRecord{FilePath: "/data/p1/s1/bad.dcm", DirName: "/data/p1/s1", Error: "unexpected EOF"}
	added, err := ss.InsertError(ctx, e)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = ss.InsertError(ctx, e)
	require.NoError(t, err)
	assert.False(t, added)

	// A different cause for the same file is a distinct audit row.
	e.Error = "permission denied"
	added, err = ss.InsertError(ctx, e)
	require.NoError(t, err)
	assert.True(t, added)
}

func TestDirectoryCountsCombinesTables(t *testing.T) {
	s := mustOpenStore(t, Options{})
	ss := mustSession(t, s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ss.InsertRecord(ctx, record("/d1", fmt.Sprintf("f%d.dcm", i)))
		require.NoError(t, err)
	}
	_, err := ss.InsertError(ctx, ErrorRecord{FilePath: "/d1/bad", DirName: "/d1", Error: "boom"})
	require.NoError(t, err)
	_, err = ss.InsertError(ctx, ErrorRecord{FilePath: "/d2/bad", DirName: "/d2", Error: "boom"})
	require.NoError(t, err)

	counts, err := s.DirectoryCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"/d1": 4, "/d2": 1}, counts)
}

func TestRecordedPathsMatchesDirnameExactly(t *testing.T) {
	s := mustOpenStore(t, Options{})
	ss := mustSession(t, s)
	ctx := context.Background()

	_, err := ss.InsertRecord(ctx, record("/data/a_b", "1.dcm"))
	require.NoError(t, err)
	_, err = ss.InsertError(ctx, ErrorRecord{FilePath: "/data/a_b/2.dcm", DirName: "/data/a_b", Error: "x"})
	require.NoError(t, err)
	// "_" would match any character under LIKE.
	_, err = ss.InsertRecord(ctx, record("/data/aXb", "3.dcm"))
	require.NoError(t, err)

	paths, err := s.RecordedPaths(ctx, "/data/a_b")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{
		"/data/a_b/1.dcm": {},
		"/data/a_b/2.dcm": {},
	}, paths)
}

func TestListErrors(t *testing.T) {
	s := mustOpenStore(t, Options{})
	ss := mustSession(t, s)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		dir := "/d1"
		if i%2 == 1 {
			dir = "/d2"
		}
		_, err := ss.InsertError(ctx, ErrorRecord{FilePath: fmt.Sprintf("%s/f%d", dir, i), DirName: dir, Error: "bad header"})
		require.NoError(t, err)
	}

	items, total, err := s.ListErrors(ctx, "", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, items, 2)

	items, total, err = s.ListErrors(ctx, "/d2", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, e := range items {
		assert.Equal(t, "/d2", e.DirName)
	}
}

func TestStudyFacets(t *testing.T) {
	s := mustOpenStore(t, Options{})
	ss := mustSession(t, s)
	ctx := context.Background()

	ct := record("/d1", "ct1.dcm")
	_, err := ss.InsertRecord(ctx, ct)
	require.NoError(t, err)
	ct.FilePath = "/d1/ct2.dcm"
	_, err = ss.InsertRecord(ctx, ct)
	require.NoError(t, err)
	pt := record("/d2", "pt1.dcm")
	pt.Modality = "PT"
	_, err = ss.InsertRecord(ctx, pt)
	require.NoError(t, err)

	facets, err := s.StudyFacets(ctx)
	require.NoError(t, err)
	require.Len(t, facets, 2)
	assert.Equal(t, "CT", facets[0].Modality)
	assert.Equal(t, 2, facets[0].Files)
	assert.Equal(t, "PT", facets[1].Modality)
	assert.Equal(t, 1, facets[1].Files)
}

func TestOpenUnavailable(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "no", "such", "catalog.db"), Options{})
	require.ErrorIs(t, err, db.ErrUnavailable)
}

// holdWriteLock takes SQLite's write lock on a separate connection and
// returns a func that releases it.
func holdWriteLock(t *testing.T, s *Store) func() {
	t.Helper()
	ctx := context.Background()
	conn, err := s.db.Conn(ctx)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `BEGIN IMMEDIATE`)
	require.NoError(t, err)
	return func() {
		_, err := conn.ExecContext(ctx, `COMMIT`)
		assert.NoError(t, err)
		conn.Close()
	}
}

func TestInsertContentionExhaustsRetries(t *testing.T) {
	s := mustOpenStore(t, Options{
		BusyTimeoutMs: 1,
		Retry:         RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	})
	ss := mustSession(t, s)
	release := holdWriteLock(t, s)
	defer release()

	_, err := ss.InsertRecord(context.Background(), record("/d1", "a.dcm"))
	require.ErrorIs(t, err, ErrStoreContention)
}

func TestInsertContentionRecovers(t *testing.T) {
	s := mustOpenStore(t, Options{
		BusyTimeoutMs: 1,
		Retry:         RetryPolicy{MaxRetries: 50, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond},
	})
	ss := mustSession(t, s)
	release := holdWriteLock(t, s)
	time.AfterFunc(50*time.Millisecond, release)

	added, err := ss.InsertRecord(context.Background(), record("/d1", "a.dcm"))
	require.NoError(t, err)
	assert.True(t, added)
}
