package crawl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDirQueueNeverLosesItems pushes 5 000 items, pops all, and verifies the
// exact set is returned (compaction must not drop entries).
func TestDirQueueNeverLosesItems(t *testing.T) {
	const n = 5000
	q := newDirQueue()

	for i := 0; i < n; i++ {
		q.pending.Add(1)
		q.Push(fmt.Sprintf("dir%04d", i))
	}

	var got []string
	for {
		item, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, item)
		q.Done()
	}

	require.Len(t, got, n)
	sort.Strings(got)
	for i, v := range got {
		assert.Equal(t, fmt.Sprintf("dir%04d", i), v)
	}
}

func TestDirQueueCloseWakesPop(t *testing.T) {
	q := newDirQueue()
	q.pending.Add(1)

	done := make(chan bool)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not return after close")
	}
}

func collect(out <-chan Dir) map[string][]string {
	got := map[string][]string{}
	for d := range out {
		got[d.Path] = d.Files
	}
	return got
}

// Only directories that directly hold regular files are emitted.
func TestWalkEmitsLeafDirsWithFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "p1", "s1", "a.dcm"), "x")
	writeFile(t, filepath.Join(root, "p1", "s1", "b.dcm"), "x")
	writeFile(t, filepath.Join(root, "p1", "s2", "c.dcm"), "x")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "p2", "empty"), 0o755))

	out := make(chan Dir, 16)
	var p Progress
	Walk(context.Background(), []string{root}, nil, 4, out, &p, noErrors(t))
	got := collect(out)

	require.Len(t, got, 2)
	s1 := got[filepath.Join(root, "p1", "s1")]
	sort.Strings(s1)
	assert.Equal(t, []string{
		filepath.Join(root, "p1", "s1", "a.dcm"),
		filepath.Join(root, "p1", "s1", "b.dcm"),
	}, s1)
	assert.Equal(t, []string{filepath.Join(root, "p1", "s2", "c.dcm")}, got[filepath.Join(root, "p1", "s2")])
	assert.EqualValues(t, 2, p.DirsDiscovered.Load())
}

// A directory holding both files and subdirectories is emitted with only its
// own files, and its subdirectories are still visited.
func TestWalkMixedDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "top.dcm"), "x")
	writeFile(t, filepath.Join(root, "sub", "inner.dcm"), "x")

	out := make(chan Dir, 16)
	Walk(context.Background(), []string{root}, nil, 2, out, &Progress{}, noErrors(t))
	got := collect(out)

	assert.Equal(t, []string{filepath.Join(root, "top.dcm")}, got[root])
	assert.Equal(t, []string{filepath.Join(root, "sub", "inner.dcm")}, got[filepath.Join(root, "sub")])
}

func TestWalkExcludesFragments(t *testing.T) {
	root := t.TempDir()
	keep := filepath.Join(root, "p1", "CT")
	skip := filepath.Join(root, "p1", "[CT - KEY IMAGES]")
	writeFile(t, filepath.Join(keep, "a.dcm"), "x")
	writeFile(t, filepath.Join(skip, "b.dcm"), "x")
	writeFile(t, filepath.Join(skip, "nested", "c.dcm"), "x")

	out := make(chan Dir, 16)
	var p Progress
	Walk(context.Background(), []string{root}, NewExcluder([]string{"[CT - KEY IMAGES]"}), 2, out, &p, noErrors(t))
	got := collect(out)

	assert.Contains(t, got, keep)
	for dir := range got {
		assert.NotContains(t, dir, "[CT - KEY IMAGES]")
	}
	assert.EqualValues(t, 1, p.DirsExcluded.Load())
}

func TestWalkExcludedRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "[NM - SAVE SCREENS]")
	writeFile(t, filepath.Join(root, "a.dcm"), "x")

	out := make(chan Dir, 4)
	var p Progress
	Walk(context.Background(), []string{root}, NewExcluder([]string{"[NM - SAVE SCREENS]"}), 2, out, &p, noErrors(t))

	assert.Empty(t, collect(out))
	assert.EqualValues(t, 1, p.DirsExcluded.Load())
}

func TestWalkSkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real.dcm")
	writeFile(t, target, "x")
	if err := os.Symlink(target, filepath.Join(root, "link.dcm")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	out := make(chan Dir, 4)
	Walk(context.Background(), []string{root}, nil, 1, out, &Progress{}, noErrors(t))
	assert.Equal(t, []string{target}, collect(out)[root])
}

func TestWalkReportsUnreadableRoot(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")

	var reported []string
	out := make(chan Dir, 4)
	Walk(context.Background(), []string{missing}, nil, 1, out, &Progress{}, func(path, stage, errMsg string) {
		reported = append(reported, path)
	})

	assert.Empty(t, collect(out))
	assert.Equal(t, []string{missing}, reported)
}

// TestWalkCancellation verifies Walk returns cleanly after ctx is cancelled.
func TestWalkCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 200; i++ {
		writeFile(t, filepath.Join(root, fmt.Sprintf("d%03d", i), "f.dcm"), "data")
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Dir) // unbuffered so workers block on send

	done := make(chan struct{})
	go func() {
		Walk(ctx, []string{root}, nil, 2, out, &Progress{}, noErrors(t))
		close(done)
	}()

	<-out
	cancel()
	go func() {
		for range out {
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Walk did not return after context cancellation")
	}
}

func TestExcluder(t *testing.T) {
	e := NewExcluder([]string{"", "[PT - KEY IMAGES]"})
	assert.True(t, e.Excluded("/data/p/[PT - KEY IMAGES]/x"))
	assert.False(t, e.Excluded("/data/p/PT"))

	var nilExcl *Excluder
	assert.False(t, nilExcl.Excluded("/anything"))
	assert.False(t, NewExcluder(nil).Excluded("/anything"))
}
