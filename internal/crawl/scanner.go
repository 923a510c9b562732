package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/eargollo/dicomcat/internal/catalog"
	"github.com/eargollo/dicomcat/internal/header"
	"github.com/eargollo/dicomcat/internal/metrics"
)

// errNoHeader is recorded when a reader returns neither values nor an error.
var errNoHeader = errors.New("can't open file: no header returned")

// Scanner reads the files named by a task and writes one catalog row per
// file. It keeps no state between tasks besides counters, so any number can
// run at once.
type Scanner struct {
	store    *catalog.Store
	reader   header.Reader
	trialArm string
	progress *Progress
}

// NewScanner creates a Scanner that tags every record with trialArm.
func NewScanner(store *catalog.Store, reader header.Reader, trialArm string, progress *Progress) *Scanner {
	return &Scanner{store: store, reader: reader, trialArm: trialArm, progress: progress}
}

// ScanTask processes every file of t in order. Per-file read failures become
// ErrorRecords; only store failures are returned.
func (s *Scanner) ScanTask(ctx context.Context, t Task) error {
	defer s.progress.TasksDone.Add(1)

	files := t.Files
	if t.Kind == KindFull {
		var err error
		files, err = listFiles(t.Dir)
		if err != nil {
			// The directory moved or vanished since enumeration; the next run
			// will see the tree as it is then.
			slog.Warn("list directory", "dir", t.Dir, "error", err)
			s.progress.WalkErrors.Add(1)
			return nil
		}
	}
	if len(files) == 0 {
		return nil
	}

	sess, err := s.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("scan %q: %w", t.Dir, err)
	}
	defer sess.Close()

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.scanFile(ctx, sess, path); err != nil {
			return fmt.Errorf("scan %q: %w", path, err)
		}
	}
	slog.Debug("task done", "dir", t.Dir, "kind", t.Kind, "files", len(files))
	return nil
}

func (s *Scanner) scanFile(ctx context.Context, sess *catalog.Session, path string) error {
	start := time.Now()
	values, err := s.reader.Read(path)
	metrics.HeaderReadDuration.Observe(time.Since(start).Seconds())
	if err == nil && values == nil {
		err = errNoHeader
	}
	if err != nil {
		return s.recordError(ctx, sess, path, err)
	}

	rec, fallbacks := BuildRecord(path, s.trialArm, header.Extract(values))
	if len(fallbacks) > 0 {
		s.progress.Fallbacks.Add(1)
		for _, f := range fallbacks {
			metrics.IdentifierFallbacks.WithLabelValues(string(f)).Inc()
		}
		slog.Debug("identifier fallback", "path", path, "fields", fallbacks)
	}

	added, err := sess.InsertRecord(ctx, rec)
	if err != nil {
		return err
	}
	if added {
		s.progress.FilesCatalogued.Add(1)
		metrics.FilesCatalogued.Inc()
	} else {
		s.progress.FilesDuplicate.Add(1)
	}
	return nil
}

// recordError stores the cause of a failed read. The path is already a
// column, so a *header.ReadError is unwrapped to its cause.
func (s *Scanner) recordError(ctx context.Context, sess *catalog.Session, path string, readErr error) error {
	cause := readErr
	var re *header.ReadError
	if errors.As(readErr, &re) && re.Err != nil {
		cause = re.Err
	}

	added, err := sess.InsertError(ctx, catalog.ErrorRecord{
		FilePath: path,
		DirName:  filepath.Dir(path),
		Error:    cause.Error(),
	})
	if err != nil {
		return err
	}
	if added {
		s.progress.FilesErrored.Add(1)
		metrics.FilesErrored.Inc()
	} else {
		s.progress.FilesDuplicate.Add(1)
	}
	slog.Debug("header read failed", "path", path, "error", cause)
	return nil
}

// BuildRecord turns an extracted header into a catalog row. Identifier
// fields the header lacks are set to path so they stay non-empty and easy to
// find; the names of those fields are returned. Other missing fields stay
// empty.
func BuildRecord(path, trialArm string, h header.Header) (catalog.Record, []header.Field) {
	var fallbacks []header.Field
	ident := func(v string, f header.Field) string {
		if v != "" {
			return v
		}
		fallbacks = append(fallbacks, f)
		return path
	}

	rec := catalog.Record{
		PatientID:       ident(h.PatientID, header.PatientID),
		SeriesUID:       ident(h.SeriesUID, header.SeriesUID),
		StudyUID:        ident(h.StudyUID, header.StudyUID),
		TrialArm:        trialArm,
		FilePath:        path,
		DirName:         filepath.Dir(path),
		Modality:        h.Modality,
		SeriesDate:      h.SeriesDate,
		StudyDate:       h.StudyDate,
		AcquisitionDate: h.AcquisitionDate,
	}
	return rec, fallbacks
}
