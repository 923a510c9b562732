package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/eargollo/dicomcat/internal/metrics"
)

// ErrStoreContention is returned when a write is still contended after the
// retry policy is exhausted. The run must stop rather than drop the row.
var ErrStoreContention = errors.New("catalog store write contention")

const insertRecordSQL = `
	INSERT OR IGNORE INTO dicomdb
		(patient_id, trial_arm, series_uid, study_uid, filepath, dirname,
		 modality, series_date, study_date, acquisition_date)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertErrorSQL = `
	INSERT OR IGNORE INTO errors (filepath, dirname, error)
	VALUES (?, ?, ?)`

// Session is a scanner's private handle on the store: one pooled connection
// with its own prepared statements. Acquire it when a task starts and Close
// it when the task ends.
type Session struct {
	conn         *sql.Conn
	insertRecord *sql.Stmt
	insertError  *sql.Stmt
	retry        RetryPolicy
}

// Session acquires a dedicated connection from the pool. It blocks while
// every connection is held by another session.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire store connection: %w", err)
	}
	ss := &Session{conn: conn, retry: s.retry}

	if ss.insertRecord, err = conn.PrepareContext(ctx, insertRecordSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("prepare insert_record: %w", err)
	}
	if ss.insertError, err = conn.PrepareContext(ctx, insertErrorSQL); err != nil {
		ss.insertRecord.Close()
		conn.Close()
		return nil, fmt.Errorf("prepare insert_error: %w", err)
	}
	return ss, nil
}

// Close releases the statements and returns the connection to the pool.
func (ss *Session) Close() error {
	return errors.Join(
		ss.insertRecord.Close(),
		ss.insertError.Close(),
		ss.conn.Close(),
	)
}

// InsertRecord writes r unless an identical row exists. It reports whether
// a row was added.
func (ss *Session) InsertRecord(ctx context.Context, r Record) (bool, error) {
	return ss.exec(ctx, "dicomdb", ss.insertRecord,
		r.PatientID, r.TrialArm, r.SeriesUID, r.StudyUID, r.FilePath, r.DirName,
		r.Modality, r.SeriesDate, r.StudyDate, r.AcquisitionDate)
}

// InsertError writes e unless an identical row exists. It reports whether a
// row was added.
func (ss *Session) InsertError(ctx context.Context, e ErrorRecord) (bool, error) {
	return ss.exec(ctx, "errors", ss.insertError, e.FilePath, e.DirName, e.Error)
}

// exec runs an insert-if-absent, retrying with capped exponential backoff
// while SQLite reports the database busy or locked.
func (ss *Session) exec(ctx context.Context, table string, stmt *sql.Stmt, args ...any) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.StoreWriteDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
	}()

	base := ss.retry.InitialBackoff
	if base <= 0 {
		base = DefaultRetryPolicy().InitialBackoff
	}
	b := retry.NewExponential(base)
	if ss.retry.MaxBackoff > 0 {
		b = retry.WithCappedDuration(ss.retry.MaxBackoff, b)
	}
	b = retry.WithJitterPercent(10, b)
	b = retry.WithMaxRetries(uint64(max(ss.retry.MaxRetries, 0)), b)

	var affected int64
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			if IsBusy(err) {
				metrics.StoreRetries.WithLabelValues(table).Inc()
				return retry.RetryableError(err)
			}
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		if IsBusy(err) {
			return false, fmt.Errorf("%w: insert into %s: %v", ErrStoreContention, table, err)
		}
		return false, fmt.Errorf("insert into %s: %w", table, err)
	}
	return affected > 0, nil
}

// IsBusy reports whether err is SQLite's SQLITE_BUSY or SQLITE_LOCKED,
// including their extended codes.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
