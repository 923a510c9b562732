package crawl

import "sync/atomic"

// Progress holds live counters updated by the crawl stages.
// All fields are atomic so they can be written from worker goroutines and
// read from the HTTP handler without locks.
type Progress struct {
	// Enumeration
	DirsDiscovered atomic.Int64
	DirsExcluded   atomic.Int64
	WalkErrors     atomic.Int64
	// Classification
	DirsSkipped  atomic.Int64
	DirsFull     atomic.Int64
	DirsPartial  atomic.Int64
	FilesMissing atomic.Int64 // files named by partial tasks
	// Scanning
	TasksTotal      atomic.Int64
	TasksDone       atomic.Int64
	FilesCatalogued atomic.Int64
	FilesErrored    atomic.Int64
	FilesDuplicate  atomic.Int64 // insert dropped because the row already existed
	Fallbacks       atomic.Int64 // records with at least one identifier set to the file path
}

// ErrorReporter records a non-fatal traversal problem for a path.
type ErrorReporter func(path, stage, errMsg string)
