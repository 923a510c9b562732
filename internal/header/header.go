// Package header defines the contract with the per-file header reader and
// the fixed tag dictionary the crawler extracts.
package header

import (
	"fmt"
)

// Tag identifies a header element as "gggg|eeee" (lower-case hex group and
// element).
type Tag string

// Field is the semantic name of an extracted header value.
type Field string

const (
	PatientID       Field = "patient_id"
	SeriesDate      Field = "series_date"
	StudyDate       Field = "study_date"
	SeriesUID       Field = "series_uid"
	StudyUID        Field = "study_uid"
	Modality        Field = "modality"
	AcquisitionDate Field = "acquisition_date"
)

// Dictionary maps each extracted field to its tag. Exactly these seven are
// read per file; anything else in the header is ignored.
var Dictionary = map[Field]Tag{
	PatientID:       "0010|0010",
	SeriesDate:      "0008|0021",
	StudyDate:       "0008|0020",
	SeriesUID:       "0020|000e",
	StudyUID:        "0020|000d",
	Modality:        "0008|0060",
	AcquisitionDate: "0008|0022",
}

// Reader turns a file path into its header values. Implementations return a
// *ReadError for files that are unreadable, corrupt or unsupported.
type Reader interface {
	Read(path string) (map[Tag]string, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(path string) (map[Tag]string, error)

// Read calls f(path).
func (f ReaderFunc) Read(path string) (map[Tag]string, error) { return f(path) }

// ReadError reports a file whose header could not be read.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read header %q: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Header holds the extracted fields. An empty string means the header had
// no value for that field.
type Header struct {
	PatientID       string
	SeriesDate      string
	StudyDate       string
	SeriesUID       string
	StudyUID        string
	Modality        string
	AcquisitionDate string
}

// Extract picks the dictionary fields out of a raw tag map. Missing tags and
// empty values both come out as "".
func Extract(values map[Tag]string) Header {
	get := func(f Field) string { return values[Dictionary[f]] }
	return Header{
		PatientID:       get(PatientID),
		SeriesDate:      get(SeriesDate),
		StudyDate:       get(StudyDate),
		SeriesUID:       get(SeriesUID),
		StudyUID:        get(StudyUID),
		Modality:        get(Modality),
		AcquisitionDate: get(AcquisitionDate),
	}
}
