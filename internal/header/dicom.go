package header

import (
	"errors"
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

// DICOMReader reads headers with suyashkumar/dicom. Pixel data is skipped,
// so cost is proportional to header size rather than image size.
type DICOMReader struct{}

// NewDICOMReader returns a Reader backed by the DICOM parser.
func NewDICOMReader() *DICOMReader { return &DICOMReader{} }

// Read parses the header at path and returns the values of the dictionary
// tags that are present. Values are trimmed of DICOM padding; multi-valued
// elements are joined with a backslash, the DICOM value separator.
func (r *DICOMReader) Read(path string) (values map[Tag]string, err error) {
	// The parser can panic on some truncated files.
	defer func() {
		if p := recover(); p != nil {
			values = nil
			err = &ReadError{Path: path, Err: fmt.Errorf("parser panic: %v", p)}
		}
	}()

	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}

	if len(ds.Elements) == 0 {
		return nil, &ReadError{Path: path, Err: errors.New("empty dataset")}
	}

	wanted := make(map[Tag]struct{}, len(Dictionary))
	for _, t := range Dictionary {
		wanted[t] = struct{}{}
	}

	values = make(map[Tag]string, len(wanted))
	for _, elem := range ds.Elements {
		if elem == nil || elem.Value == nil {
			continue
		}
		key := formatTag(elem.Tag)
		if _, ok := wanted[key]; !ok {
			continue
		}
		strs, ok := elem.Value.GetValue().([]string)
		if !ok {
			continue
		}
		v := strings.Trim(strings.Join(strs, `\`), " \x00")
		if v != "" {
			values[key] = v
		}
	}
	return values, nil
}

func formatTag(t dicomtag.Tag) Tag {
	return Tag(fmt.Sprintf("%04x|%04x", t.Group, t.Element))
}
