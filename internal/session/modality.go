// Package session groups catalogued files into imaging sessions (one per
// study) ready for upload: it settles each study's modality and splits the
// result into fixed-size batches.
package session

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrAmbiguousModality is returned when a study's modalities do not
	// reduce to a single code.
	ErrAmbiguousModality = errors.New("ambiguous modality")
	// ErrNoModality is returned when no file of a study carries a modality.
	ErrNoModality = errors.New("no modality")
)

// auxiliary codes are dropped from a mixed study in this order, but never
// the last remaining code.
var auxiliary = []string{"OT", "SC", "SR", "SD", "CR", "RTIMAGE", "SEG"}

// ResolveModality reduces the distinct modalities seen in one study to the
// code the session is filed under. Auxiliary codes give way to any primary
// one; CT alongside PT files as PT and CT alongside NM files as NM.
func ResolveModality(modalities []string) (string, error) {
	var codes []string
	for _, m := range modalities {
		m = strings.TrimSpace(m)
		if m != "" && !slices.Contains(codes, m) {
			codes = append(codes, m)
		}
	}
	if len(codes) == 0 {
		return "", ErrNoModality
	}

	for _, aux := range auxiliary {
		if len(codes) == 1 {
			break
		}
		if i := slices.Index(codes, aux); i >= 0 {
			codes = slices.Delete(codes, i, i+1)
		}
	}

	if len(codes) == 1 {
		return codes[0], nil
	}
	slices.Sort(codes)
	switch {
	case slices.Equal(codes, []string{"CT", "PT"}):
		return "PT", nil
	case slices.Equal(codes, []string{"CT", "NM"}):
		return "NM", nil
	}
	return "", fmt.Errorf("%w: %s", ErrAmbiguousModality, strings.Join(codes, ","))
}
