package session

import (
	"context"
	"fmt"
	"slices"

	"github.com/eargollo/dicomcat/internal/catalog"
)

// DefaultBatchSize is the number of sessions per upload batch.
const DefaultBatchSize = 1000

// Session is one study ready to be filed for upload.
type Session struct {
	StudyUID  string `json:"study_uid"`
	PatientID string `json:"patient_id"`
	Modality  string `json:"modality"`
	Files     int    `json:"files"`
	// ExperimentID is "<patient>_<modality>_<first row id>".
	ExperimentID string `json:"experiment_id"`
}

// Problem is a study that could not be assembled.
type Problem struct {
	StudyUID  string `json:"study_uid"`
	PatientID string `json:"patient_id,omitempty"`
	Error     string `json:"error"`
}

// Result holds the assembled sessions and the studies left out.
type Result struct {
	Sessions []Session `json:"sessions"`
	Problems []Problem `json:"problems"`
}

// FacetSource lists the distinct (study, patient, modality) combinations
// in the catalog. *catalog.Store satisfies it.
type FacetSource interface {
	StudyFacets(ctx context.Context) ([]catalog.StudyFacet, error)
}

// Assemble groups the catalog by study. A study whose files name more than
// one patient, or whose modalities do not resolve, becomes a Problem; the
// rest are returned in study order.
func Assemble(ctx context.Context, src FacetSource) (Result, error) {
	facets, err := src.StudyFacets(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("assemble sessions: %w", err)
	}

	res := Result{Sessions: []Session{}, Problems: []Problem{}}
	for start := 0; start < len(facets); {
		end := start + 1
		for end < len(facets) && facets[end].StudyUID == facets[start].StudyUID {
			end++
		}
		s, err := assembleStudy(facets[start:end])
		if err != nil {
			res.Problems = append(res.Problems, Problem{
				StudyUID:  facets[start].StudyUID,
				PatientID: facets[start].PatientID,
				Error:     err.Error(),
			})
		} else {
			res.Sessions = append(res.Sessions, s)
		}
		start = end
	}
	return res, nil
}

// assembleStudy builds the session for facets that all share one study_uid.
func assembleStudy(facets []catalog.StudyFacet) (Session, error) {
	s := Session{StudyUID: facets[0].StudyUID, PatientID: facets[0].PatientID}
	var (
		modalities []string
		firstID    = facets[0].FirstID
	)
	for _, f := range facets {
		if f.PatientID != s.PatientID {
			return Session{}, fmt.Errorf("study has several patient ids: %q and %q", s.PatientID, f.PatientID)
		}
		s.Files += f.Files
		firstID = min(firstID, f.FirstID)
		if !slices.Contains(modalities, f.Modality) {
			modalities = append(modalities, f.Modality)
		}
	}

	m, err := ResolveModality(modalities)
	if err != nil {
		return Session{}, err
	}
	s.Modality = m
	s.ExperimentID = fmt.Sprintf("%s_%s_%d", s.PatientID, m, firstID)
	return s, nil
}

// Batch splits items into consecutive groups of at most size. A size below
// one uses DefaultBatchSize.
func Batch[T any](items []T, size int) [][]T {
	if size < 1 {
		size = DefaultBatchSize
	}
	var out [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n:n])
		items = items[n:]
	}
	return out
}
