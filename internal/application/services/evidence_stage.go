package services

import (
	"context"
	"sort"
	"time"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/repositories"
)

// evidenceRequirements maps CPT codes to the document types a payer expects
// to see with them. Codes without an entry require clinical notes.
var evidenceRequirements = map[string][]string{
	"73721": {"pt_notes", "clinical_summary"}, // MRI lower extremity joint
	"73722": {"pt_notes", "clinical_summary"}, // MRI joint with contrast
	"70551": {"clinical_notes", "referral"},   // MRI brain
	"99241": {"referral", "medical_records"},  // Consultation
	"27447": {"xray", "pt_notes", "clinical_notes"}, // Knee replacement
	"29881": {"pt_notes", "mri_report"},       // Knee arthroscopy
}

const defaultEvidenceDoc = "clinical_notes"

// EvidenceContext carries the only inputs the evidence stage may see
type EvidenceContext struct {
	CaseID         string
	ProcedureCodes []string
}

// EvidenceStage checks which required supporting documents are present.
// Incompleteness is advisory input to payer review, never a denial.
type EvidenceStage struct {
	documents repositories.DocumentRepository
}

// NewEvidenceStage creates a new evidence stage
func NewEvidenceStage(documents repositories.DocumentRepository) *EvidenceStage {
	return &EvidenceStage{documents: documents}
}

// RequiredDocuments returns the deduplicated document types required for a
// set of procedure codes.
func RequiredDocuments(procedureCodes []string) []string {
	required := map[string]struct{}{}
	for _, code := range procedureCodes {
		docs, ok := evidenceRequirements[code]
		if !ok {
			required[defaultEvidenceDoc] = struct{}{}
			continue
		}
		for _, doc := range docs {
			required[doc] = struct{}{}
		}
	}

	out := make([]string, 0, len(required))
	for doc := range required {
		out = append(out, doc)
	}
	sort.Strings(out)
	return out
}

// Run checks document presence and always produces a result when the store
// is reachable; a store failure fails the stage.
func (s *EvidenceStage) Run(ctx context.Context, ec EvidenceContext) (*entities.EvidenceResult, error) {
	required := RequiredDocuments(ec.ProcedureCodes)

	result := &entities.EvidenceResult{
		RequiredDocs: required,
		FoundDocs:    []string{},
		MissingDocs:  []string{},
		CheckedAt:    time.Now(),
	}

	for _, doc := range required {
		present, err := s.documents.HasDocument(ctx, ec.CaseID, doc)
		if err != nil {
			return nil, &StageFailure{Stage: entities.StageEvidence, Cause: err}
		}
		if present {
			result.FoundDocs = append(result.FoundDocs, doc)
		} else {
			result.MissingDocs = append(result.MissingDocs, doc)
		}
	}

	result.Complete = len(result.MissingDocs) == 0
	if len(required) > 0 {
		result.CompletenessPercent = float64(len(result.FoundDocs)) / float64(len(required)) * 100
	} else {
		result.CompletenessPercent = 100
	}

	return result, nil
}
