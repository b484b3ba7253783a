package entities

import (
	"time"
)

// CaseStatus represents the lifecycle status of a prior-authorization case
type CaseStatus string

const (
	// CaseStatusExtracted means the clinical note has been parsed but
	// orchestration has not started
	CaseStatusExtracted CaseStatus = "extracted"

	// CaseStatusProcessing means orchestration is in flight or was
	// interrupted and may be resumed
	CaseStatusProcessing CaseStatus = "processing"

	// CaseStatusApproved is a terminal status
	CaseStatusApproved CaseStatus = "approved"

	// CaseStatusDenied is a terminal status
	CaseStatusDenied CaseStatus = "denied"
)

// DisplayStatusPending is the display-level alias for non-terminal statuses.
// It is not an engine state.
const DisplayStatusPending = "pending"

// IsTerminal reports whether no further stage processing may occur
func (s CaseStatus) IsTerminal() bool {
	return s == CaseStatusApproved || s == CaseStatusDenied
}

// Valid reports whether the status is one the engine recognizes
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseStatusExtracted, CaseStatusProcessing, CaseStatusApproved, CaseStatusDenied:
		return true
	}
	return false
}

// TimelineEvent is one entry in a case's append-only audit trail
type TimelineEvent struct {
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Event     string    `json:"event" db:"event"`
	Status    string    `json:"status" db:"status"`
}

// Case represents one prior-authorization request and its accumulated
// evaluation state. The clinical payload is immutable once the case enters
// orchestration; stage results are each written at most once.
type Case struct {
	ID             string   `json:"id" db:"id"`
	PatientName    string   `json:"patient_name" db:"patient_name"`
	Diagnosis      string   `json:"diagnosis" db:"diagnosis"`
	DiagnosisCodes []string `json:"diagnosis_codes" db:"diagnosis_codes"`
	ProcedureCodes []string `json:"procedure_codes" db:"procedure_codes"`
	Summary        string   `json:"summary" db:"summary"`

	Status CaseStatus `json:"status" db:"status"`

	ValidationResult *ValidationResult `json:"validation_result,omitempty" db:"validation_result"`
	EvidenceResult   *EvidenceResult   `json:"evidence_result,omitempty" db:"evidence_result"`
	PayerResponse    *PayerResponse    `json:"payer_response,omitempty" db:"payer_response"`

	AuthorizationNumber string `json:"authorization_number,omitempty" db:"authorization_number"`
	DenialReason        string `json:"denial_reason,omitempty" db:"denial_reason"`

	Timeline []TimelineEvent `json:"timeline" db:"timeline"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the case has reached a terminal status
func (c *Case) IsTerminal() bool {
	return c.Status.IsTerminal()
}

// DisplayStatus maps engine statuses to the status shown to users.
// Non-terminal cases display as "pending".
func (c *Case) DisplayStatus() string {
	if c.Status.IsTerminal() {
		return string(c.Status)
	}
	return DisplayStatusPending
}

// MemberID derives the payer member identifier from the case identity
func (c *Case) MemberID() string {
	if len(c.ID) < 8 {
		return c.ID
	}
	return c.ID[:8]
}
