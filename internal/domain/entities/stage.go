package entities

import (
	"time"
)

// StageName identifies one of the three evaluation stages
type StageName string

const (
	StageValidation StageName = "validation"
	StageEvidence   StageName = "evidence"
	StagePayer      StageName = "payer"
)

// CodeSystem identifies the coding system a medical code belongs to
type CodeSystem string

const (
	CodeSystemICD10 CodeSystem = "icd10"
	CodeSystemCPT   CodeSystem = "cpt"
)

// CodeCheckStatus is the per-code validation outcome. A code-authority
// outage degrades a code to unverified rather than failing the stage.
type CodeCheckStatus string

const (
	CodeCheckValid      CodeCheckStatus = "valid"
	CodeCheckInvalid    CodeCheckStatus = "invalid"
	CodeCheckUnverified CodeCheckStatus = "unverified"
)

// CodeCheck is the validation outcome for a single submitted code
type CodeCheck struct {
	Code        string          `json:"code"`
	System      CodeSystem      `json:"system"`
	Status      CodeCheckStatus `json:"status"`
	Description string          `json:"description,omitempty"`
	Source      string          `json:"source,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ValidationResult is the Code Validation stage output
type ValidationResult struct {
	Codes     []CodeCheck `json:"codes"`
	AllValid  bool        `json:"all_valid"`
	Errors    []string    `json:"errors,omitempty"`
	CheckedAt time.Time   `json:"checked_at"`
}

// ComputeAllValid applies the deny-on-any-invalid policy: a code the
// authority could not verify does not count against the case.
func (v *ValidationResult) ComputeAllValid() {
	for _, c := range v.Codes {
		if c.Status == CodeCheckInvalid {
			v.AllValid = false
			return
		}
	}
	v.AllValid = true
}

// InvalidCodes returns the codes flagged invalid, used to derive a denial reason
func (v *ValidationResult) InvalidCodes() []CodeCheck {
	var invalid []CodeCheck
	for _, c := range v.Codes {
		if c.Status == CodeCheckInvalid {
			invalid = append(invalid, c)
		}
	}
	return invalid
}

// EvidenceResult is the Evidence Check stage output. Incompleteness is
// advisory input to Payer Review, never a denial by itself.
type EvidenceResult struct {
	RequiredDocs        []string  `json:"required_docs"`
	FoundDocs           []string  `json:"found_docs"`
	MissingDocs         []string  `json:"missing_docs"`
	Complete            bool      `json:"complete"`
	CompletenessPercent float64   `json:"completeness_percent"`
	CheckedAt           time.Time `json:"checked_at"`
}

// PayerDecision is the payer's verdict on a review
type PayerDecision string

const (
	PayerDecisionApproved PayerDecision = "approved"
	PayerDecisionDenied   PayerDecision = "denied"
)

// PayerResponse is the Payer Review stage output
type PayerResponse struct {
	Decision            PayerDecision `json:"decision"`
	Confidence          string        `json:"confidence,omitempty"`
	Reasoning           string        `json:"reasoning,omitempty"`
	MedicalNecessity    string        `json:"medical_necessity,omitempty"`
	CodeAppropriateness string        `json:"code_appropriateness,omitempty"`
	MissingElements     []string      `json:"missing_elements,omitempty"`
	RequiredActions     string        `json:"required_actions,omitempty"`
	AuthorizationNumber string        `json:"authorization_number,omitempty"`
	Reason              string        `json:"reason,omitempty"`
	ReviewedAt          time.Time     `json:"reviewed_at"`
}
