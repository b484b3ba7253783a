package repositories

import (
	"context"

	"github.com/caretide/priorauth/internal/domain/entities"
)

// CaseRepository defines the read/write contract the orchestrator requires
// from the durable case store. Implementations normalize rows into the one
// canonical Case schema; callers never see alternate field shapes.
type CaseRepository interface {
	// Create creates a new case record
	Create(ctx context.Context, c *entities.Case) error

	// GetByID retrieves a case by its identifier
	GetByID(ctx context.Context, id string) (*entities.Case, error)

	// GetByAuthorizationNumber retrieves a case by its AUTH-* number
	GetByAuthorizationNumber(ctx context.Context, authNumber string) (*entities.Case, error)

	// UpdateFields applies a partial update. When expectedStatus is
	// non-nil the update is conditional: it fails with a CONFLICT error
	// if the stored status no longer matches, signaling the caller to
	// re-read and retry the transition.
	UpdateFields(ctx context.Context, id string, update CaseUpdate, expectedStatus *entities.CaseStatus) error

	// AppendTimeline appends one entry to the case's audit trail
	AppendTimeline(ctx context.Context, id string, event entities.TimelineEvent) error

	// List retrieves cases matching the filter, newest first
	List(ctx context.Context, filter CaseFilter) ([]*entities.Case, error)

	// CountByStatus returns the number of cases per status
	CountByStatus(ctx context.Context) (map[entities.CaseStatus]int, error)

	// TopDenialReasons returns the most frequent denial reasons
	TopDenialReasons(ctx context.Context, limit int) ([]entities.DenialReasonCount, error)
}

// CaseUpdate is a partial case update. Nil fields are left untouched; each
// stage-result field is written at most once per case.
type CaseUpdate struct {
	Status              *entities.CaseStatus
	ValidationResult    *entities.ValidationResult
	EvidenceResult      *entities.EvidenceResult
	PayerResponse       *entities.PayerResponse
	AuthorizationNumber *string
	DenialReason        *string
}

// CaseFilter defines filters for listing cases
type CaseFilter struct {
	Status      entities.CaseStatus
	PatientName string
	Diagnosis   string
	Limit       int
	Offset      int
}

// DocumentRepository tracks the supporting evidence documents attached to a
// case. The orchestrator only needs presence checks; uploads happen outside
// the engine.
type DocumentRepository interface {
	// HasDocument reports whether a document of the given type exists
	HasDocument(ctx context.Context, caseID, docType string) (bool, error)

	// Add records a document for a case
	Add(ctx context.Context, caseID, docType string) error

	// ListByCase returns the document types present for a case
	ListByCase(ctx context.Context, caseID string) ([]string, error)
}
