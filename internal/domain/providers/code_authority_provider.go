package providers

import (
	"context"
)

// CodeLookup is the code-authority verdict for one diagnosis code
type CodeLookup struct {
	Code        string `json:"code"`
	Found       bool   `json:"found"`
	Description string `json:"description,omitempty"`
}

// CodeAuthorityProvider defines the interface for the external medical code
// authority (NIH Clinical Tables). A lookup error means the authority was
// unreachable, not that the code is invalid; callers degrade accordingly.
type CodeAuthorityProvider interface {
	// LookupDiagnosisCode checks one ICD-10 code against the authority
	LookupDiagnosisCode(ctx context.Context, code string) (*CodeLookup, error)
}
