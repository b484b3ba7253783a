package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/providers"
)

// CaseQueryProvider is the read-only surface the assistant tools run
// against; tools can never mutate case state.
type CaseQueryProvider interface {
	QueryCases(ctx context.Context, query, status string, limit int) ([]*entities.Case, error)
	GetCaseDetails(ctx context.Context, identifier string) (*entities.Case, error)
	GetStatistics(ctx context.Context) (*entities.CaseStatistics, error)
}

// JSON-schema contracts for the tool arguments
const (
	queryCasesSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Partial patient name or diagnosis to match"},
    "status": {"type": "string", "enum": ["pending", "approved", "denied"], "description": "Optional status filter"},
    "limit": {"type": "integer", "description": "Maximum number of cases to return"}
  }
}`

	getCaseDetailsSchema = `{
  "type": "object",
  "properties": {
    "case_id": {"type": "string", "description": "Case identifier or AUTH- authorization number"}
  },
  "required": ["case_id"]
}`

	getStatisticsSchema = `{"type": "object", "properties": {}}`
)

type queryCasesArgs struct {
	Query  string `json:"query"`
	Status string `json:"status"`
	Limit  int    `json:"limit"`
}

type getCaseDetailsArgs struct {
	CaseID string `json:"case_id"`
}

// ToolRegistry executes the closed set of assistant tools. Dispatch is a
// switch over the enumerated tool names; nothing else is callable.
type ToolRegistry struct {
	queries CaseQueryProvider
}

// NewToolRegistry creates a new tool registry
func NewToolRegistry(queries CaseQueryProvider) *ToolRegistry {
	return &ToolRegistry{queries: queries}
}

// Definitions returns the tool contracts offered to the reasoning service
func (r *ToolRegistry) Definitions() []providers.ToolDefinition {
	return []providers.ToolDefinition{
		{
			Name:        entities.ToolQueryCases,
			Description: "Search prior-authorization cases by partial patient name or diagnosis, optionally filtered by status",
			Schema:      json.RawMessage(queryCasesSchema),
		},
		{
			Name:        entities.ToolGetCaseDetails,
			Description: "Get the full details of one case by its id or authorization number",
			Schema:      json.RawMessage(getCaseDetailsSchema),
		},
		{
			Name:        entities.ToolGetStatistics,
			Description: "Get aggregate case statistics: totals, approval rate, completion rate and top denial reasons",
			Schema:      json.RawMessage(getStatisticsSchema),
		},
	}
}

// Execute runs one tool call and returns its JSON payload. An unknown tool
// name is a local error and is never forwarded to the reasoning service.
func (r *ToolRegistry) Execute(ctx context.Context, call entities.ToolCall) (json.RawMessage, error) {
	switch call.Name {
	case entities.ToolQueryCases:
		var args queryCasesArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		return r.queryCases(ctx, args)

	case entities.ToolGetCaseDetails:
		var args getCaseDetailsArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		if args.CaseID == "" {
			return nil, fmt.Errorf("case_id is required")
		}
		return r.getCaseDetails(ctx, args)

	case entities.ToolGetStatistics:
		stats, err := r.queries.GetStatistics(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(stats)

	default:
		return nil, &UnknownToolError{Name: string(call.Name)}
	}
}

func (r *ToolRegistry) queryCases(ctx context.Context, args queryCasesArgs) (json.RawMessage, error) {
	cases, err := r.queries.QueryCases(ctx, args.Query, args.Status, args.Limit)
	if err != nil {
		return nil, err
	}

	type caseSummary struct {
		ID          string `json:"id"`
		PatientName string `json:"patient_name"`
		Diagnosis   string `json:"diagnosis"`
		Status      string `json:"status"`
		CreatedAt   string `json:"created_at"`
	}

	summaries := make([]caseSummary, 0, len(cases))
	for _, c := range cases {
		summaries = append(summaries, caseSummary{
			ID:          c.ID,
			PatientName: c.PatientName,
			Diagnosis:   c.Diagnosis,
			Status:      c.DisplayStatus(),
			CreatedAt:   c.CreatedAt.Format("2006-01-02"),
		})
	}

	return json.Marshal(map[string]interface{}{
		"cases": summaries,
		"count": len(summaries),
	})
}

func (r *ToolRegistry) getCaseDetails(ctx context.Context, args getCaseDetailsArgs) (json.RawMessage, error) {
	c, err := r.queries.GetCaseDetails(ctx, args.CaseID)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]interface{}{
		"id":                   c.ID,
		"patient_name":         c.PatientName,
		"diagnosis":            c.Diagnosis,
		"diagnosis_codes":      c.DiagnosisCodes,
		"procedure_codes":      c.ProcedureCodes,
		"summary":              c.Summary,
		"status":               c.DisplayStatus(),
		"validation_result":    c.ValidationResult,
		"evidence_result":      c.EvidenceResult,
		"payer_response":       c.PayerResponse,
		"authorization_number": c.AuthorizationNumber,
		"denial_reason":        c.DenialReason,
		"timeline":             c.Timeline,
	})
}

func decodeArgs(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}
