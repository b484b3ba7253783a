package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/providers"
	"github.com/caretide/priorauth/internal/infrastructure/observability"
)

const codeAuthoritySource = "NIH Clinical Tables"

// ValidationContext carries the only inputs the validation stage may see
type ValidationContext struct {
	DiagnosisCodes []string
	ProcedureCodes []string
	Summary        string
}

// ValidationStage verifies the submitted medical codes. ICD-10 codes are
// checked against the external code authority; CPT codes have no free
// authority and are assessed by a structured reasoning call.
type ValidationStage struct {
	codeAuthority providers.CodeAuthorityProvider
	reasoning     providers.ReasoningProvider
}

// NewValidationStage creates a new validation stage
func NewValidationStage(codeAuthority providers.CodeAuthorityProvider, reasoning providers.ReasoningProvider) *ValidationStage {
	return &ValidationStage{
		codeAuthority: codeAuthority,
		reasoning:     reasoning,
	}
}

// Run validates all codes and returns the stage result. An authority outage
// degrades the affected code to unverified; an unparseable reasoning verdict
// fails the stage instead of fabricating one.
func (s *ValidationStage) Run(ctx context.Context, vc ValidationContext) (*entities.ValidationResult, error) {
	logger := observability.LoggerFromContext(ctx)

	result := &entities.ValidationResult{
		CheckedAt: time.Now(),
	}

	for _, code := range vc.DiagnosisCodes {
		check := entities.CodeCheck{
			Code:   code,
			System: entities.CodeSystemICD10,
			Source: codeAuthoritySource,
		}

		lookup, err := s.codeAuthority.LookupDiagnosisCode(ctx, code)
		switch {
		case err != nil:
			logger.Warn().Str("code", code).Err(err).Msg("code authority unreachable, degrading to unverified")
			check.Status = entities.CodeCheckUnverified
			check.Error = err.Error()
		case lookup.Found:
			check.Status = entities.CodeCheckValid
			check.Description = lookup.Description
		default:
			check.Status = entities.CodeCheckInvalid
			check.Error = "code not found in ICD-10 database"
			result.Errors = append(result.Errors, fmt.Sprintf("Invalid diagnosis code: %s", code))
		}

		result.Codes = append(result.Codes, check)
	}

	if len(vc.ProcedureCodes) > 0 {
		cptChecks, err := s.validateProcedureCodes(ctx, vc)
		if err != nil {
			return nil, &StageFailure{Stage: entities.StageValidation, Cause: err}
		}
		for _, check := range cptChecks {
			if check.Status == entities.CodeCheckInvalid {
				result.Errors = append(result.Errors, fmt.Sprintf("Invalid procedure code: %s", check.Code))
			}
			result.Codes = append(result.Codes, check)
		}
	}

	result.ComputeAllValid()
	return result, nil
}

type cptVerdict struct {
	Code        string `json:"code"`
	Valid       bool   `json:"valid"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type cptVerdictList struct {
	Results []cptVerdict `json:"results"`
}

func (s *ValidationStage) validateProcedureCodes(ctx context.Context, vc ValidationContext) ([]entities.CodeCheck, error) {
	prompt := fmt.Sprintf(`You are a medical billing expert. Assess each CPT procedure code below.

CPT Codes: %s
Clinical Summary: %s

For each code decide whether it is a valid CPT code and describe the procedure it represents.

Return ONLY a JSON object:
{
  "results": [
    {"code": "73721", "valid": true, "description": "procedure description", "category": "category name"}
  ]
}`, strings.Join(vc.ProcedureCodes, ", "), vc.Summary)

	resp, err := s.reasoning.Complete(ctx, providers.ReasoningRequest{
		Messages:    []entities.Turn{entities.UserTurn(prompt)},
		Temperature: 0.3,
		MaxTokens:   600,
	})
	if err != nil {
		return nil, fmt.Errorf("procedure code review failed: %w", err)
	}

	var verdicts cptVerdictList
	if err := json.Unmarshal([]byte(resp.Text), &verdicts); err != nil {
		return nil, fmt.Errorf("unparseable procedure code verdict: %w", err)
	}

	byCode := make(map[string]cptVerdict, len(verdicts.Results))
	for _, v := range verdicts.Results {
		byCode[v.Code] = v
	}

	checks := make([]entities.CodeCheck, 0, len(vc.ProcedureCodes))
	for _, code := range vc.ProcedureCodes {
		check := entities.CodeCheck{
			Code:   code,
			System: entities.CodeSystemCPT,
			Source: "AI Reasoning",
		}
		verdict, ok := byCode[code]
		switch {
		case !ok:
			// The verdict parsed but omitted this code; degrade rather
			// than invent an outcome.
			check.Status = entities.CodeCheckUnverified
			check.Error = "no verdict returned for code"
		case verdict.Valid:
			check.Status = entities.CodeCheckValid
			check.Description = verdict.Description
		default:
			check.Status = entities.CodeCheckInvalid
			check.Description = verdict.Description
			check.Error = "code rejected by procedure code review"
		}
		checks = append(checks, check)
	}

	return checks, nil
}
