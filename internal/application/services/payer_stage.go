package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/providers"
)

// PayerContext carries the only inputs the payer stage may see
type PayerContext struct {
	PatientName     string
	MemberID        string
	DiagnosisCodes  []string
	ProcedureCodes  []string
	ClinicalSummary string
	Evidence        *entities.EvidenceResult
}

// PayerStage performs the medical necessity review through the reasoning
// service and mints an authorization number on approval.
type PayerStage struct {
	reasoning providers.ReasoningProvider
	now       func() time.Time
}

// NewPayerStage creates a new payer stage
func NewPayerStage(reasoning providers.ReasoningProvider) *PayerStage {
	return &PayerStage{
		reasoning: reasoning,
		now:       time.Now,
	}
}

type payerVerdict struct {
	Decision            string   `json:"decision"`
	Confidence          string   `json:"confidence"`
	Reasoning           string   `json:"reasoning"`
	MedicalNecessity    string   `json:"medical_necessity"`
	CodeAppropriateness string   `json:"code_appropriateness"`
	MissingElements     []string `json:"missing_elements"`
	RequiredActions     string   `json:"required_actions"`
}

// Run reviews the request and returns the payer's verdict. An unparseable
// or unrecognized verdict fails the stage; no decision is ever guessed.
func (s *PayerStage) Run(ctx context.Context, pc PayerContext) (*entities.PayerResponse, error) {
	resp, err := s.reasoning.Complete(ctx, providers.ReasoningRequest{
		Messages:    []entities.Turn{entities.UserTurn(s.buildPrompt(pc))},
		Temperature: 0.2,
		MaxTokens:   1500,
	})
	if err != nil {
		return nil, &StageFailure{Stage: entities.StagePayer, Cause: fmt.Errorf("medical necessity review failed: %w", err)}
	}

	var verdict payerVerdict
	if err := json.Unmarshal([]byte(resp.Text), &verdict); err != nil {
		return nil, &StageFailure{Stage: entities.StagePayer, Cause: fmt.Errorf("unparseable payer verdict: %w", err)}
	}

	response := &entities.PayerResponse{
		Confidence:          verdict.Confidence,
		Reasoning:           verdict.Reasoning,
		MedicalNecessity:    verdict.MedicalNecessity,
		CodeAppropriateness: verdict.CodeAppropriateness,
		MissingElements:     verdict.MissingElements,
		RequiredActions:     verdict.RequiredActions,
		ReviewedAt:          s.now(),
	}

	switch strings.ToUpper(strings.TrimSpace(verdict.Decision)) {
	case "APPROVED":
		response.Decision = entities.PayerDecisionApproved
		response.AuthorizationNumber = s.newAuthorizationNumber()
	case "DENIED":
		response.Decision = entities.PayerDecisionDenied
		response.Reason = verdict.Reasoning
	default:
		return nil, &StageFailure{Stage: entities.StagePayer, Cause: fmt.Errorf("unrecognized payer decision %q", verdict.Decision)}
	}

	return response, nil
}

func (s *PayerStage) newAuthorizationNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("AUTH-%s-%s", s.now().Format("20060102"), suffix)
}

func (s *PayerStage) buildPrompt(pc PayerContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, `You are a medical necessity reviewer for a health insurance company.
Analyze this prior authorization request and determine if it should be APPROVED or DENIED.

AUTHORIZATION REQUEST:
- Patient: %s (member %s)
- Diagnosis Codes (ICD-10): %s
- Procedure Codes (CPT): %s
- Clinical Summary: %s
`,
		valueOr(pc.PatientName, "Unknown"),
		pc.MemberID,
		strings.Join(pc.DiagnosisCodes, ", "),
		strings.Join(pc.ProcedureCodes, ", "),
		valueOr(pc.ClinicalSummary, "Not provided"))

	if pc.Evidence != nil {
		b.WriteString("\nSUPPORTING DOCUMENTATION:\n")
		for _, doc := range pc.Evidence.FoundDocs {
			fmt.Fprintf(&b, "- %s: Yes\n", doc)
		}
		for _, doc := range pc.Evidence.MissingDocs {
			fmt.Fprintf(&b, "- %s: No\n", doc)
		}
	}

	b.WriteString(`
REVIEW CRITERIA (check in this order):
1. CODE ACCURACY: do the ICD-10 codes match the clinical summary, and do the CPT codes match the diagnosed condition? Any code mismatch (wrong body part, wrong system, overtreatment) is a strong reason for DENIAL.
2. CLINICAL CONTEXT: does the requested procedure make sense for the diagnosis and is it the standard of care?
3. MEDICAL NECESSITY: is the procedure necessary, and has conservative treatment been attempted where applicable?
4. DOCUMENTATION: is there sufficient documentation to support medical necessity?

Respond with a JSON object ONLY (no other text):
{
  "decision": "APPROVED" or "DENIED",
  "confidence": "high" or "medium" or "low",
  "reasoning": "Clear explanation of why this decision was made (3-4 sentences)",
  "medical_necessity": "Explanation of medical necessity (or lack thereof)",
  "code_appropriateness": "Analysis of whether the codes match the clinical context",
  "missing_elements": ["list", "of", "missing", "items"] or [],
  "required_actions": "What the provider should do to get approval (if denied)"
}`)

	return b.String()
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
