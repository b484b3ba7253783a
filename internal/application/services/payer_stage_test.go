package services

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/providers"
)

var authNumberPattern = regexp.MustCompile(`^AUTH-\d{8}-[A-Z0-9]{8}$`)

func samplePayerContext() PayerContext {
	return PayerContext{
		PatientName:     "Sarah Johnson",
		MemberID:        "a1b2c3d4",
		DiagnosisCodes:  []string{"M17.11"},
		ProcedureCodes:  []string{"73721"},
		ClinicalSummary: "Right knee pain, failed conservative treatment, MRI requested",
		Evidence: &entities.EvidenceResult{
			RequiredDocs: []string{"clinical_summary", "pt_notes"},
			FoundDocs:    []string{"pt_notes"},
			MissingDocs:  []string{"clinical_summary"},
		},
	}
}

func TestPayerStage_ApprovedMintsAuthorizationNumber(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(`{"decision":"APPROVED","confidence":"high","reasoning":"Conservative treatment failed.","medical_necessity":"MRI is indicated.","code_appropriateness":"Codes match.","missing_elements":[],"required_actions":""}`),
	}}

	stage := NewPayerStage(reasoning)
	response, err := stage.Run(context.Background(), samplePayerContext())

	require.NoError(t, err)
	assert.Equal(t, entities.PayerDecisionApproved, response.Decision)
	assert.Regexp(t, authNumberPattern, response.AuthorizationNumber)
	assert.Equal(t, "high", response.Confidence)
	assert.Empty(t, response.Reason)
}

func TestPayerStage_DeniedCarriesReason(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(`{"decision":"DENIED","confidence":"high","reasoning":"Procedure does not match the diagnosed condition.","medical_necessity":"Not established.","code_appropriateness":"CPT code is for a different body part.","missing_elements":["imaging report"],"required_actions":"Submit corrected codes."}`),
	}}

	stage := NewPayerStage(reasoning)
	response, err := stage.Run(context.Background(), samplePayerContext())

	require.NoError(t, err)
	assert.Equal(t, entities.PayerDecisionDenied, response.Decision)
	assert.Equal(t, "Procedure does not match the diagnosed condition.", response.Reason)
	assert.Empty(t, response.AuthorizationNumber)
	assert.Equal(t, []string{"imaging report"}, response.MissingElements)
}

func TestPayerStage_LowercaseDecisionIsAccepted(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(`{"decision":"approved","confidence":"medium","reasoning":"ok"}`),
	}}

	stage := NewPayerStage(reasoning)
	response, err := stage.Run(context.Background(), samplePayerContext())

	require.NoError(t, err)
	assert.Equal(t, entities.PayerDecisionApproved, response.Decision)
}

func TestPayerStage_UnparseableVerdictFailsStage(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse("After careful consideration, I approve this request."),
	}}

	stage := NewPayerStage(reasoning)
	_, err := stage.Run(context.Background(), samplePayerContext())

	var failure *StageFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, entities.StagePayer, failure.Stage)
}

func TestPayerStage_UnrecognizedDecisionFailsStage(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(`{"decision":"MAYBE","confidence":"low","reasoning":"unclear"}`),
	}}

	stage := NewPayerStage(reasoning)
	_, err := stage.Run(context.Background(), samplePayerContext())

	var failure *StageFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, entities.StagePayer, failure.Stage)
}

func TestPayerStage_PromptIncludesEvidencePresence(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(`{"decision":"APPROVED","confidence":"high","reasoning":"ok"}`),
	}}

	stage := NewPayerStage(reasoning)
	_, err := stage.Run(context.Background(), samplePayerContext())
	require.NoError(t, err)

	require.Len(t, reasoning.requests, 1)
	prompt := reasoning.requests[0].Messages[0].Text
	assert.Contains(t, prompt, "pt_notes: Yes")
	assert.Contains(t, prompt, "clinical_summary: No")
	assert.Contains(t, prompt, "member a1b2c3d4")
}
