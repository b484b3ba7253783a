package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/providers"
)

func TestValidationStage_AllCodesValid(t *testing.T) {
	authority := &mockCodeAuthority{lookups: map[string]*providers.CodeLookup{
		"M17.11": {Code: "M17.11", Found: true, Description: "Unilateral primary osteoarthritis, right knee"},
	}}
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(`{"results":[{"code":"73721","valid":true,"description":"MRI lower extremity joint","category":"Radiology"}]}`),
	}}

	stage := NewValidationStage(authority, reasoning)
	result, err := stage.Run(context.Background(), ValidationContext{
		DiagnosisCodes: []string{"M17.11"},
		ProcedureCodes: []string{"73721"},
		Summary:        "Right knee osteoarthritis, MRI requested",
	})

	require.NoError(t, err)
	assert.True(t, result.AllValid)
	require.Len(t, result.Codes, 2)

	assert.Equal(t, entities.CodeCheckValid, result.Codes[0].Status)
	assert.Equal(t, entities.CodeSystemICD10, result.Codes[0].System)
	assert.Equal(t, "Unilateral primary osteoarthritis, right knee", result.Codes[0].Description)

	assert.Equal(t, entities.CodeCheckValid, result.Codes[1].Status)
	assert.Equal(t, entities.CodeSystemCPT, result.Codes[1].System)
	assert.Empty(t, result.Errors)
}

func TestValidationStage_InvalidDiagnosisCode(t *testing.T) {
	authority := &mockCodeAuthority{lookups: map[string]*providers.CodeLookup{}}

	stage := NewValidationStage(authority, &mockReasoning{})
	result, err := stage.Run(context.Background(), ValidationContext{
		DiagnosisCodes: []string{"ZZZ.99"},
	})

	require.NoError(t, err)
	assert.False(t, result.AllValid)
	require.Len(t, result.Codes, 1)
	assert.Equal(t, entities.CodeCheckInvalid, result.Codes[0].Status)
	assert.Contains(t, result.Errors, "Invalid diagnosis code: ZZZ.99")
}

func TestValidationStage_AuthorityOutageDegradesToUnverified(t *testing.T) {
	authority := &mockCodeAuthority{err: errors.New("connection refused")}

	stage := NewValidationStage(authority, &mockReasoning{})
	result, err := stage.Run(context.Background(), ValidationContext{
		DiagnosisCodes: []string{"M17.11"},
	})

	require.NoError(t, err)
	require.Len(t, result.Codes, 1)
	assert.Equal(t, entities.CodeCheckUnverified, result.Codes[0].Status)

	// An unreachable authority must never count against the case
	assert.True(t, result.AllValid)
	assert.Empty(t, result.Errors)
}

func TestValidationStage_InvalidProcedureCode(t *testing.T) {
	authority := &mockCodeAuthority{lookups: map[string]*providers.CodeLookup{
		"M17.11": {Code: "M17.11", Found: true, Description: "Osteoarthritis"},
	}}
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(`{"results":[{"code":"00000","valid":false,"description":"not a CPT code","category":""}]}`),
	}}

	stage := NewValidationStage(authority, reasoning)
	result, err := stage.Run(context.Background(), ValidationContext{
		DiagnosisCodes: []string{"M17.11"},
		ProcedureCodes: []string{"00000"},
	})

	require.NoError(t, err)
	assert.False(t, result.AllValid)
	assert.Contains(t, result.Errors, "Invalid procedure code: 00000")
}

func TestValidationStage_UnparseableVerdictFailsStage(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse("I believe these codes look fine."),
	}}

	stage := NewValidationStage(&mockCodeAuthority{}, reasoning)
	_, err := stage.Run(context.Background(), ValidationContext{
		ProcedureCodes: []string{"73721"},
	})

	var failure *StageFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, entities.StageValidation, failure.Stage)
}

func TestValidationStage_MissingVerdictDegradesToUnverified(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(`{"results":[{"code":"73721","valid":true,"description":"MRI","category":"Radiology"}]}`),
	}}

	stage := NewValidationStage(&mockCodeAuthority{}, reasoning)
	result, err := stage.Run(context.Background(), ValidationContext{
		ProcedureCodes: []string{"73721", "99999"},
	})

	require.NoError(t, err)
	require.Len(t, result.Codes, 2)
	assert.Equal(t, entities.CodeCheckValid, result.Codes[0].Status)
	assert.Equal(t, entities.CodeCheckUnverified, result.Codes[1].Status)
	assert.True(t, result.AllValid)
}
