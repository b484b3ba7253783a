package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/providers"
	apperrors "github.com/caretide/priorauth/pkg/errors"
)

const (
	cptVerdictJSON     = `{"results":[{"code":"73721","valid":true,"description":"MRI lower extremity joint","category":"Radiology"}]}`
	payerApprovedJSON  = `{"decision":"APPROVED","confidence":"high","reasoning":"Medically necessary.","medical_necessity":"Established.","code_appropriateness":"Codes match."}`
	payerDeniedJSON    = `{"decision":"DENIED","confidence":"high","reasoning":"Not medically necessary.","required_actions":"Document conservative treatment."}`
	payerUnparseable   = "I am leaning towards approval here."
)

type orchestrationFixture struct {
	repo      *mockCaseRepo
	docs      *mockDocumentRepo
	reasoning *mockReasoning
	notifier  *mockNotifier
	search    *mockSearchRepo
	service   *OrchestrationService
}

func newOrchestrationFixture(t *testing.T, reasoning *mockReasoning, cases ...*entities.Case) *orchestrationFixture {
	t.Helper()

	repo := newMockCaseRepo(cases...)
	docs := &mockDocumentRepo{}
	require.NoError(t, docs.Add(context.Background(), "case-1", "pt_notes"))
	require.NoError(t, docs.Add(context.Background(), "case-1", "clinical_summary"))

	authority := &mockCodeAuthority{lookups: map[string]*providers.CodeLookup{
		"M17.11": {Code: "M17.11", Found: true, Description: "Unilateral primary osteoarthritis, right knee"},
	}}

	notifier := &mockNotifier{}
	search := &mockSearchRepo{}

	service := NewOrchestrationService(
		repo,
		NewValidationStage(authority, reasoning),
		NewEvidenceStage(docs),
		NewPayerStage(reasoning),
		reasoning,
		nil,
		search,
		notifier,
		time.Second,
		4,
	)

	return &orchestrationFixture{
		repo:      repo,
		docs:      docs,
		reasoning: reasoning,
		notifier:  notifier,
		search:    search,
		service:   service,
	}
}

func extractedCase() *entities.Case {
	return &entities.Case{
		ID:             "case-1",
		PatientName:    "Sarah Johnson",
		Diagnosis:      "Right knee osteoarthritis",
		DiagnosisCodes: []string{"M17.11"},
		ProcedureCodes: []string{"73721"},
		Summary:        "Failed 6 weeks of conservative treatment, MRI requested",
		Status:         entities.CaseStatusExtracted,
	}
}

func TestRun_DirectApproval(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(cptVerdictJSON),
		textResponse(payerApprovedJSON),
	}}
	fx := newOrchestrationFixture(t, reasoning, extractedCase())

	result, err := fx.service.Run(context.Background(), "case-1", ModeDirect)

	require.NoError(t, err)
	assert.Equal(t, entities.CaseStatusApproved, result.Status)
	assert.Regexp(t, authNumberPattern, result.AuthorizationNumber)
	require.NotNil(t, result.ValidationResult)
	require.NotNil(t, result.EvidenceResult)
	require.NotNil(t, result.PayerResponse)

	stored, err := fx.repo.GetByID(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, entities.CaseStatusApproved, stored.Status)
	assert.NotNil(t, stored.ValidationResult)

	require.Len(t, fx.notifier.notified, 1)
	assert.Equal(t, entities.CaseStatusApproved, fx.notifier.notified[0].Status)
	require.Len(t, fx.search.indexed, 1)
}

func TestRun_DirectDenialFromPayer(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(cptVerdictJSON),
		textResponse(payerDeniedJSON),
	}}
	fx := newOrchestrationFixture(t, reasoning, extractedCase())

	result, err := fx.service.Run(context.Background(), "case-1", ModeDirect)

	require.NoError(t, err)
	assert.Equal(t, entities.CaseStatusDenied, result.Status)
	assert.Equal(t, "Not medically necessary.", result.DenialReason)
	assert.Empty(t, result.AuthorizationNumber)
}

func TestRun_InvalidCodeDeniesBeforePayer(t *testing.T) {
	c := extractedCase()
	c.DiagnosisCodes = []string{"ZZZ.99"}
	c.ProcedureCodes = nil

	reasoning := &mockReasoning{}
	fx := newOrchestrationFixture(t, reasoning, c)

	result, err := fx.service.Run(context.Background(), "case-1", ModeDirect)

	require.NoError(t, err)
	assert.Equal(t, entities.CaseStatusDenied, result.Status)
	assert.Equal(t, "Invalid diagnosis code: ZZZ.99", result.DenialReason)

	// Neither evidence nor payer review may run after a validation denial
	assert.Nil(t, result.EvidenceResult)
	assert.Nil(t, result.PayerResponse)
	assert.Zero(t, reasoning.calls)
}

func timelineEvents(c *entities.Case) []string {
	events := make([]string, 0, len(c.Timeline))
	for _, entry := range c.Timeline {
		events = append(events, entry.Event)
	}
	return events
}

func TestRun_DirectApprovalTimeline(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(cptVerdictJSON),
		textResponse(payerApprovedJSON),
	}}
	fx := newOrchestrationFixture(t, reasoning, extractedCase())

	result, err := fx.service.Run(context.Background(), "case-1", ModeDirect)
	require.NoError(t, err)

	stored, err := fx.repo.GetByID(context.Background(), "case-1")
	require.NoError(t, err)

	// One entry per stage transition plus the decision
	require.Len(t, stored.Timeline, 8)
	events := timelineEvents(stored)
	assert.Equal(t, []string{
		"Processing started",
		"Code validation started",
		"Code validation completed",
		"Evidence check started",
		"Evidence check completed",
		"Payer review started",
		"Payer review completed",
		"Case approved (" + result.AuthorizationNumber + ")",
	}, events)
	assert.Equal(t, string(entities.CaseStatusApproved), stored.Timeline[7].Status)
}

func TestRun_ValidationDenialTimeline(t *testing.T) {
	c := extractedCase()
	c.DiagnosisCodes = []string{"ZZZ.99"}
	c.ProcedureCodes = nil

	fx := newOrchestrationFixture(t, &mockReasoning{}, c)

	_, err := fx.service.Run(context.Background(), "case-1", ModeDirect)
	require.NoError(t, err)

	stored, err := fx.repo.GetByID(context.Background(), "case-1")
	require.NoError(t, err)

	// Validation denial short-circuits: no evidence or payer entries
	require.Len(t, stored.Timeline, 4)
	assert.Equal(t, []string{
		"Processing started",
		"Code validation started",
		"Code validation completed",
		"Case denied: Invalid diagnosis code: ZZZ.99",
	}, timelineEvents(stored))
	assert.Equal(t, string(entities.CaseStatusDenied), stored.Timeline[3].Status)
}

func TestRun_TerminalCaseIsNoOp(t *testing.T) {
	c := extractedCase()
	c.Status = entities.CaseStatusApproved
	c.AuthorizationNumber = "AUTH-20260101-AAAA1111"

	fx := newOrchestrationFixture(t, &mockReasoning{}, c)

	result, err := fx.service.Run(context.Background(), "case-1", ModeDirect)

	require.NoError(t, err)
	assert.Equal(t, entities.CaseStatusApproved, result.Status)
	assert.Equal(t, "AUTH-20260101-AAAA1111", result.AuthorizationNumber)
	assert.Zero(t, fx.repo.updateCalls)
	assert.Empty(t, fx.notifier.notified)
}

func TestRun_ResumesWithoutRecomputingStages(t *testing.T) {
	c := extractedCase()
	c.Status = entities.CaseStatusProcessing
	c.ValidationResult = &entities.ValidationResult{
		Codes:    []entities.CodeCheck{{Code: "M17.11", System: entities.CodeSystemICD10, Status: entities.CodeCheckValid}},
		AllValid: true,
	}
	c.EvidenceResult = &entities.EvidenceResult{Complete: true, CompletenessPercent: 100}

	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(payerApprovedJSON),
	}}
	fx := newOrchestrationFixture(t, reasoning, c)

	result, err := fx.service.Run(context.Background(), "case-1", ModeDirect)

	require.NoError(t, err)
	assert.Equal(t, entities.CaseStatusApproved, result.Status)

	// Only the payer review was outstanding, so exactly one reasoning call
	assert.Equal(t, 1, reasoning.calls)
}

func TestRun_UnknownStatusIsRejected(t *testing.T) {
	c := extractedCase()
	c.Status = entities.CaseStatus("archived")

	fx := newOrchestrationFixture(t, &mockReasoning{}, c)

	_, err := fx.service.Run(context.Background(), "case-1", ModeDirect)

	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "case-1", invalid.CaseID)
}

func TestRun_MissingCase(t *testing.T) {
	fx := newOrchestrationFixture(t, &mockReasoning{})

	_, err := fx.service.Run(context.Background(), "nope", ModeDirect)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrorTypeNotFound, appErr.Type)
}

func TestRun_PayerFailureLeavesCaseProcessing(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(cptVerdictJSON),
		textResponse(payerUnparseable),
	}}
	fx := newOrchestrationFixture(t, reasoning, extractedCase())

	_, err := fx.service.Run(context.Background(), "case-1", ModeDirect)

	var failure *StageFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, entities.StagePayer, failure.Stage)

	// Completed stage results are kept for the retry; the case stays processing
	stored, gerr := fx.repo.GetByID(context.Background(), "case-1")
	require.NoError(t, gerr)
	assert.Equal(t, entities.CaseStatusProcessing, stored.Status)
	assert.NotNil(t, stored.ValidationResult)
	assert.NotNil(t, stored.EvidenceResult)
	assert.Nil(t, stored.PayerResponse)
	assert.Empty(t, fx.notifier.notified)
}

func TestRun_ConflictRetriesTerminalWriteOnce(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(cptVerdictJSON),
		textResponse(payerApprovedJSON),
	}}
	fx := newOrchestrationFixture(t, reasoning, extractedCase())

	// Updates run in order: markProcessing, validation, evidence, payer,
	// terminal. Fail the terminal write once; the stored row is still
	// processing, so the single re-read and re-apply must succeed.
	fx.repo.failOnCall = 5
	fx.repo.failUpdatesWith = apperrors.NewConflictError("case status changed")

	result, err := fx.service.Run(context.Background(), "case-1", ModeDirect)

	require.NoError(t, err)
	assert.Equal(t, entities.CaseStatusApproved, result.Status)
	assert.Equal(t, 6, fx.repo.updateCalls)
	require.Len(t, fx.notifier.notified, 1)
}

func TestRun_ConcurrentCompletionServesStoredOutcome(t *testing.T) {
	c := extractedCase()
	c.Status = entities.CaseStatusProcessing

	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		textResponse(cptVerdictJSON),
	}}
	fx := newOrchestrationFixture(t, reasoning, c)

	// The first stage write loses the race: a concurrent run has already
	// approved the case. This run must serve the stored outcome untouched.
	fx.repo.failOnCall = 1
	fx.repo.failUpdatesWith = apperrors.NewConflictError("case status is approved")
	fx.repo.mutateOnFail = func(cases map[string]*entities.Case) {
		stored := cases["case-1"]
		stored.Status = entities.CaseStatusApproved
		stored.AuthorizationNumber = "AUTH-20260102-BBBB2222"
	}

	result, err := fx.service.Run(context.Background(), "case-1", ModeDirect)

	require.NoError(t, err)
	assert.Equal(t, entities.CaseStatusApproved, result.Status)
	assert.Equal(t, "AUTH-20260102-BBBB2222", result.AuthorizationNumber)

	// The losing run fires no side channels of its own
	assert.Empty(t, fx.notifier.notified)
	assert.Empty(t, fx.search.indexed)
}

func TestRun_DelegatedApproval(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		toolResponse(entities.ToolCall{ID: "p1", Name: actionRunValidation}),
		textResponse(cptVerdictJSON),
		toolResponse(entities.ToolCall{ID: "p2", Name: actionRunEvidence}),
		toolResponse(entities.ToolCall{ID: "p3", Name: actionRunPayer}),
		textResponse(payerApprovedJSON),
	}}
	fx := newOrchestrationFixture(t, reasoning, extractedCase())

	result, err := fx.service.Run(context.Background(), "case-1", ModeDelegated)

	require.NoError(t, err)
	assert.Equal(t, entities.CaseStatusApproved, result.Status)
	assert.Regexp(t, authNumberPattern, result.AuthorizationNumber)
	require.Len(t, fx.notifier.notified, 1)
}

func TestRun_DelegatedInvalidCodeDeniesImmediately(t *testing.T) {
	c := extractedCase()
	c.DiagnosisCodes = []string{"ZZZ.99"}
	c.ProcedureCodes = nil

	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		toolResponse(entities.ToolCall{ID: "p1", Name: actionRunValidation}),
	}}
	fx := newOrchestrationFixture(t, reasoning, c)

	result, err := fx.service.Run(context.Background(), "case-1", ModeDelegated)

	require.NoError(t, err)
	assert.Equal(t, entities.CaseStatusDenied, result.Status)
	assert.Equal(t, "Invalid diagnosis code: ZZZ.99", result.DenialReason)

	// The denial ends the planner loop; no further reasoning calls happen
	assert.Equal(t, 1, reasoning.calls)
}

func TestRun_DelegatedWithoutVerdictFails(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		toolResponse(entities.ToolCall{ID: "p1", Name: actionRunValidation}),
		textResponse(cptVerdictJSON),
		textResponse("Validation looks fine, nothing more to do."),
	}}
	fx := newOrchestrationFixture(t, reasoning, extractedCase())

	_, err := fx.service.Run(context.Background(), "case-1", ModeDelegated)

	var failure *StageFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, entities.StagePayer, failure.Stage)

	stored, gerr := fx.repo.GetByID(context.Background(), "case-1")
	require.NoError(t, gerr)
	assert.Equal(t, entities.CaseStatusProcessing, stored.Status)
	assert.NotNil(t, stored.ValidationResult)
}

func TestRun_DelegatedUnknownActionIsRejected(t *testing.T) {
	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		toolResponse(entities.ToolCall{ID: "p1", Name: entities.ToolName("drop_case")}),
	}}
	fx := newOrchestrationFixture(t, reasoning, extractedCase())

	_, err := fx.service.Run(context.Background(), "case-1", ModeDelegated)

	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "drop_case", unknown.Name)
}

func TestRun_DelegatedReusesStoredStageResults(t *testing.T) {
	c := extractedCase()
	c.Status = entities.CaseStatusProcessing
	c.ValidationResult = &entities.ValidationResult{
		Codes:    []entities.CodeCheck{{Code: "M17.11", System: entities.CodeSystemICD10, Status: entities.CodeCheckValid}},
		AllValid: true,
	}

	reasoning := &mockReasoning{responses: []*providers.ReasoningResponse{
		toolResponse(entities.ToolCall{ID: "p1", Name: actionRunValidation}),
		toolResponse(entities.ToolCall{ID: "p2", Name: actionRunPayer}),
		textResponse(payerApprovedJSON),
	}}
	fx := newOrchestrationFixture(t, reasoning, c)

	result, err := fx.service.Run(context.Background(), "case-1", ModeDelegated)

	require.NoError(t, err)
	assert.Equal(t, entities.CaseStatusApproved, result.Status)

	// Planner round, payer planner round, payer verdict: the stored
	// validation result is served without a validation reasoning call
	assert.Equal(t, 3, reasoning.calls)
}
