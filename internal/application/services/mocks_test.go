package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/providers"
	"github.com/caretide/priorauth/internal/domain/repositories"
	apperrors "github.com/caretide/priorauth/pkg/errors"
)

// mockReasoning replays a scripted sequence of responses and records every
// request it received.
type mockReasoning struct {
	responses []*providers.ReasoningResponse
	err       error
	requests  []providers.ReasoningRequest
	calls     int
}

func (m *mockReasoning) Complete(_ context.Context, req providers.ReasoningRequest) (*providers.ReasoningResponse, error) {
	m.requests = append(m.requests, req)
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return nil, fmt.Errorf("mock reasoning: no scripted response left")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func textResponse(text string) *providers.ReasoningResponse {
	return &providers.ReasoningResponse{StopReason: providers.StopComplete, Text: text}
}

func toolResponse(calls ...entities.ToolCall) *providers.ReasoningResponse {
	return &providers.ReasoningResponse{StopReason: providers.StopToolUse, ToolCalls: calls}
}

type mockCodeAuthority struct {
	lookups map[string]*providers.CodeLookup
	err     error
}

func (m *mockCodeAuthority) LookupDiagnosisCode(_ context.Context, code string) (*providers.CodeLookup, error) {
	if m.err != nil {
		return nil, m.err
	}
	if lookup, ok := m.lookups[code]; ok {
		return lookup, nil
	}
	return &providers.CodeLookup{Code: code, Found: false}, nil
}

type mockDocumentRepo struct {
	docs map[string]bool
	err  error
}

func (m *mockDocumentRepo) HasDocument(_ context.Context, caseID, docType string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.docs[caseID+"/"+docType], nil
}

func (m *mockDocumentRepo) Add(_ context.Context, caseID, docType string) error {
	if m.docs == nil {
		m.docs = map[string]bool{}
	}
	m.docs[caseID+"/"+docType] = true
	return nil
}

func (m *mockDocumentRepo) ListByCase(_ context.Context, caseID string) ([]string, error) {
	var out []string
	for key, present := range m.docs {
		if present {
			out = append(out, key)
		}
	}
	return out, nil
}

// mockCaseRepo is an in-memory CaseRepository that honors conditional
// updates the way the database adapter does: a status mismatch returns a
// CONFLICT error and leaves the row untouched.
type mockCaseRepo struct {
	mu    sync.Mutex
	cases map[string]*entities.Case

	updateCalls   int
	timelineCalls int

	// failOnCall, when non-zero, fails that UpdateFields call (1-based)
	// with failUpdatesWith; mutateOnFail runs alongside to simulate a
	// concurrent writer
	failOnCall      int
	failUpdatesWith error
	mutateOnFail    func(cases map[string]*entities.Case)
}

func newMockCaseRepo(cases ...*entities.Case) *mockCaseRepo {
	repo := &mockCaseRepo{cases: map[string]*entities.Case{}}
	for _, c := range cases {
		stored := *c
		repo.cases[c.ID] = &stored
	}
	return repo
}

func (m *mockCaseRepo) get(id string) (*entities.Case, error) {
	c, ok := m.cases[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("case not found")
	}
	copied := *c
	return &copied, nil
}

func (m *mockCaseRepo) Create(_ context.Context, c *entities.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *c
	m.cases[c.ID] = &stored
	return nil
}

func (m *mockCaseRepo) GetByID(_ context.Context, id string) (*entities.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id)
}

func (m *mockCaseRepo) GetByAuthorizationNumber(_ context.Context, authNumber string) (*entities.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cases {
		if c.AuthorizationNumber == authNumber {
			copied := *c
			return &copied, nil
		}
	}
	return nil, apperrors.NewNotFoundError("case not found")
}

func (m *mockCaseRepo) UpdateFields(_ context.Context, id string, update repositories.CaseUpdate, expectedStatus *entities.CaseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateCalls++
	if m.failOnCall != 0 && m.updateCalls == m.failOnCall {
		if m.mutateOnFail != nil {
			m.mutateOnFail(m.cases)
		}
		return m.failUpdatesWith
	}

	c, ok := m.cases[id]
	if !ok {
		return apperrors.NewNotFoundError("case not found")
	}
	if expectedStatus != nil && c.Status != *expectedStatus {
		return apperrors.NewConflictError(fmt.Sprintf("case status is %s", c.Status))
	}

	if update.Status != nil {
		c.Status = *update.Status
	}
	if update.ValidationResult != nil {
		c.ValidationResult = update.ValidationResult
	}
	if update.EvidenceResult != nil {
		c.EvidenceResult = update.EvidenceResult
	}
	if update.PayerResponse != nil {
		c.PayerResponse = update.PayerResponse
	}
	if update.AuthorizationNumber != nil {
		c.AuthorizationNumber = *update.AuthorizationNumber
	}
	if update.DenialReason != nil {
		c.DenialReason = *update.DenialReason
	}
	return nil
}

func (m *mockCaseRepo) AppendTimeline(_ context.Context, id string, event entities.TimelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timelineCalls++
	c, ok := m.cases[id]
	if !ok {
		return apperrors.NewNotFoundError("case not found")
	}
	c.Timeline = append(c.Timeline, event)
	return nil
}

func (m *mockCaseRepo) List(_ context.Context, _ repositories.CaseFilter) ([]*entities.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entities.Case, 0, len(m.cases))
	for _, c := range m.cases {
		copied := *c
		out = append(out, &copied)
	}
	return out, nil
}

func (m *mockCaseRepo) CountByStatus(_ context.Context) (map[entities.CaseStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[entities.CaseStatus]int{}
	for _, c := range m.cases {
		counts[c.Status]++
	}
	return counts, nil
}

func (m *mockCaseRepo) TopDenialReasons(_ context.Context, _ int) ([]entities.DenialReasonCount, error) {
	return nil, nil
}

type mockNotifier struct {
	notified []*entities.Case
	err      error
}

func (m *mockNotifier) NotifyDecision(_ context.Context, c *entities.Case) error {
	copied := *c
	m.notified = append(m.notified, &copied)
	return m.err
}

type mockSearchRepo struct {
	indexed []*entities.Case
	err     error
}

func (m *mockSearchRepo) InitSchema(_ context.Context) error { return nil }

func (m *mockSearchRepo) Index(_ context.Context, c *entities.Case) error {
	if m.err != nil {
		return m.err
	}
	copied := *c
	m.indexed = append(m.indexed, &copied)
	return nil
}

func (m *mockSearchRepo) Delete(_ context.Context, _ string) error { return nil }

func (m *mockSearchRepo) Search(_ context.Context, _ repositories.CaseSearchParams) ([]*entities.Case, error) {
	return nil, nil
}
