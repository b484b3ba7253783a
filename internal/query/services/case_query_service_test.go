package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/repositories"
)

type stubCaseRepo struct {
	repositories.CaseRepository

	listed       []*entities.Case
	listErr      error
	lastFilter   repositories.CaseFilter
	byID         map[string]*entities.Case
	byAuthNumber map[string]*entities.Case
	counts       map[entities.CaseStatus]int
	reasons      []entities.DenialReasonCount
	countCalls   int
}

func (s *stubCaseRepo) GetByID(_ context.Context, id string) (*entities.Case, error) {
	if c, ok := s.byID[id]; ok {
		return c, nil
	}
	return nil, errors.New("case not found")
}

func (s *stubCaseRepo) GetByAuthorizationNumber(_ context.Context, authNumber string) (*entities.Case, error) {
	if c, ok := s.byAuthNumber[authNumber]; ok {
		return c, nil
	}
	return nil, errors.New("case not found")
}

func (s *stubCaseRepo) List(_ context.Context, filter repositories.CaseFilter) ([]*entities.Case, error) {
	s.lastFilter = filter
	return s.listed, s.listErr
}

func (s *stubCaseRepo) CountByStatus(_ context.Context) (map[entities.CaseStatus]int, error) {
	s.countCalls++
	return s.counts, nil
}

func (s *stubCaseRepo) TopDenialReasons(_ context.Context, _ int) ([]entities.DenialReasonCount, error) {
	return s.reasons, nil
}

type stubSearchRepo struct {
	repositories.CaseSearchRepository

	results    []*entities.Case
	err        error
	lastParams repositories.CaseSearchParams
}

func (s *stubSearchRepo) Search(_ context.Context, params repositories.CaseSearchParams) ([]*entities.Case, error) {
	s.lastParams = params
	return s.results, s.err
}

type stubCache struct {
	store map[string][]byte
}

func (s *stubCache) Get(_ context.Context, key string) ([]byte, error) {
	if data, ok := s.store[key]; ok {
		return data, nil
	}
	return nil, errors.New("cache miss")
}

func (s *stubCache) Set(_ context.Context, key string, value []byte, _ int) error {
	if s.store == nil {
		s.store = map[string][]byte{}
	}
	s.store[key] = value
	return nil
}

func (s *stubCache) Delete(_ context.Context, key string) error {
	delete(s.store, key)
	return nil
}

func (s *stubCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.store[key]
	return ok, nil
}

func caseWithStatus(id string, status entities.CaseStatus) *entities.Case {
	return &entities.Case{ID: id, PatientName: "Sarah Johnson", Status: status}
}

func TestQueryCases_UsesSearchIndex(t *testing.T) {
	search := &stubSearchRepo{results: []*entities.Case{
		caseWithStatus("case-1", entities.CaseStatusApproved),
	}}
	service := NewCaseQueryService(&stubCaseRepo{}, search, nil)

	results, err := service.QueryCases(context.Background(), "Sarah", "approved", 10)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Sarah", search.lastParams.Query)
	assert.Equal(t, entities.CaseStatusApproved, search.lastParams.Status)
	assert.Equal(t, 10, search.lastParams.Limit)
}

func TestQueryCases_FallsBackToDatabase(t *testing.T) {
	search := &stubSearchRepo{err: errors.New("typesense unavailable")}
	repo := &stubCaseRepo{listed: []*entities.Case{
		caseWithStatus("case-1", entities.CaseStatusDenied),
	}}
	service := NewCaseQueryService(repo, search, nil)

	results, err := service.QueryCases(context.Background(), "Sarah", "denied", 0)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Sarah", repo.lastFilter.PatientName)
	assert.Equal(t, entities.CaseStatusDenied, repo.lastFilter.Status)
	assert.Equal(t, defaultQueryLimit, repo.lastFilter.Limit)
}

func TestQueryCases_PendingMatchesNonTerminal(t *testing.T) {
	search := &stubSearchRepo{results: []*entities.Case{
		caseWithStatus("case-1", entities.CaseStatusExtracted),
		caseWithStatus("case-2", entities.CaseStatusProcessing),
		caseWithStatus("case-3", entities.CaseStatusApproved),
	}}
	service := NewCaseQueryService(&stubCaseRepo{}, search, nil)

	results, err := service.QueryCases(context.Background(), "Sarah", "pending", 10)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "case-1", results[0].ID)
	assert.Equal(t, "case-2", results[1].ID)

	// Pending is a display alias, never an index filter
	assert.Empty(t, search.lastParams.Status)
}

func TestQueryCases_LimitIsCapped(t *testing.T) {
	repo := &stubCaseRepo{}
	service := NewCaseQueryService(repo, nil, nil)

	_, err := service.QueryCases(context.Background(), "", "", 500)

	require.NoError(t, err)
	assert.Equal(t, maxQueryLimit, repo.lastFilter.Limit)
}

func TestGetCaseDetails_ByAuthorizationNumber(t *testing.T) {
	c := caseWithStatus("case-1", entities.CaseStatusApproved)
	c.AuthorizationNumber = "AUTH-20260105-AB12CD34"
	repo := &stubCaseRepo{byAuthNumber: map[string]*entities.Case{
		"AUTH-20260105-AB12CD34": c,
	}}
	service := NewCaseQueryService(repo, nil, nil)

	found, err := service.GetCaseDetails(context.Background(), "auth-20260105-ab12cd34")

	require.NoError(t, err)
	assert.Equal(t, "case-1", found.ID)
}

func TestGetCaseDetails_ByID(t *testing.T) {
	repo := &stubCaseRepo{byID: map[string]*entities.Case{
		"case-1": caseWithStatus("case-1", entities.CaseStatusProcessing),
	}}
	service := NewCaseQueryService(repo, nil, nil)

	found, err := service.GetCaseDetails(context.Background(), " case-1 ")

	require.NoError(t, err)
	assert.Equal(t, "case-1", found.ID)
}

func TestGetStatistics_ComputesRates(t *testing.T) {
	repo := &stubCaseRepo{
		counts: map[entities.CaseStatus]int{
			entities.CaseStatusExtracted:  1,
			entities.CaseStatusProcessing: 1,
			entities.CaseStatusApproved:   3,
			entities.CaseStatusDenied:     1,
		},
		reasons: []entities.DenialReasonCount{{Reason: "Invalid diagnosis code: ZZZ.99", Count: 1}},
	}
	service := NewCaseQueryService(repo, nil, nil)

	stats, err := service.GetStatistics(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 6, stats.TotalCases)
	assert.Equal(t, 2, stats.Pending)
	assert.InDelta(t, 75.0, stats.ApprovalRate, 0.01)
	assert.InDelta(t, 66.67, stats.CompletionRate, 0.01)
	require.Len(t, stats.TopDenialReasons, 1)
}

func TestGetStatistics_ServedFromCache(t *testing.T) {
	cached, err := json.Marshal(&entities.CaseStatistics{TotalCases: 42})
	require.NoError(t, err)

	cache := &stubCache{store: map[string][]byte{statsCacheKey: cached}}
	repo := &stubCaseRepo{}
	service := NewCaseQueryService(repo, nil, cache)

	stats, err := service.GetStatistics(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 42, stats.TotalCases)
	assert.Zero(t, repo.countCalls)
}

func TestGetStatistics_PopulatesCache(t *testing.T) {
	cache := &stubCache{}
	repo := &stubCaseRepo{counts: map[entities.CaseStatus]int{
		entities.CaseStatusApproved: 1,
	}}
	service := NewCaseQueryService(repo, nil, cache)

	_, err := service.GetStatistics(context.Background())

	require.NoError(t, err)
	assert.Contains(t, cache.store, statsCacheKey)
}
