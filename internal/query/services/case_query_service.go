package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/providers"
	"github.com/caretide/priorauth/internal/domain/repositories"
	"github.com/caretide/priorauth/internal/infrastructure/observability"
)

const (
	defaultQueryLimit = 20
	maxQueryLimit     = 50

	statsCacheKey = "query:stats:cases"
	statsCacheTTL = 30 // seconds
)

// CaseQueryService handles the read-only case operations behind the API and
// the assistant tools. Search goes through the search index with a database
// fallback; statistics are cached briefly.
type CaseQueryService struct {
	cases  repositories.CaseRepository
	search repositories.CaseSearchRepository
	cache  providers.CacheProvider
}

// NewCaseQueryService creates a new case query service. Search index and
// cache are optional.
func NewCaseQueryService(
	cases repositories.CaseRepository,
	search repositories.CaseSearchRepository,
	cache providers.CacheProvider,
) *CaseQueryService {
	return &CaseQueryService{
		cases:  cases,
		search: search,
		cache:  cache,
	}
}

// QueryCases searches cases by free text with an optional display-status
// filter. The pending filter matches every non-terminal case.
func (s *CaseQueryService) QueryCases(ctx context.Context, query, status string, limit int) ([]*entities.Case, error) {
	logger := observability.LoggerFromContext(ctx)

	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	status = strings.ToLower(strings.TrimSpace(status))
	pending := status == entities.DisplayStatusPending

	if s.search != nil && query != "" {
		params := repositories.CaseSearchParams{Query: query, Limit: limit}
		if !pending && status != "" {
			params.Status = entities.CaseStatus(status)
		}
		results, err := s.search.Search(ctx, params)
		if err == nil {
			return filterPending(results, pending), nil
		}
		logger.Warn().Err(err).Msg("case search index unavailable, falling back to database")
	}

	filter := repositories.CaseFilter{
		PatientName: query,
		Limit:       limit,
	}
	if !pending && status != "" {
		filter.Status = entities.CaseStatus(status)
	}

	results, err := s.cases.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return filterPending(results, pending), nil
}

// filterPending keeps only non-terminal cases when the pending display
// status was requested.
func filterPending(cases []*entities.Case, pending bool) []*entities.Case {
	if !pending {
		return cases
	}
	out := make([]*entities.Case, 0, len(cases))
	for _, c := range cases {
		if !c.IsTerminal() {
			out = append(out, c)
		}
	}
	return out
}

// GetCaseDetails resolves a case by its identifier or AUTH-* authorization
// number.
func (s *CaseQueryService) GetCaseDetails(ctx context.Context, identifier string) (*entities.Case, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.HasPrefix(strings.ToUpper(identifier), "AUTH-") {
		return s.cases.GetByAuthorizationNumber(ctx, strings.ToUpper(identifier))
	}
	return s.cases.GetByID(ctx, identifier)
}

// GetStatistics aggregates case metrics. Results are cached briefly since
// the assistant may ask repeatedly within one conversation.
func (s *CaseQueryService) GetStatistics(ctx context.Context) (*entities.CaseStatistics, error) {
	logger := observability.LoggerFromContext(ctx)

	if s.cache != nil {
		if data, err := s.cache.Get(ctx, statsCacheKey); err == nil && data != nil {
			var stats entities.CaseStatistics
			if err := json.Unmarshal(data, &stats); err == nil {
				return &stats, nil
			}
		}
	}

	counts, err := s.cases.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	reasons, err := s.cases.TopDenialReasons(ctx, 5)
	if err != nil {
		return nil, err
	}

	stats := &entities.CaseStatistics{
		Approved:         counts[entities.CaseStatusApproved],
		Denied:           counts[entities.CaseStatusDenied],
		Pending:          counts[entities.CaseStatusExtracted] + counts[entities.CaseStatusProcessing],
		TopDenialReasons: reasons,
	}
	stats.TotalCases = stats.Approved + stats.Denied + stats.Pending

	decided := stats.Approved + stats.Denied
	if decided > 0 {
		stats.ApprovalRate = float64(stats.Approved) / float64(decided) * 100
	}
	if stats.TotalCases > 0 {
		stats.CompletionRate = float64(decided) / float64(stats.TotalCases) * 100
	}

	if s.cache != nil {
		if data, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, statsCacheKey, data, statsCacheTTL); err != nil {
				logger.Warn().Err(err).Msg("failed to cache case statistics")
			}
		}
	}

	return stats, nil
}
