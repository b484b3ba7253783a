package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/repositories"
	tsclient "github.com/caretide/priorauth/internal/infrastructure/clients/typesense"
)

// CasesCollection is the Typesense collection holding indexed cases
const CasesCollection = "pa_cases"

// TypesenseAdapter implements case search using Typesense
type TypesenseAdapter struct {
	client *tsclient.Client
}

// Ensure TypesenseAdapter implements CaseSearchRepository
var _ repositories.CaseSearchRepository = (*TypesenseAdapter)(nil)

// NewTypesenseAdapter creates a new Typesense adapter
func NewTypesenseAdapter(client *tsclient.Client) *TypesenseAdapter {
	return &TypesenseAdapter{client: client}
}

// InitSchema ensures the collection exists
func (a *TypesenseAdapter) InitSchema(ctx context.Context) error {
	_, err := a.client.Client().Collection(CasesCollection).Retrieve(ctx)
	if err == nil {
		return nil // Collection exists
	}

	schema := &api.CollectionSchema{
		Name: CasesCollection,
		Fields: []api.Field{
			{Name: "id", Type: "string"},
			{Name: "patient_name", Type: "string"},
			{Name: "diagnosis", Type: "string"},
			{Name: "diagnosis_codes", Type: "string[]"},
			{Name: "procedure_codes", Type: "string[]"},
			{Name: "summary", Type: "string"},
			{Name: "status", Type: "string", Facet: pointer.True()},
			{Name: "denial_reason", Type: "string", Optional: pointer.True()},
			{Name: "created_at", Type: "int64"},
		},
		DefaultSortingField: pointer.String("created_at"),
	}

	_, err = a.client.Client().Collections().Create(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create typesense collection: %w", err)
	}

	return nil
}

// Index upserts a case into the search index
func (a *TypesenseAdapter) Index(ctx context.Context, c *entities.Case) error {
	document := map[string]interface{}{
		"id":              c.ID,
		"patient_name":    c.PatientName,
		"diagnosis":       c.Diagnosis,
		"diagnosis_codes": c.DiagnosisCodes,
		"procedure_codes": c.ProcedureCodes,
		"summary":         c.Summary,
		"status":          string(c.Status),
		"denial_reason":   c.DenialReason,
		"created_at":      c.CreatedAt.Unix(),
	}

	_, err := a.client.Client().Collection(CasesCollection).Documents().Upsert(ctx, document)
	if err != nil {
		return fmt.Errorf("failed to index case: %w", err)
	}

	return nil
}

// Delete removes a case from the index
func (a *TypesenseAdapter) Delete(ctx context.Context, id string) error {
	_, err := a.client.Client().Collection(CasesCollection).Document(id).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete case from index: %w", err)
	}
	return nil
}

// Search returns cases matching the query, best match first
func (a *TypesenseAdapter) Search(ctx context.Context, params repositories.CaseSearchParams) ([]*entities.Case, error) {
	query := strings.TrimSpace(params.Query)
	if query == "" {
		query = "*"
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	searchParams := &api.SearchCollectionParams{
		Q:       pointer.String(query),
		QueryBy: pointer.String("patient_name,diagnosis,diagnosis_codes,procedure_codes,summary"),
		Page:    pointer.Int(params.Offset/limit + 1),
		PerPage: pointer.Int(limit),
	}
	if params.Status != "" {
		searchParams.FilterBy = pointer.String(fmt.Sprintf("status:=%s", params.Status))
	}

	result, err := a.client.Client().Collection(CasesCollection).Documents().Search(ctx, searchParams)
	if err != nil {
		return nil, fmt.Errorf("failed to search cases: %w", err)
	}

	cases := []*entities.Case{}
	if result.Hits == nil {
		return cases, nil
	}

	for _, hit := range *result.Hits {
		doc := *hit.Document

		// Typesense hands back map[string]interface{}; rebuild a partial
		// case from the indexed projection.
		c := &entities.Case{
			ID:          stringField(doc, "id"),
			PatientName: stringField(doc, "patient_name"),
			Diagnosis:   stringField(doc, "diagnosis"),
			Summary:     stringField(doc, "summary"),
			Status:      entities.CaseStatus(stringField(doc, "status")),
		}
		c.DiagnosisCodes = stringSliceField(doc, "diagnosis_codes")
		c.ProcedureCodes = stringSliceField(doc, "procedure_codes")
		c.DenialReason = stringField(doc, "denial_reason")
		if ts, ok := doc["created_at"].(float64); ok {
			c.CreatedAt = time.Unix(int64(ts), 0)
		}

		cases = append(cases, c)
	}

	return cases, nil
}

func stringField(doc map[string]interface{}, key string) string {
	if val, ok := doc[key].(string); ok {
		return val
	}
	return ""
}

func stringSliceField(doc map[string]interface{}, key string) []string {
	raw, ok := doc[key].([]interface{})
	if !ok {
		return nil
	}
	values := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			values = append(values, s)
		}
	}
	return values
}
