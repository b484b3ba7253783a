package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/lib/pq"

	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/domain/repositories"
	"github.com/caretide/priorauth/internal/infrastructure/clients/postgres"
	apperrors "github.com/caretide/priorauth/pkg/errors"
)

var caseColumns = []interface{}{
	"id", "patient_name", "diagnosis", "diagnosis_codes", "procedure_codes",
	"summary", "status", "validation_result", "evidence_result", "payer_response",
	"authorization_number", "denial_reason", "timeline", "created_at", "updated_at",
}

// CaseAdapter implements the CaseRepository interface
type CaseAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewCaseAdapter creates a new case adapter
func NewCaseAdapter(client *postgres.Client) repositories.CaseRepository {
	return &CaseAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create creates a new case
func (a *CaseAdapter) Create(ctx context.Context, c *entities.Case) error {
	timeline, err := json.Marshal(c.Timeline)
	if err != nil {
		return apperrors.NewInternalError("failed to encode timeline", err)
	}

	record := goqu.Record{
		"id":                   c.ID,
		"patient_name":         c.PatientName,
		"diagnosis":            c.Diagnosis,
		"diagnosis_codes":      pq.Array(c.DiagnosisCodes),
		"procedure_codes":      pq.Array(c.ProcedureCodes),
		"summary":              c.Summary,
		"status":               string(c.Status),
		"authorization_number": sql.NullString{String: c.AuthorizationNumber, Valid: c.AuthorizationNumber != ""},
		"denial_reason":        sql.NullString{String: c.DenialReason, Valid: c.DenialReason != ""},
		"timeline":             string(timeline),
		"created_at":           c.CreatedAt,
		"updated_at":           c.UpdatedAt,
	}

	for column, value := range map[string]interface{}{
		"validation_result": c.ValidationResult,
		"evidence_result":   c.EvidenceResult,
		"payer_response":    c.PayerResponse,
	} {
		encoded, err := encodeStageResult(value)
		if err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("failed to encode %s", column), err)
		}
		record[column] = encoded
	}

	query, args, err := a.db.Insert("pa_cases").Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	_, err = a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to create case", err)
	}

	return nil
}

// GetByID retrieves a case by ID
func (a *CaseAdapter) GetByID(ctx context.Context, id string) (*entities.Case, error) {
	return a.getByExpr(ctx, goqu.Ex{"id": id}, fmt.Sprintf("case with id %s not found", id))
}

// GetByAuthorizationNumber retrieves a case by its authorization number
func (a *CaseAdapter) GetByAuthorizationNumber(ctx context.Context, authNumber string) (*entities.Case, error) {
	return a.getByExpr(ctx, goqu.Ex{"authorization_number": authNumber},
		fmt.Sprintf("case with authorization number %s not found", authNumber))
}

func (a *CaseAdapter) getByExpr(ctx context.Context, expr goqu.Ex, notFoundMsg string) (*entities.Case, error) {
	query, args, err := a.db.Select(caseColumns...).From("pa_cases").Where(expr).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	row := a.client.DB().QueryRowContext(ctx, query, args...)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(notFoundMsg)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get case", err)
	}

	return c, nil
}

// UpdateFields applies a partial update. With a non-nil expectedStatus the
// update only lands when the stored status still matches; a zero row count is
// disambiguated into conflict versus missing by re-reading the row.
func (a *CaseAdapter) UpdateFields(ctx context.Context, id string, update repositories.CaseUpdate, expectedStatus *entities.CaseStatus) error {
	record := goqu.Record{
		"updated_at": time.Now(),
	}

	if update.Status != nil {
		if !update.Status.Valid() {
			return apperrors.NewValidationError(fmt.Sprintf("unknown case status %q", *update.Status))
		}
		record["status"] = string(*update.Status)
	}
	if update.AuthorizationNumber != nil {
		record["authorization_number"] = *update.AuthorizationNumber
	}
	if update.DenialReason != nil {
		record["denial_reason"] = *update.DenialReason
	}

	for column, value := range map[string]interface{}{
		"validation_result": update.ValidationResult,
		"evidence_result":   update.EvidenceResult,
		"payer_response":    update.PayerResponse,
	} {
		if isNilResult(value) {
			continue
		}
		encoded, err := encodeStageResult(value)
		if err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("failed to encode %s", column), err)
		}
		record[column] = encoded
	}

	where := goqu.Ex{"id": id}
	if expectedStatus != nil {
		where["status"] = string(*expectedStatus)
	}

	query, args, err := a.db.Update("pa_cases").Set(record).Where(where).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update case", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}

	if rowsAffected == 0 {
		if expectedStatus == nil {
			return apperrors.NewNotFoundError(fmt.Sprintf("case with id %s not found", id))
		}
		current, err := a.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return apperrors.NewConflictError(fmt.Sprintf(
			"case %s status is %s, expected %s", id, current.Status, *expectedStatus))
	}

	return nil
}

// AppendTimeline appends one entry to the case's audit trail without
// rewriting existing entries.
func (a *CaseAdapter) AppendTimeline(ctx context.Context, id string, event entities.TimelineEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	entry, err := json.Marshal([]entities.TimelineEvent{event})
	if err != nil {
		return apperrors.NewInternalError("failed to encode timeline event", err)
	}

	query, args, err := a.db.Update("pa_cases").
		Set(goqu.Record{
			"timeline":   goqu.L("timeline || ?::jsonb", string(entry)),
			"updated_at": time.Now(),
		}).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build timeline query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to append timeline event", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}

	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("case with id %s not found", id))
	}

	return nil
}

// List retrieves cases matching the filter, newest first
func (a *CaseAdapter) List(ctx context.Context, filter repositories.CaseFilter) ([]*entities.Case, error) {
	ds := a.db.Select(caseColumns...).From("pa_cases")

	if filter.Status != "" {
		ds = ds.Where(goqu.Ex{"status": string(filter.Status)})
	}
	if filter.PatientName != "" {
		ds = ds.Where(goqu.L("patient_name ILIKE ?", "%"+filter.PatientName+"%"))
	}
	if filter.Diagnosis != "" {
		ds = ds.Where(goqu.L("diagnosis ILIKE ?", "%"+filter.Diagnosis+"%"))
	}

	ds = ds.Order(goqu.I("created_at").Desc())

	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list cases", err)
	}
	defer rows.Close()

	cases := []*entities.Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan case", err)
		}
		cases = append(cases, c)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("error iterating cases", err)
	}

	return cases, nil
}

// CountByStatus returns the number of cases per status
func (a *CaseAdapter) CountByStatus(ctx context.Context) (map[entities.CaseStatus]int, error) {
	query, args, err := a.db.Select("status", goqu.COUNT("*").As("count")).
		From("pa_cases").
		GroupBy("status").
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build count query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to count cases", err)
	}
	defer rows.Close()

	counts := map[entities.CaseStatus]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperrors.NewInternalError("failed to scan status count", err)
		}
		counts[entities.CaseStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("error iterating status counts", err)
	}

	return counts, nil
}

// TopDenialReasons returns the most frequent denial reasons for denied cases
func (a *CaseAdapter) TopDenialReasons(ctx context.Context, limit int) ([]entities.DenialReasonCount, error) {
	if limit <= 0 {
		limit = 5
	}

	query, args, err := a.db.Select("denial_reason", goqu.COUNT("*").As("count")).
		From("pa_cases").
		Where(goqu.Ex{"status": string(entities.CaseStatusDenied)}).
		Where(goqu.L("denial_reason IS NOT NULL AND denial_reason != ''")).
		GroupBy("denial_reason").
		Order(goqu.I("count").Desc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build denial reason query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to query denial reasons", err)
	}
	defer rows.Close()

	reasons := []entities.DenialReasonCount{}
	for rows.Next() {
		var reason entities.DenialReasonCount
		if err := rows.Scan(&reason.Reason, &reason.Count); err != nil {
			return nil, apperrors.NewInternalError("failed to scan denial reason", err)
		}
		reasons = append(reasons, reason)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("error iterating denial reasons", err)
	}

	return reasons, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(row rowScanner) (*entities.Case, error) {
	c := &entities.Case{}
	var authNumber, denialReason sql.NullString
	var validation, evidence, payer, timeline []byte

	err := row.Scan(
		&c.ID,
		&c.PatientName,
		&c.Diagnosis,
		pq.Array(&c.DiagnosisCodes),
		pq.Array(&c.ProcedureCodes),
		&c.Summary,
		&c.Status,
		&validation,
		&evidence,
		&payer,
		&authNumber,
		&denialReason,
		&timeline,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.AuthorizationNumber = authNumber.String
	c.DenialReason = denialReason.String

	if len(validation) > 0 {
		c.ValidationResult = &entities.ValidationResult{}
		if err := json.Unmarshal(validation, c.ValidationResult); err != nil {
			return nil, fmt.Errorf("failed to decode validation result: %w", err)
		}
	}
	if len(evidence) > 0 {
		c.EvidenceResult = &entities.EvidenceResult{}
		if err := json.Unmarshal(evidence, c.EvidenceResult); err != nil {
			return nil, fmt.Errorf("failed to decode evidence result: %w", err)
		}
	}
	if len(payer) > 0 {
		c.PayerResponse = &entities.PayerResponse{}
		if err := json.Unmarshal(payer, c.PayerResponse); err != nil {
			return nil, fmt.Errorf("failed to decode payer response: %w", err)
		}
	}

	c.Timeline = []entities.TimelineEvent{}
	if len(timeline) > 0 {
		if err := json.Unmarshal(timeline, &c.Timeline); err != nil {
			return nil, fmt.Errorf("failed to decode timeline: %w", err)
		}
	}

	return c, nil
}

func encodeStageResult(value interface{}) (interface{}, error) {
	if isNilResult(value) {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func isNilResult(value interface{}) bool {
	switch v := value.(type) {
	case *entities.ValidationResult:
		return v == nil
	case *entities.EvidenceResult:
		return v == nil
	case *entities.PayerResponse:
		return v == nil
	case nil:
		return true
	}
	return false
}
