package database

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/caretide/priorauth/internal/domain/repositories"
	"github.com/caretide/priorauth/internal/infrastructure/clients/postgres"
	apperrors "github.com/caretide/priorauth/pkg/errors"
)

// DocumentAdapter implements the DocumentRepository interface
type DocumentAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewDocumentAdapter creates a new document adapter
func NewDocumentAdapter(client *postgres.Client) repositories.DocumentRepository {
	return &DocumentAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// HasDocument reports whether a document of the given type exists for a case
func (a *DocumentAdapter) HasDocument(ctx context.Context, caseID, docType string) (bool, error) {
	query, args, err := a.db.Select(goqu.COUNT("*")).
		From("case_documents").
		Where(goqu.Ex{"case_id": caseID, "doc_type": docType}).
		ToSQL()
	if err != nil {
		return false, apperrors.NewInternalError("failed to build document query", err)
	}

	var count int
	if err := a.client.DB().QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, apperrors.NewInternalError("failed to check document", err)
	}

	return count > 0, nil
}

// Add records a document for a case. Re-adding the same document type is a
// no-op rather than an error.
func (a *DocumentAdapter) Add(ctx context.Context, caseID, docType string) error {
	query, args, err := a.db.Insert("case_documents").
		Rows(goqu.Record{
			"case_id":    caseID,
			"doc_type":   docType,
			"created_at": time.Now(),
		}).
		OnConflict(goqu.DoNothing()).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build document insert", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to add document", err)
	}

	return nil
}

// ListByCase returns the document types present for a case
func (a *DocumentAdapter) ListByCase(ctx context.Context, caseID string) ([]string, error) {
	query, args, err := a.db.Select("doc_type").
		From("case_documents").
		Where(goqu.Ex{"case_id": caseID}).
		Order(goqu.I("doc_type").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build document list query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list documents", err)
	}
	defer rows.Close()

	docs := []string{}
	for rows.Next() {
		var docType string
		if err := rows.Scan(&docType); err != nil {
			return nil, apperrors.NewInternalError("failed to scan document type", err)
		}
		docs = append(docs, docType)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("error iterating documents", err)
	}

	return docs, nil
}
