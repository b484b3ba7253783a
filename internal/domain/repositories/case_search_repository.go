package repositories

import (
	"context"

	"github.com/caretide/priorauth/internal/domain/entities"
)

// CaseSearchParams defines free-text search over cases
type CaseSearchParams struct {
	Query  string
	Status entities.CaseStatus
	Limit  int
	Offset int
}

// CaseSearchRepository defines the search index contract for cases. The
// index holds a flattened projection of each case; callers needing full
// detail re-read from the durable store by ID.
type CaseSearchRepository interface {
	// InitSchema ensures the search collection exists
	InitSchema(ctx context.Context) error

	// Index upserts one case into the search index
	Index(ctx context.Context, c *entities.Case) error

	// Delete removes a case from the index
	Delete(ctx context.Context, id string) error

	// Search returns cases matching the query, best match first
	Search(ctx context.Context, params CaseSearchParams) ([]*entities.Case, error)
}
