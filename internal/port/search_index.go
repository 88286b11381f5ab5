package port

import (
	"context"

	"github.com/rl1809/catalog/internal/core/domain"
)

type SearchIndex interface {
	// Upsert adds or replaces the document with the same ID
	Upsert(ctx context.Context, doc domain.SearchDocument) error

	// Delete removes a document; deleting a missing document is not an error
	Delete(ctx context.Context, id int64) error

	// Query returns matching product IDs, best match first
	Query(ctx context.Context, term string) ([]int64, error)

	// Rebuild replaces the whole index content with docs
	Rebuild(ctx context.Context, docs []domain.SearchDocument) error
}
