package port

import (
	"context"

	"github.com/rl1809/catalog/internal/core/domain"
)

type CatalogRepository interface {
	// GetProduct returns domain.ErrNotFound when the product does not exist
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)

	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetTag(ctx context.Context, id int64) (*domain.Tag, error)

	ProductsByOwner(ctx context.Context, userID int64) ([]domain.Product, error)
	ProductsByTag(ctx context.Context, tagID int64) ([]domain.Product, error)

	// ProductsByIDs hydrates ids in the given order, skipping ids that no longer exist
	ProductsByIDs(ctx context.Context, ids []int64) ([]domain.Product, error)

	AllProducts(ctx context.Context) ([]domain.Product, error)

	// SubstringSearch matches term case-insensitively against name or description
	SubstringSearch(ctx context.Context, term string) ([]domain.Product, error)

	CreateUser(ctx context.Context, user *domain.User) error

	// DeleteUser returns domain.ErrConflict while the user owns products or has purchases
	DeleteUser(ctx context.Context, id int64) error

	// CreateTag returns the existing tag when the name is already taken
	CreateTag(ctx context.Context, name string) (*domain.Tag, error)

	// TagProduct links a product to a tag; linking twice is a no-op
	TagProduct(ctx context.Context, productID, tagID int64) error

	// WithTx runs fn as one atomic unit, committing only when fn returns nil
	WithTx(ctx context.Context, fn func(ctx context.Context, tx CatalogTx) error) error
}

// CatalogTx is the set of writes available inside an atomic unit.
type CatalogTx interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)

	// LockProduct reads a product and holds its row until the unit ends.
	// It returns domain.ErrBusy when the lock cannot be taken in time.
	LockProduct(ctx context.Context, id int64) (*domain.Product, error)

	CreateProduct(ctx context.Context, product *domain.Product) error
	SaveProduct(ctx context.Context, product *domain.Product) error
	DeleteProduct(ctx context.Context, id int64) error
	CreateTransaction(ctx context.Context, txn *domain.Transaction) error
}
