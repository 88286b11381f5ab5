package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/catalog/internal/core/domain"
	"github.com/rl1809/catalog/internal/port"
)

// InventoryService applies every stock-changing operation as one atomic
// unit against the catalog store. It never touches the search index.
type InventoryService struct {
	store port.CatalogRepository
}

func NewInventoryService(store port.CatalogRepository) *InventoryService {
	return &InventoryService{store: store}
}

func (s *InventoryService) AddProduct(ctx context.Context, ownerID int64, in domain.ProductInput) (*domain.Product, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var created *domain.Product
	err := s.store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		if _, err := tx.GetUser(ctx, ownerID); err != nil {
			return fmt.Errorf("owner: %w", err)
		}

		p := &domain.Product{
			Name:        in.Name,
			Description: in.Description,
			Price:       in.Price,
			Quantity:    in.Quantity,
			OwnerID:     ownerID,
		}
		if err := tx.CreateProduct(ctx, p); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *InventoryService) UpdateStock(ctx context.Context, productID int64, newQuantity int) error {
	if err := domain.ValidateQuantity(newQuantity); err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		p, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		p.Quantity = newQuantity
		return tx.SaveProduct(ctx, p)
	})
}

func (s *InventoryService) UpdateProduct(ctx context.Context, productID int64, patch domain.ProductPatch) (*domain.Product, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var updated *domain.Product
	err := s.store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		p, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		patch.Apply(p)
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Purchase decrements stock and records the matching transaction in the
// same atomic unit. The stock check runs on the locked row, so concurrent
// buyers of one product see each other's decrements.
func (s *InventoryService) Purchase(ctx context.Context, productID, buyerID int64, quantity int) (*domain.Transaction, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: purchase quantity must be positive", domain.ErrValidation)
	}
	if quantity > domain.MaxQuantity {
		return nil, fmt.Errorf("%w: purchase quantity must not exceed %d", domain.ErrValidation, domain.MaxQuantity)
	}

	var txn *domain.Transaction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		p, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		if _, err := tx.GetUser(ctx, buyerID); err != nil {
			return fmt.Errorf("buyer: %w", err)
		}

		if p.Quantity < quantity {
			return fmt.Errorf("product %d has %d in stock, %d requested: %w",
				productID, p.Quantity, quantity, domain.ErrInsufficientStock)
		}

		p.Quantity -= quantity
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}

		t := &domain.Transaction{
			ID:        uuid.NewString(),
			BuyerID:   buyerID,
			ProductID: productID,
			Quantity:  quantity,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.CreateTransaction(ctx, t); err != nil {
			return err
		}
		txn = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *InventoryService) RemoveProduct(ctx context.Context, productID int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		if _, err := tx.LockProduct(ctx, productID); err != nil {
			return err
		}
		return tx.DeleteProduct(ctx, productID)
	})
}
