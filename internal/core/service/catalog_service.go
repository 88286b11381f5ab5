package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rl1809/catalog/internal/core/domain"
	"github.com/rl1809/catalog/internal/obs"
	"github.com/rl1809/catalog/internal/port"
)

// CatalogService is the entry point for every external caller. Mutations go
// through InventoryService; once they commit, the changed product is handed
// to the IndexSyncer. The search index is never on the commit path.
type CatalogService struct {
	store     port.CatalogRepository
	inventory *InventoryService
	index     port.SearchIndex
	syncer    *IndexSyncer
}

// NewCatalogService wires the facade. index and syncer may be nil, in which
// case search falls back to a catalog scan.
func NewCatalogService(store port.CatalogRepository, inventory *InventoryService, index port.SearchIndex, syncer *IndexSyncer) *CatalogService {
	return &CatalogService{
		store:     store,
		inventory: inventory,
		index:     index,
		syncer:    syncer,
	}
}

// Search returns products matching term, best match first. An unavailable
// index degrades to a substring scan of the catalog instead of failing.
func (s *CatalogService) Search(ctx context.Context, term string) ([]domain.Product, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []domain.Product{}, nil
	}

	if s.index == nil {
		return s.store.SubstringSearch(ctx, term)
	}

	ids, err := s.index.Query(ctx, term)
	if err != nil {
		obs.Logger.Warn("search index query failed, scanning catalog", "term", term, "error", err)
		return s.store.SubstringSearch(ctx, term)
	}
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	products, err := s.store.ProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate search results: %w", err)
	}
	if len(products) < len(ids) {
		// the index still references products removed from the catalog
		s.markStale("search hit missing product")
	}
	return products, nil
}

func (s *CatalogService) ListUserProducts(ctx context.Context, userID int64) ([]domain.Product, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ProductsByOwner(ctx, userID)
}

func (s *CatalogService) ListProductsPerTag(ctx context.Context, tagID int64) ([]domain.Product, error) {
	if _, err := s.store.GetTag(ctx, tagID); err != nil {
		return nil, err
	}
	return s.store.ProductsByTag(ctx, tagID)
}

func (s *CatalogService) AddProduct(ctx context.Context, ownerID int64, in domain.ProductInput) (*domain.Product, error) {
	p, err := s.inventory.AddProduct(ctx, ownerID, in)
	if err != nil {
		return nil, err
	}
	s.productChanged(ctx, p.ID)
	return p, nil
}

func (s *CatalogService) UpdateStock(ctx context.Context, productID int64, newQuantity int) error {
	if err := s.inventory.UpdateStock(ctx, productID, newQuantity); err != nil {
		return err
	}
	s.productChanged(ctx, productID)
	return nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, productID int64, patch domain.ProductPatch) (*domain.Product, error) {
	p, err := s.inventory.UpdateProduct(ctx, productID, patch)
	if err != nil {
		return nil, err
	}
	s.productChanged(ctx, productID)
	return p, nil
}

func (s *CatalogService) Purchase(ctx context.Context, productID, buyerID int64, quantity int) (*domain.Transaction, error) {
	txn, err := s.inventory.Purchase(ctx, productID, buyerID, quantity)
	if err != nil {
		return nil, err
	}
	// stock is not indexed, but re-syncing keeps the index converged if an
	// earlier write for this product was lost
	s.productChanged(ctx, productID)
	return txn, nil
}

func (s *CatalogService) RemoveProduct(ctx context.Context, productID int64) error {
	if err := s.inventory.RemoveProduct(ctx, productID); err != nil {
		return err
	}
	s.productChanged(ctx, productID)
	return nil
}

func (s *CatalogService) RegisterUser(ctx context.Context, user *domain.User) error {
	if strings.TrimSpace(user.Name) == "" {
		return fmt.Errorf("%w: user name must not be empty", domain.ErrValidation)
	}
	return s.store.CreateUser(ctx, user)
}

func (s *CatalogService) RemoveUser(ctx context.Context, userID int64) error {
	return s.store.DeleteUser(ctx, userID)
}

// TagProduct links the product to the tag called tagName, creating the tag
// on first use.
func (s *CatalogService) TagProduct(ctx context.Context, productID int64, tagName string) (*domain.Tag, error) {
	tagName = strings.TrimSpace(tagName)
	if tagName == "" {
		return nil, fmt.Errorf("%w: tag name must not be empty", domain.ErrValidation)
	}

	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	tag, err := s.store.CreateTag(ctx, tagName)
	if err != nil {
		return nil, err
	}
	if err := s.store.TagProduct(ctx, productID, tag.ID); err != nil {
		return nil, err
	}
	return tag, nil
}

// RebuildIndex repopulates the search index from the catalog.
func (s *CatalogService) RebuildIndex(ctx context.Context) error {
	if s.syncer != nil {
		return s.syncer.Rebuild(ctx)
	}
	if s.index == nil {
		return fmt.Errorf("%w: no search index configured", domain.ErrIndexUnavailable)
	}

	products, err := s.store.AllProducts(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	docs := make([]domain.SearchDocument, len(products))
	for i, p := range products {
		docs[i] = p.Document()
	}
	return s.index.Rebuild(ctx, docs)
}

// IndexStale reports whether the index is known to lag behind the catalog.
func (s *CatalogService) IndexStale() bool {
	return s.syncer != nil && s.syncer.Stale()
}

func (s *CatalogService) productChanged(ctx context.Context, productID int64) {
	if s.syncer != nil {
		s.syncer.Enqueue(productID)
		return
	}
	if s.index == nil {
		return
	}

	// no syncer: write through, best effort
	var err error
	p, getErr := s.store.GetProduct(ctx, productID)
	switch {
	case errors.Is(getErr, domain.ErrNotFound):
		err = s.index.Delete(ctx, productID)
	case getErr != nil:
		err = getErr
	default:
		err = s.index.Upsert(ctx, p.Document())
	}
	if err != nil {
		obs.Logger.Warn("search index write failed", "product_id", productID, "error", err)
	}
}

func (s *CatalogService) markStale(reason string) {
	if s.syncer != nil {
		s.syncer.MarkStale(reason)
		return
	}
	obs.Logger.Warn("search index out of date", "reason", reason)
}
