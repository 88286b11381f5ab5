package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/catalog/internal/core/domain"
	"github.com/rl1809/catalog/internal/port"
)

var _ port.CatalogRepository = (*MemoryAdapter)(nil)

// MemoryAdapter is an embedded catalog store. Committed state lives behind
// mu; read-modify-write on a product is serialized by a per-product lock
// taken through CatalogTx.LockProduct.
type MemoryAdapter struct {
	mu           sync.RWMutex
	nextUserID   int64
	nextProdID   int64
	nextTagID    int64
	users        map[int64]domain.User
	products     map[int64]domain.Product
	tags         map[int64]domain.Tag
	productTags  map[domain.ProductTag]struct{}
	transactions map[string]domain.Transaction

	lockTimeout time.Duration
	locksMu     sync.Mutex
	locks       map[int64]chan struct{}
}

const defaultLockTimeout = 5 * time.Second

func NewMemoryAdapter(lockTimeout time.Duration) *MemoryAdapter {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &MemoryAdapter{
		nextUserID:   1,
		nextProdID:   1,
		nextTagID:    1,
		users:        make(map[int64]domain.User),
		products:     make(map[int64]domain.Product),
		tags:         make(map[int64]domain.Tag),
		productTags:  make(map[domain.ProductTag]struct{}),
		transactions: make(map[string]domain.Transaction),
		lockTimeout:  lockTimeout,
		locks:        make(map[int64]chan struct{}),
	}
}

func (m *MemoryAdapter) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
	}
	return &p, nil
}

func (m *MemoryAdapter) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	return &u, nil
}

func (m *MemoryAdapter) GetTag(ctx context.Context, id int64) (*domain.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tags[id]
	if !ok {
		return nil, fmt.Errorf("tag %d: %w", id, domain.ErrNotFound)
	}
	return &t, nil
}

func (m *MemoryAdapter) ProductsByOwner(ctx context.Context, userID int64) ([]domain.Product, error) {
	return m.filterProducts(func(p domain.Product) bool { return p.OwnerID == userID }), nil
}

func (m *MemoryAdapter) ProductsByTag(ctx context.Context, tagID int64) ([]domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Product, 0)
	for link := range m.productTags {
		if link.TagID != tagID {
			continue
		}
		if p, ok := m.products[link.ProductID]; ok {
			out = append(out, p)
		}
	}
	sortByID(out)
	return out, nil
}

func (m *MemoryAdapter) ProductsByIDs(ctx context.Context, ids []int64) ([]domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryAdapter) AllProducts(ctx context.Context) ([]domain.Product, error) {
	return m.filterProducts(func(domain.Product) bool { return true }), nil
}

func (m *MemoryAdapter) SubstringSearch(ctx context.Context, term string) ([]domain.Product, error) {
	needle := strings.ToLower(term)
	return m.filterProducts(func(p domain.Product) bool {
		return strings.Contains(strings.ToLower(p.Name), needle) ||
			strings.Contains(strings.ToLower(p.Description), needle)
	}), nil
}

func (m *MemoryAdapter) filterProducts(keep func(domain.Product) bool) []domain.Product {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Product, 0)
	for _, p := range m.products {
		if keep(p) {
			out = append(out, p)
		}
	}
	sortByID(out)
	return out
}

func (m *MemoryAdapter) CreateUser(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.ID = m.nextUserID
	m.nextUserID++
	user.CreatedAt = time.Now().UTC()
	m.users[user.ID] = *user
	return nil
}

func (m *MemoryAdapter) DeleteUser(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	for _, p := range m.products {
		if p.OwnerID == id {
			return fmt.Errorf("user %d still owns products: %w", id, domain.ErrConflict)
		}
	}
	for _, t := range m.transactions {
		if t.BuyerID == id {
			return fmt.Errorf("user %d has purchases: %w", id, domain.ErrConflict)
		}
	}
	delete(m.users, id)
	return nil
}

func (m *MemoryAdapter) CreateTag(ctx context.Context, name string) (*domain.Tag, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: tag name must not be empty", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// tag names compare case-insensitively, like the MySQL collation
	for _, t := range m.tags {
		if strings.EqualFold(t.Name, name) {
			return &t, nil
		}
	}
	t := domain.Tag{ID: m.nextTagID, Name: name}
	m.nextTagID++
	m.tags[t.ID] = t
	return &t, nil
}

func (m *MemoryAdapter) TagProduct(ctx context.Context, productID, tagID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[productID]; !ok {
		return fmt.Errorf("product %d: %w", productID, domain.ErrNotFound)
	}
	if _, ok := m.tags[tagID]; !ok {
		return fmt.Errorf("tag %d: %w", tagID, domain.ErrNotFound)
	}
	m.productTags[domain.ProductTag{ProductID: productID, TagID: tagID}] = struct{}{}
	return nil
}

// TransactionsForProduct lists committed transactions of a product, oldest first.
func (m *MemoryAdapter) TransactionsForProduct(ctx context.Context, productID int64) []domain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Transaction, 0)
	for _, t := range m.transactions {
		if t.ProductID == productID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryAdapter) WithTx(ctx context.Context, fn func(ctx context.Context, tx port.CatalogTx) error) error {
	tx := &memoryTx{
		store:   m,
		held:    make(map[int64]chan struct{}),
		staged:  make(map[int64]*domain.Product),
		deleted: make(map[int64]bool),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.commit(); err != nil {
		return err
	}
	tx.committed = true
	return nil
}

// lockProduct blocks until the product lock is free, the lock timeout
// elapses or ctx is done. Unknown ids never get a lock entry.
func (m *MemoryAdapter) lockProduct(ctx context.Context, id int64) (chan struct{}, error) {
	m.mu.RLock()
	_, exists := m.products[id]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
	}

	m.locksMu.Lock()
	lock, ok := m.locks[id]
	if !ok {
		lock = make(chan struct{}, 1)
		m.locks[id] = lock
	}
	m.locksMu.Unlock()

	select {
	case lock <- struct{}{}:
		return lock, nil
	default:
	}

	timer := time.NewTimer(m.lockTimeout)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
		return lock, nil
	case <-timer.C:
		return nil, fmt.Errorf("lock product %d: %w", id, domain.ErrBusy)
	case <-ctx.Done():
		return nil, fmt.Errorf("lock product %d: %w: %v", id, domain.ErrBusy, ctx.Err())
	}
}

type memoryTx struct {
	store   *MemoryAdapter
	held    map[int64]chan struct{}
	staged  map[int64]*domain.Product
	created []int64
	deleted map[int64]bool
	txns    []domain.Transaction

	committed bool
}

func (tx *memoryTx) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return tx.store.GetUser(ctx, id)
}

func (tx *memoryTx) LockProduct(ctx context.Context, id int64) (*domain.Product, error) {
	if tx.deleted[id] {
		return nil, fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
	}
	if p, ok := tx.staged[id]; ok {
		cp := *p
		return &cp, nil
	}
	if _, ok := tx.held[id]; !ok {
		lock, err := tx.store.lockProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		tx.held[id] = lock
	}
	p, err := tx.store.GetProduct(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		// deleted while we waited; ids are never reused
		tx.store.dropLock(id, tx.held[id])
		delete(tx.held, id)
	}
	return p, err
}

func (tx *memoryTx) CreateProduct(ctx context.Context, product *domain.Product) error {
	tx.store.mu.Lock()
	product.ID = tx.store.nextProdID
	tx.store.nextProdID++
	tx.store.mu.Unlock()

	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	product.Version = 1

	cp := *product
	tx.staged[product.ID] = &cp
	tx.created = append(tx.created, product.ID)
	return nil
}

func (tx *memoryTx) SaveProduct(ctx context.Context, product *domain.Product) error {
	if _, ok := tx.held[product.ID]; !ok {
		if _, staged := tx.staged[product.ID]; !staged {
			return fmt.Errorf("save product %d: row not locked", product.ID)
		}
	}
	if product.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", domain.ErrValidation)
	}
	product.Version++
	product.UpdatedAt = time.Now().UTC()
	cp := *product
	tx.staged[product.ID] = &cp
	return nil
}

func (tx *memoryTx) DeleteProduct(ctx context.Context, id int64) error {
	if _, ok := tx.held[id]; !ok {
		return fmt.Errorf("delete product %d: row not locked", id)
	}
	delete(tx.staged, id)
	tx.deleted[id] = true
	return nil
}

func (tx *memoryTx) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	if txn.Quantity <= 0 {
		return fmt.Errorf("%w: transaction quantity must be positive", domain.ErrValidation)
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	tx.txns = append(tx.txns, *txn)
	return nil
}

// commit checks references and applies every staged write under the store
// lock, so readers observe all of them or none.
func (tx *memoryTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range tx.created {
		p, ok := tx.staged[id]
		if !ok {
			continue
		}
		if _, ok := s.users[p.OwnerID]; !ok {
			return fmt.Errorf("owner %d: %w", p.OwnerID, domain.ErrNotFound)
		}
	}
	for _, t := range tx.txns {
		if _, ok := s.users[t.BuyerID]; !ok {
			return fmt.Errorf("buyer %d: %w", t.BuyerID, domain.ErrNotFound)
		}
		_, committed := s.products[t.ProductID]
		_, staged := tx.staged[t.ProductID]
		if (!committed && !staged) || tx.deleted[t.ProductID] {
			return fmt.Errorf("product %d: %w", t.ProductID, domain.ErrNotFound)
		}
	}

	for id, p := range tx.staged {
		s.products[id] = *p
	}
	for _, t := range tx.txns {
		s.transactions[t.ID] = t
	}
	for id := range tx.deleted {
		delete(s.products, id)
		for link := range s.productTags {
			if link.ProductID == id {
				delete(s.productTags, link)
			}
		}
		for key, t := range s.transactions {
			if t.ProductID == id {
				delete(s.transactions, key)
			}
		}
	}
	return nil
}

// dropLock releases lock and forgets it if it is still the entry for id.
func (m *MemoryAdapter) dropLock(id int64, lock chan struct{}) {
	m.locksMu.Lock()
	if m.locks[id] == lock {
		delete(m.locks, id)
	}
	m.locksMu.Unlock()
	<-lock
}

func (tx *memoryTx) release() {
	for id, lock := range tx.held {
		if tx.committed && tx.deleted[id] {
			tx.store.locksMu.Lock()
			delete(tx.store.locks, id)
			tx.store.locksMu.Unlock()
		}
		<-lock
	}
	tx.held = nil
}

func sortByID(products []domain.Product) {
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
}
