package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/catalog/internal/core/domain"
	"github.com/rl1809/catalog/internal/port"
)

func seedMemory(t *testing.T, stock int) (*MemoryAdapter, *domain.User, *domain.Product) {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryAdapter(time.Second)

	owner := &domain.User{Name: "Alice", Address: "123 Main St", BillingInfo: "Visa 1234"}
	if err := store.CreateUser(ctx, owner); err != nil {
		t.Fatalf("create user: %v", err)
	}

	var product domain.Product
	err := store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		product = domain.Product{
			Name:        "Sweater",
			Description: "Warm and cozy",
			Price:       decimal.RequireFromString("29.99"),
			Quantity:    stock,
			OwnerID:     owner.ID,
		}
		return tx.CreateProduct(ctx, &product)
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return store, owner, &product
}

func TestMemoryWithTx_CommitsAllWrites(t *testing.T) {
	store, owner, product := seedMemory(t, 10)
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		p, err := tx.LockProduct(ctx, product.ID)
		if err != nil {
			return err
		}
		p.Quantity -= 3
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
		return tx.CreateTransaction(ctx, &domain.Transaction{
			ID: uuid.NewString(), BuyerID: owner.ID, ProductID: p.ID, Quantity: 3,
		})
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	got, _ := store.GetProduct(ctx, product.ID)
	if got.Quantity != 7 {
		t.Errorf("expected quantity 7, got %d", got.Quantity)
	}
	if got.Version != product.Version+1 {
		t.Errorf("expected version %d, got %d", product.Version+1, got.Version)
	}
	if n := len(store.TransactionsForProduct(ctx, product.ID)); n != 1 {
		t.Errorf("expected 1 transaction, got %d", n)
	}
}

func TestMemoryWithTx_RollbackOnError(t *testing.T) {
	store, owner, product := seedMemory(t, 10)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		p, err := tx.LockProduct(ctx, product.ID)
		if err != nil {
			return err
		}
		p.Quantity = 0
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, &domain.Transaction{
			ID: uuid.NewString(), BuyerID: owner.ID, ProductID: p.ID, Quantity: 10,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got: %v", err)
	}

	got, _ := store.GetProduct(ctx, product.ID)
	if got.Quantity != 10 {
		t.Errorf("expected quantity 10 after rollback, got %d", got.Quantity)
	}
	if n := len(store.TransactionsForProduct(ctx, product.ID)); n != 0 {
		t.Errorf("expected no transactions after rollback, got %d", n)
	}
}

func TestMemoryWithTx_UnknownBuyerRejectedAtCommit(t *testing.T) {
	store, _, product := seedMemory(t, 10)
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		p, err := tx.LockProduct(ctx, product.ID)
		if err != nil {
			return err
		}
		p.Quantity--
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
		return tx.CreateTransaction(ctx, &domain.Transaction{
			ID: uuid.NewString(), BuyerID: 999, ProductID: p.ID, Quantity: 1,
		})
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}

	got, _ := store.GetProduct(ctx, product.ID)
	if got.Quantity != 10 {
		t.Errorf("expected quantity 10, got %d", got.Quantity)
	}
}

func TestMemoryLockProduct_BusyAfterTimeout(t *testing.T) {
	store, _, product := seedMemory(t, 10)
	store.lockTimeout = 50 * time.Millisecond
	ctx := context.Background()

	locked := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
			if _, err := tx.LockProduct(ctx, product.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()

	<-locked
	err := store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		_, err := tx.LockProduct(ctx, product.ID)
		return err
	})
	close(release)
	wg.Wait()

	if !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy, got: %v", err)
	}

	// lock is released once the first unit ends
	err = store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		_, err := tx.LockProduct(ctx, product.ID)
		return err
	})
	if err != nil {
		t.Errorf("expected lock to be free, got: %v", err)
	}
}

func TestMemoryLockProduct_UnknownIDsLeaveNoLocks(t *testing.T) {
	store, _, product := seedMemory(t, 10)
	ctx := context.Background()

	for id := product.ID + 1; id <= product.ID+1000; id++ {
		err := store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
			_, err := tx.LockProduct(ctx, id)
			return err
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("lock %d: expected ErrNotFound, got: %v", id, err)
		}
	}

	err := store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		if _, err := tx.LockProduct(ctx, product.ID); err != nil {
			return err
		}
		return tx.DeleteProduct(ctx, product.ID)
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	err = store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		_, err := tx.LockProduct(ctx, product.ID)
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for deleted product, got: %v", err)
	}

	store.locksMu.Lock()
	n := len(store.locks)
	store.locksMu.Unlock()
	if n != 0 {
		t.Errorf("expected no lock entries, got %d", n)
	}
}

func TestMemoryLockProduct_DeletedWhileWaiting(t *testing.T) {
	store, _, product := seedMemory(t, 10)
	ctx := context.Background()

	locked := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
			if _, err := tx.LockProduct(ctx, product.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return tx.DeleteProduct(ctx, product.ID)
		})
	}()

	<-locked
	done := make(chan error, 1)
	go func() {
		done <- store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
			_, err := tx.LockProduct(ctx, product.ID)
			return err
		})
	}()
	close(release)
	wg.Wait()

	if err := <-done; !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
	store.locksMu.Lock()
	n := len(store.locks)
	store.locksMu.Unlock()
	if n != 0 {
		t.Errorf("expected no lock entries, got %d", n)
	}
}

func TestMemorySaveProduct_RejectsNegativeQuantity(t *testing.T) {
	store, _, product := seedMemory(t, 1)
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		p, err := tx.LockProduct(ctx, product.ID)
		if err != nil {
			return err
		}
		p.Quantity = -1
		return tx.SaveProduct(ctx, p)
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got: %v", err)
	}
}

func TestMemoryDeleteProduct_RemovesLinksAndTransactions(t *testing.T) {
	store, owner, product := seedMemory(t, 5)
	ctx := context.Background()

	tag, err := store.CreateTag(ctx, "Winter")
	if err != nil {
		t.Fatalf("create tag: %v", err)
	}
	if err := store.TagProduct(ctx, product.ID, tag.ID); err != nil {
		t.Fatalf("tag product: %v", err)
	}
	store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		p, _ := tx.LockProduct(ctx, product.ID)
		p.Quantity--
		tx.SaveProduct(ctx, p)
		return tx.CreateTransaction(ctx, &domain.Transaction{
			ID: uuid.NewString(), BuyerID: owner.ID, ProductID: p.ID, Quantity: 1,
		})
	})

	err = store.WithTx(ctx, func(ctx context.Context, tx port.CatalogTx) error {
		if _, err := tx.LockProduct(ctx, product.ID); err != nil {
			return err
		}
		return tx.DeleteProduct(ctx, product.ID)
	})
	if err != nil {
		t.Fatalf("delete product: %v", err)
	}

	if _, err := store.GetProduct(ctx, product.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
	tagged, _ := store.ProductsByTag(ctx, tag.ID)
	if len(tagged) != 0 {
		t.Errorf("expected no tagged products, got %d", len(tagged))
	}
	if n := len(store.TransactionsForProduct(ctx, product.ID)); n != 0 {
		t.Errorf("expected transactions to be removed, got %d", n)
	}
}

func TestMemoryDeleteUser_BlockedWhileOwning(t *testing.T) {
	store, owner, _ := seedMemory(t, 1)
	ctx := context.Background()

	if err := store.DeleteUser(ctx, owner.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got: %v", err)
	}

	idle := &domain.User{Name: "Bob"}
	store.CreateUser(ctx, idle)
	if err := store.DeleteUser(ctx, idle.ID); err != nil {
		t.Fatalf("delete idle user: %v", err)
	}
	if _, err := store.GetUser(ctx, idle.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestMemoryCreateTag_GetOrCreate(t *testing.T) {
	store := NewMemoryAdapter(time.Second)
	ctx := context.Background()

	first, _ := store.CreateTag(ctx, "Clothing")
	second, _ := store.CreateTag(ctx, "Clothing")
	if first.ID != second.ID {
		t.Errorf("expected same tag id, got %d and %d", first.ID, second.ID)
	}
	upper, _ := store.CreateTag(ctx, "CLOTHING")
	if upper.ID != first.ID || upper.Name != "Clothing" {
		t.Errorf("expected case-insensitive match on %q, got %+v", first.Name, upper)
	}
	if _, err := store.CreateTag(ctx, " "); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}
}

func TestMemoryReads(t *testing.T) {
	store, owner, product := seedMemory(t, 10)
	ctx := context.Background()

	found, _ := store.SubstringSearch(ctx, "COZY")
	if len(found) != 1 || found[0].ID != product.ID {
		t.Errorf("expected substring search to find product %d, got %+v", product.ID, found)
	}

	owned, _ := store.ProductsByOwner(ctx, owner.ID)
	if len(owned) != 1 {
		t.Errorf("expected 1 owned product, got %d", len(owned))
	}

	hydrated, _ := store.ProductsByIDs(ctx, []int64{404, product.ID})
	if len(hydrated) != 1 || hydrated[0].ID != product.ID {
		t.Errorf("expected missing ids to be skipped, got %+v", hydrated)
	}
}
