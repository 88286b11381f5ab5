package service

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/catalog/internal/adapter/storage"
	"github.com/rl1809/catalog/internal/core/domain"
)

type testEnv struct {
	redis   *redis.Client
	mysql   *sql.DB
	store   *storage.MySQLAdapter
	index   *storage.RedisIndex
	syncer  *IndexSyncer
	catalog *CatalogService
}

func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/catalog?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	mysqlDSN, err := storage.NormalizeDSN(mysqlDSN)
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	prefix := "test:catalog:" + uuid.NewString() + ":"
	store := storage.NewMySQLAdapter(db, 2*time.Second)
	index := storage.NewRedisIndex(rdb, prefix)
	syncer := NewIndexSyncer(index, store, IndexSyncerConfig{
		Workers:      3,
		QueueSize:    256,
		MaxAttempts:  3,
		RetryBackoff: 10 * time.Millisecond,
	})
	syncer.Start(context.Background())

	t.Cleanup(func() {
		syncer.Close()
		ctx := context.Background()
		keys, _ := rdb.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
		rdb.Close()
		db.Close()
	})

	return &testEnv{
		redis:   rdb,
		mysql:   db,
		store:   store,
		index:   index,
		syncer:  syncer,
		catalog: NewCatalogService(store, NewInventoryService(store), index, syncer),
	}
}

func TestIntegration_PurchaseRushAndSearch(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	initialStock := 10
	totalRequests := 20

	seller := &domain.User{Name: "integration-seller"}
	buyer := &domain.User{Name: "integration-buyer"}
	for _, u := range []*domain.User{seller, buyer} {
		if err := env.catalog.RegisterUser(ctx, u); err != nil {
			t.Fatalf("register user: %v", err)
		}
	}

	marker := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	p, err := env.catalog.AddProduct(ctx, seller.ID, domain.ProductInput{
		Name:        "Lantern " + marker,
		Description: "Storm proof and warm light",
		Price:       decimal.RequireFromString("35.00"),
		Quantity:    initialStock,
	})
	if err != nil {
		t.Fatalf("add product: %v", err)
	}

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.catalog.Purchase(ctx, p.ID, buyer.ID, 1); err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successful purchases, got %d", initialStock, successCount.Load())
	}

	stored, err := env.store.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if stored.Quantity != 0 {
		t.Errorf("expected MySQL stock 0, got %d", stored.Quantity)
	}

	var txnCount int
	env.mysql.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE product_id = ?`, p.ID).Scan(&txnCount)
	if txnCount != initialStock {
		t.Errorf("expected %d transactions in MySQL, got %d", initialStock, txnCount)
	}

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if !env.syncer.Drain(drainCtx) {
		t.Fatal("index syncer did not drain")
	}

	found, err := env.catalog.Search(ctx, marker)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].ID != p.ID {
		t.Errorf("expected product in redis search, got %+v", found)
	}

	if err := env.catalog.RemoveProduct(ctx, p.ID); err != nil {
		t.Fatalf("remove product: %v", err)
	}
	if !env.syncer.Drain(drainCtx) {
		t.Fatal("index syncer did not drain")
	}

	found, err = env.catalog.Search(ctx, marker)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected removed product to leave the index, got %+v", found)
	}
	if env.catalog.IndexStale() {
		t.Error("expected index to be in sync")
	}

	// transactions went with the product, so both users can leave
	for _, u := range []*domain.User{buyer, seller} {
		if err := env.catalog.RemoveUser(ctx, u.ID); err != nil {
			t.Errorf("remove user %d: %v", u.ID, err)
		}
	}
}

func TestIntegration_IndexOutageDoesNotBlockPurchases(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	seller := &domain.User{Name: "integration-seller"}
	if err := env.catalog.RegisterUser(ctx, seller); err != nil {
		t.Fatalf("register user: %v", err)
	}
	t.Cleanup(func() { _ = env.store.DeleteUser(context.Background(), seller.ID) })

	// an index on a closed client fails every call
	deadClient := redis.NewClient(&redis.Options{Addr: env.redis.Options().Addr})
	deadClient.Close()
	deadIndex := storage.NewRedisIndex(deadClient, "test:dead:")
	syncer := NewIndexSyncer(deadIndex, env.store, IndexSyncerConfig{Workers: 1, QueueSize: 16, MaxAttempts: 1})
	syncer.Start(ctx)
	defer syncer.Close()
	catalog := NewCatalogService(env.store, NewInventoryService(env.store), deadIndex, syncer)

	marker := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	p, err := catalog.AddProduct(ctx, seller.ID, domain.ProductInput{
		Name:        "Kettle " + marker,
		Description: "Whistling",
		Price:       decimal.RequireFromString("20"),
		Quantity:    3,
	})
	if err != nil {
		t.Fatalf("add product must not depend on the index: %v", err)
	}
	t.Cleanup(func() { _ = env.catalog.RemoveProduct(context.Background(), p.ID) })

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	syncer.Drain(drainCtx)
	if !catalog.IndexStale() {
		t.Error("expected failed index write to mark the index stale")
	}

	found, err := catalog.Search(ctx, marker)
	if err != nil {
		t.Fatalf("search must fall back to the catalog: %v", err)
	}
	if len(found) != 1 || found[0].ID != p.ID {
		t.Errorf("expected fallback search to find the product, got %+v", found)
	}
}
