package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/catalog/internal/core/domain"
	"github.com/rl1809/catalog/internal/obs"
	"github.com/rl1809/catalog/internal/port"
)

const indexOpTimeout = 5 * time.Second

type IndexSyncerConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	RetryBackoff   time.Duration
	RepairInterval time.Duration // zero disables the repair loop
}

// IndexSyncer propagates committed catalog changes to the search index.
//
// Callers only hand over the id of a product that changed. A worker reloads
// the product from the catalog and upserts it, or deletes the document when
// the product is gone, so applying a change twice or late is harmless. Ids
// are sharded over workers, which keeps changes to one product in order.
// A change that cannot be applied marks the index stale; the repair loop
// then rebuilds it from the catalog.
type IndexSyncer struct {
	index port.SearchIndex
	store port.CatalogRepository
	cfg   IndexSyncerConfig

	queues []chan int64

	// applyMu lets workers run concurrently but excludes them during Rebuild
	applyMu sync.RWMutex

	intakeMu sync.RWMutex
	closed   bool
	started  bool

	stale     atomic.Bool
	enqueued  atomic.Uint64
	processed atomic.Uint64

	wg         sync.WaitGroup
	cancel     context.CancelFunc
	repairDone chan struct{}
}

func NewIndexSyncer(index port.SearchIndex, store port.CatalogRepository, cfg IndexSyncerConfig) *IndexSyncer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	perWorker := max(cfg.QueueSize/cfg.Workers, 1)
	queues := make([]chan int64, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan int64, perWorker)
	}

	return &IndexSyncer{
		index:  index,
		store:  store,
		cfg:    cfg,
		queues: queues,
	}
}

// Start launches the workers and, when configured, the repair loop.
func (s *IndexSyncer) Start(ctx context.Context) {
	s.intakeMu.Lock()
	defer s.intakeMu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for i, q := range s.queues {
		s.wg.Add(1)
		go s.worker(ctx, i, q)
	}

	s.repairDone = make(chan struct{})
	go s.repairLoop(ctx)

	obs.Logger.Info("index syncer started", "workers", len(s.queues))
}

// Enqueue schedules a re-sync of productID. It never blocks: when the queue
// is full or closed the change is dropped and the index is marked stale.
func (s *IndexSyncer) Enqueue(productID int64) bool {
	s.intakeMu.RLock()
	defer s.intakeMu.RUnlock()

	if s.closed {
		s.MarkStale("intake closed")
		return false
	}

	s.enqueued.Add(1)
	select {
	case s.queues[s.shard(productID)] <- productID:
		return true
	default:
		s.enqueued.Add(^uint64(0))
		obs.Logger.Warn("index queue full, dropping change", "product_id", productID)
		s.MarkStale("queue full")
		return false
	}
}

func (s *IndexSyncer) shard(productID int64) int {
	if productID < 0 {
		productID = -productID
	}
	return int(productID % int64(len(s.queues)))
}

func (s *IndexSyncer) worker(ctx context.Context, id int, queue <-chan int64) {
	defer s.wg.Done()
	for productID := range queue {
		s.apply(ctx, id, productID)
		s.processed.Add(1)
	}
}

func (s *IndexSyncer) apply(ctx context.Context, workerID int, productID int64) {
	s.applyMu.RLock()
	defer s.applyMu.RUnlock()

	var err error
retry:
	for attempt := 1; ; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, indexOpTimeout)
		err = s.sync(opCtx, productID)
		cancel()
		if err == nil {
			return
		}

		obs.Logger.Warn("index write failed",
			"worker", workerID, "product_id", productID, "attempt", attempt, "error", err)

		if attempt >= s.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			break retry
		case <-time.After(s.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}

	obs.Logger.Error("index write abandoned", "worker", workerID, "product_id", productID, "error", err)
	s.MarkStale("write abandoned")
}

func (s *IndexSyncer) sync(ctx context.Context, productID int64) error {
	p, err := s.store.GetProduct(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return s.index.Delete(ctx, productID)
	}
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	return s.index.Upsert(ctx, p.Document())
}

func (s *IndexSyncer) repairLoop(ctx context.Context) {
	defer close(s.repairDone)
	if s.cfg.RepairInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.cfg.RepairInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Stale() {
				continue
			}
			if err := s.Rebuild(ctx); err != nil {
				obs.Logger.Error("index repair failed", "error", err)
			}
		}
	}
}

// Rebuild replaces the index content with the current catalog and clears
// the stale flag on success.
func (s *IndexSyncer) Rebuild(ctx context.Context) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.stale.Store(false)

	products, err := s.store.AllProducts(ctx)
	if err != nil {
		s.stale.Store(true)
		return fmt.Errorf("load catalog: %w", err)
	}

	docs := make([]domain.SearchDocument, len(products))
	for i, p := range products {
		docs[i] = p.Document()
	}

	if err := s.index.Rebuild(ctx, docs); err != nil {
		s.stale.Store(true)
		return fmt.Errorf("rebuild index: %w", err)
	}

	obs.Logger.Info("index rebuilt", "documents", len(docs))
	return nil
}

func (s *IndexSyncer) MarkStale(reason string) {
	if !s.stale.Swap(true) {
		obs.Logger.Warn("search index marked stale", "reason", reason)
	}
}

func (s *IndexSyncer) Stale() bool { return s.stale.Load() }

// Metrics returns how many changes were accepted and applied so far.
func (s *IndexSyncer) Metrics() (enqueued, processed uint64) {
	return s.enqueued.Load(), s.processed.Load()
}

// Drain blocks until every accepted change has been applied or ctx is done.
func (s *IndexSyncer) Drain(ctx context.Context) bool {
	for {
		enq, proc := s.Metrics()
		if enq == proc {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Close stops intake, lets workers finish queued changes and stops the
// repair loop.
func (s *IndexSyncer) Close() {
	s.intakeMu.Lock()
	if s.closed {
		s.intakeMu.Unlock()
		return
	}
	s.closed = true
	for _, q := range s.queues {
		close(q)
	}
	started := s.started
	s.intakeMu.Unlock()

	if !started {
		return
	}
	s.wg.Wait()
	s.cancel()
	<-s.repairDone
}
