package storage

import (
	"context"
	"sync"

	"github.com/rl1809/catalog/internal/core/domain"
	"github.com/rl1809/catalog/internal/core/search"
	"github.com/rl1809/catalog/internal/port"
)

var _ port.SearchIndex = (*MemoryIndex)(nil)

type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[int64]domain.SearchDocument
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[int64]domain.SearchDocument)}
}

func (idx *MemoryIndex) Upsert(ctx context.Context, doc domain.SearchDocument) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.docs[doc.ID] = doc
	return nil
}

func (idx *MemoryIndex) Delete(ctx context.Context, id int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.docs, id)
	return nil
}

func (idx *MemoryIndex) Query(ctx context.Context, term string) ([]int64, error) {
	idx.mu.RLock()
	docs := make([]domain.SearchDocument, 0, len(idx.docs))
	for _, d := range idx.docs {
		docs = append(docs, d)
	}
	idx.mu.RUnlock()

	return search.Rank(term, docs), nil
}

func (idx *MemoryIndex) Rebuild(ctx context.Context, docs []domain.SearchDocument) error {
	fresh := make(map[int64]domain.SearchDocument, len(docs))
	for _, d := range docs {
		fresh[d.ID] = d
	}

	idx.mu.Lock()
	idx.docs = fresh
	idx.mu.Unlock()
	return nil
}

// Len returns the number of indexed documents.
func (idx *MemoryIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}
