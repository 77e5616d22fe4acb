package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

type collectionRecord struct {
	collection domain.Collection
	parentID   string
}

type catalogRepositoryInMemory struct {
	mu          sync.RWMutex
	collections map[string]collectionRecord
	products    map[string][]string
}

// NewCatalogRepository создаёт in-memory реализацию CatalogRepository.
func NewCatalogRepository() domain.CatalogRepository {
	return &catalogRepositoryInMemory{
		collections: make(map[string]collectionRecord),
		products:    make(map[string][]string),
	}
}

func (r *catalogRepositoryInMemory) UpsertCollection(_ context.Context, collection domain.Collection, parentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	collection.Parent = nil
	r.collections[collection.ID] = collectionRecord{collection: collection, parentID: parentID}
	return nil
}

func (r *catalogRepositoryInMemory) LinkProduct(_ context.Context, productID string, collectionIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range collectionIDs {
		if _, ok := r.collections[id]; !ok {
			return domain.ErrCollectionNotFound
		}
	}
	r.products[productID] = append([]string(nil), collectionIDs...)
	return nil
}

func (r *catalogRepositoryInMemory) CollectionsForProduct(_ context.Context, productID string) ([]domain.Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.products[productID]
	result := make([]domain.Collection, 0, len(ids))
	for _, id := range ids {
		rec, ok := r.collections[id]
		if !ok {
			continue
		}
		c := rec.collection
		if parent, ok := r.collections[rec.parentID]; ok && !parent.collection.IsRoot {
			p := parent.collection
			c.Parent = &p
		}
		result = append(result, c)
	}
	return result, nil
}

var _ domain.CatalogRepository = (*catalogRepositoryInMemory)(nil)
