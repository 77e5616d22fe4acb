package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

// orderRepositoryInMemory: простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[string]domain.Order
	byCode map[string]string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:  make(map[string]domain.Order),
		byCode: make(map[string]string),
	}
}

// Create сохраняет новый заказ, если ID и код ещё не заняты.
func (r *orderRepositoryInMemory) Create(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	if order.Code != "" {
		if _, taken := r.byCode[order.Code]; taken {
			return domain.ErrOrderCodeConflict
		}
		r.byCode[order.Code] = order.ID
	}
	r.items[order.ID] = order.Clone()

	undoFromContext(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.items, order.ID)
		if order.Code != "" {
			delete(r.byCode, order.Code)
		}
	})
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// GetByCode возвращает заказ по публичному коду.
func (r *orderRepositoryInMemory) GetByCode(_ context.Context, code string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCode[code]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.items[id].Clone(), nil
}

// CountByCode считает заказы с кодом. Отменённые заказы тоже учитываются.
func (r *orderRepositoryInMemory) CountByCode(_ context.Context, code string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.byCode[code]; ok {
		return 1, nil
	}
	return 0, nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if order.CustomerID() != customerID {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Код заказа неизменяем.
	order.Code = current.Code
	order.Version++
	r.items[order.ID] = order.Clone()

	undoFromContext(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.items[current.ID] = current
	})
	return nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
