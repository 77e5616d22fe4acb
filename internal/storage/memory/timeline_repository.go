package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

// TimelineRepository хранит историю заказов в памяти, упорядоченной по Occurred.
type TimelineRepository struct {
	mu     sync.RWMutex
	events map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию domain.TimelineRepository.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{events: make(map[string][]domain.TimelineEvent)}
}

// Append вставляет событие после всех событий с тем же или более ранним Occurred.
func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.events[event.OrderID]
	at := sort.Search(len(history), func(i int) bool {
		return history[i].Occurred.After(event.Occurred)
	})
	r.events[event.OrderID] = slices.Insert(history, at, event)

	undoFromContext(ctx, func() { r.remove(event) })
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r *TimelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.events[orderID]), nil
}

func (r *TimelineRepository) remove(event domain.TimelineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.events[event.OrderID]
	if i := slices.Index(history, event); i >= 0 {
		history = slices.Delete(history, i, i+1)
	}
	if len(history) == 0 {
		delete(r.events, event.OrderID)
		return
	}
	r.events[event.OrderID] = history
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
