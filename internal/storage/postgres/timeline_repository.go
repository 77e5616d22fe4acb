package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

const (
	insertTimelineSQL = `
		INSERT INTO timeline_events (order_id, type, from_state, to_state, reason, occurred)
		VALUES ($1, $2, $3, $4, $5, $6)`

	// id как второй ключ сортировки сохраняет порядок вставки внутри одной транзакции:
	// PaymentAttached и OrderStateChanged пишутся с одинаковым occurred.
	selectTimelineSQL = `
		SELECT order_id, type, from_state, to_state, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id`
)

// TimelineRepository пишет историю заказа в timeline_events.
type TimelineRepository struct {
	store *Store
	now   func() time.Time
}

// NewTimelineRepository создаёт PostgreSQL-реализацию domain.TimelineRepository.
func NewTimelineRepository(store *Store) *TimelineRepository {
	return &TimelineRepository{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Append пишет событие. Нулевой Occurred заменяется текущим временем.
// Событие для несуществующего заказа отклоняется внешним ключом.
func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if event.Occurred.IsZero() {
		event.Occurred = r.now()
	}

	_, err := r.store.executor(ctx).ExecContext(ctx, insertTimelineSQL,
		event.OrderID,
		event.Type,
		string(event.FromState),
		string(event.ToState),
		event.Reason,
		event.Occurred,
	)
	switch {
	case err == nil:
		return nil
	case isForeignKeyViolation(err):
		return fmt.Errorf("append %s for order %s: %w", event.Type, event.OrderID, domain.ErrOrderNotFound)
	default:
		return fmt.Errorf("append timeline event: %w", err)
	}
}

func (r *TimelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.executor(ctx).QueryContext(ctx, selectTimelineSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		event, err := scanTimelineEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return events, nil
}

func scanTimelineEvent(rows *sql.Rows) (domain.TimelineEvent, error) {
	var (
		event    domain.TimelineEvent
		from, to string
	)
	if err := rows.Scan(&event.OrderID, &event.Type, &from, &to, &event.Reason, &event.Occurred); err != nil {
		return domain.TimelineEvent{}, fmt.Errorf("scan timeline event: %w", err)
	}
	event.FromState = domain.OrderState(from)
	event.ToState = domain.OrderState(to)
	event.Occurred = event.Occurred.UTC()
	return event, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
