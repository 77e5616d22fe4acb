package domain

import (
	"context"
	"time"
)

// OutboxPublisher доставляет сообщение outbox подписчикам. Одно сообщение
// может прийти повторно, поэтому получатели обязаны быть идемпотентными.
type OutboxPublisher interface {
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository: transactional outbox. Enqueue вызывается в той же
// транзакции, что и изменение заказа; остальное использует outbox worker.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxCleaner удаляет уже обработанные сообщения outbox.
type OutboxCleaner interface {
	DeleteProcessed(ctx context.Context, before time.Time, limit int) (int, error)
}

// TimelineRepository: журнал событий заказа, List отдаёт их по времени.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит результаты запросов с Idempotency-Key.
// CreateProcessing на занятый живой ключ возвращает запись вместе с
// ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release снимает резерв ключа в статусе processing, не сохраняя ответ.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// SyncLedger отмечает заказы, уже выгруженные во внешнюю систему.
type SyncLedger interface {
	// Acquire возвращает true, если ключ захвачен впервые (или после Release/истечения ttl).
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release снимает отметку, чтобы повторная доставка события могла выгрузить заказ снова.
	Release(ctx context.Context, key string) error
}

// Типы агрегатов и событий outbox.
const (
	AggregateOrder                = "order"
	EventTypeOrderStateTransition = "OrderStateTransition"
)

// OutboxMessage: событие, ожидающее доставки. Payload хранится как JSON.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats: размер backlog; OldestPendingAt нулевой, если backlog пуст.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
