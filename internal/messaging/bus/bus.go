// Package bus: внутрипроцессная шина событий переходов заказа.
// Используется вместо Kafka, когда брокер не настроен.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

const defaultQueueSize = 256

// ErrQueueFull возвращается из Publish, если очередь подписчика переполнена.
// Outbox worker повторит публикацию позже.
var ErrQueueFull = errors.New("subscriber queue is full")

// ErrStopped возвращается при публикации в остановленную шину.
var ErrStopped = errors.New("bus is stopped")

// Handler обрабатывает событие перехода.
type Handler func(ctx context.Context, event domain.StateTransitionEvent) error

type subscription struct {
	name    string
	filter  domain.TransitionFilter
	handler Handler
	queue   chan domain.StateTransitionEvent
}

// Bus раздаёт события подписчикам. У каждой подписки своя очередь и своя горутина,
// поэтому события одного подписчика обрабатываются строго по одному.
type Bus struct {
	logger    *log.Entry
	queueSize int

	mu      sync.RWMutex
	subs    []*subscription
	started bool
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option настраивает Bus.
type Option func(*Bus)

// WithQueueSize задаёт ёмкость очереди каждой подписки.
func WithQueueSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.queueSize = size
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New создаёт шину.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger:    log.WithField("component", "transition-bus"),
		queueSize: defaultQueueSize,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe регистрирует обработчик. Подписываться нужно до Start.
func (b *Bus) Subscribe(name string, filter domain.TransitionFilter, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("subscription %q: handler is required", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("subscription %q: bus already started", name)
	}

	b.subs = append(b.subs, &subscription{
		name:    name,
		filter:  filter,
		handler: handler,
		queue:   make(chan domain.StateTransitionEvent, b.queueSize),
	})
	return nil
}

// Start запускает по горутине на каждую подписку.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true

	for _, sub := range b.subs {
		b.wg.Add(1)
		go b.run(ctx, sub)
	}

	b.logger.WithField("subscriptions", len(b.subs)).Info("Transition bus started")
}

// Stop останавливает горутины подписок и ждёт их завершения.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.stopCh)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("Transition bus stopped")
}

// Publish реализует domain.OutboxPublisher: декодирует событие перехода
// и кладёт его в очереди подходящих подписок. События других типов игнорируются.
func (b *Bus) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if msg.EventType != domain.EventTypeOrderStateTransition {
		return nil
	}

	var event domain.StateTransitionEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode state transition %s: %w", msg.ID, err)
	}

	return b.Dispatch(ctx, event)
}

// Dispatch ставит событие в очереди подписок, фильтр которых его пропускает.
// Событие попадает либо во все такие очереди, либо ни в одну: если хотя бы
// одна очередь заполнена, возвращается ErrQueueFull.
func (b *Bus) Dispatch(ctx context.Context, event domain.StateTransitionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// между проверкой ёмкости и отправкой очереди только освобождаются
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return ErrStopped
	}

	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		if len(sub.queue) == cap(sub.queue) {
			b.logger.WithFields(log.Fields{
				"subscription": sub.name,
				"order_id":     event.OrderID,
			}).Warn("Subscriber queue is full")
			return fmt.Errorf("subscription %q: %w", sub.name, ErrQueueFull)
		}
		targets = append(targets, sub)
	}

	for _, sub := range targets {
		sub.queue <- event
	}
	return nil
}

func (b *Bus) run(ctx context.Context, sub *subscription) {
	defer b.wg.Done()

	logger := b.logger.WithField("subscription", sub.name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			if pending := len(sub.queue); pending > 0 {
				logger.WithField("pending", pending).Warn("Dropping undelivered events on stop")
			}
			return
		case event := <-sub.queue:
			if err := sub.handler(ctx, event); err != nil {
				logger.WithError(err).WithFields(log.Fields{
					"order_id":   event.OrderID,
					"order_code": event.OrderCode,
					"to_state":   event.ToState,
				}).Error("Transition handler failed")
			}
		}
	}
}

var _ domain.OutboxPublisher = (*Bus)(nil)
