package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

// Заголовки, которыми outbox помечает сообщения. Consumer может отфильтровать
// событие по типу, не разбирая тело.
const (
	HeaderEventType   = "x-event-type"
	HeaderOutboxID    = "x-outbox-id"
	HeaderAggregateID = "x-aggregate-id"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher пишет сообщения outbox в один topic.
// Ключ партиционирования: id заказа, чтобы переходы одного заказа шли по порядку.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт publisher для topic (по умолчанию TopicOrderEvents).
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string { return p.topic }

func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}

	body, err := json.Marshal(p.envelope(msg))
	if err != nil {
		return fmt.Errorf("marshal outbox envelope %s: %w", msg.ID, err)
	}

	return p.producer.Send(ctx, Message{
		Topic: p.topic,
		Key:   partitionKey(msg),
		Value: body,
		Headers: map[string]string{
			HeaderEventType:   msg.EventType,
			HeaderOutboxID:    msg.ID,
			HeaderAggregateID: msg.AggregateID,
		},
	})
}

func (p *OutboxTopicPublisher) envelope(msg domain.OutboxMessage) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   p.now(),
	}
}

func partitionKey(msg domain.OutboxMessage) string {
	if msg.AggregateID != "" {
		return msg.AggregateID
	}
	return msg.ID
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
