package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "shop.order.events"
	TopicDeadLetterQueue = "shop.crm.dlq" // Dead Letter Queue для событий, которые не удалось выгрузить
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Envelope: формат сообщения outbox в топике событий заказов.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DLQRecord: сообщение в Dead Letter Queue.
type DLQRecord struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
	// Stage: где произошёл сбой: consumer (обработка сообщения) или crm-sync (выгрузка заказа).
	Stage string `json:"stage,omitempty"`
}

// Стадии, на которых сообщение может попасть в DLQ.
const (
	StageConsumer = "consumer"
	StageCRMSync  = "crm-sync"
)

// ParseEnvelope парсит Envelope из сообщения
func ParseEnvelope(message *sarama.ConsumerMessage) (*Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &envelope, nil
}

// ParseDLQRecord парсит DLQRecord из сообщения
func ParseDLQRecord(message *sarama.ConsumerMessage) (*DLQRecord, error) {
	var record DLQRecord
	if err := json.Unmarshal(message.Value, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dlq record: %w", err)
	}
	return &record, nil
}

// DecodeTransition извлекает событие перехода состояния из envelope.
func DecodeTransition(envelope *Envelope) (domain.StateTransitionEvent, error) {
	var event domain.StateTransitionEvent
	if envelope.EventType != domain.EventTypeOrderStateTransition {
		return event, fmt.Errorf("unexpected event type %q", envelope.EventType)
	}
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal state transition: %w", err)
	}
	return event, nil
}

// NewTransitionEnvelope упаковывает событие перехода в envelope.
func NewTransitionEnvelope(event domain.StateTransitionEvent) (Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal state transition: %w", err)
	}
	return Envelope{
		ID:            event.ID,
		AggregateType: domain.AggregateOrder,
		AggregateID:   event.OrderID,
		EventType:     domain.EventTypeOrderStateTransition,
		Payload:       payload,
		PublishedAt:   time.Now().UTC(),
	}, nil
}
