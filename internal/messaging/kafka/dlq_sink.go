package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

// DLQSink складывает в Dead Letter Queue события, которые не удалось выгрузить во внешнюю систему.
type DLQSink struct {
	producer *Producer
	topic    string
}

// NewDLQSink создаёт sink поверх producer.
func NewDLQSink(producer *Producer, topic string) *DLQSink {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	return &DLQSink{producer: producer, topic: topic}
}

// Report публикует DLQRecord с исходным envelope события.
func (s *DLQSink) Report(_ context.Context, event domain.StateTransitionEvent, cause error) error {
	if s == nil || s.producer == nil {
		return fmt.Errorf("dlq sink is not initialized")
	}

	envelope, err := NewTransitionEnvelope(event)
	if err != nil {
		return err
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	message := ""
	if cause != nil {
		message = cause.Error()
	}

	record := DLQRecord{
		OriginalTopic:     TopicOrderEvents,
		OriginalPartition: -1,
		OriginalOffset:    -1,
		OriginalKey:       event.OrderID,
		OriginalValue:     string(value),
		ErrorMessage:      message,
		FailedAt:          time.Now().UTC().Format(time.RFC3339),
		Stage:             StageCRMSync,
	}

	return s.producer.PublishEvent(s.topic, event.OrderID, record)
}
