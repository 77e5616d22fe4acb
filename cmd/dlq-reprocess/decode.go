package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/shopsync/internal/messaging/kafka"
)

// errSkip: запись распознана, но переигрывать её не нужно.
var errSkip = errors.New("skip")

type replayMessage struct {
	topic      string
	key        string
	value      []byte
	retryCount int
	stage      string
}

// outboxDLQPayload: тело, которое outbox worker кладёт в DLQ после исчерпания попыток.
type outboxDLQPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// decodeReplay распознаёт два формата DLQ: DLQRecord от consumer и crm-sync
// и envelope outbox worker. Возвращает errSkip для записей, которые не подходят под cfg.
func decodeReplay(msg *sarama.ConsumerMessage, cfg config) (replayMessage, error) {
	if record, err := kafka.ParseDLQRecord(msg); err == nil && record.OriginalValue != "" {
		return fromDLQRecord(record, cfg)
	}

	envelope, err := kafka.ParseEnvelope(msg)
	if err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, errSkip
	}
	return fromOutboxEnvelope(envelope, cfg)
}

func fromDLQRecord(record *kafka.DLQRecord, cfg config) (replayMessage, error) {
	stage := record.Stage
	if stage == "" {
		stage = kafka.StageConsumer
	}
	if cfg.stage != "" && cfg.stage != stage {
		return replayMessage{}, errSkip
	}
	if record.RetryCount >= cfg.maxRetries {
		return replayMessage{}, errSkip
	}

	topic := strings.TrimSpace(record.OriginalTopic)
	if topic == "" {
		topic = cfg.targetTopic
	}
	return replayMessage{
		topic:      topic,
		key:        record.OriginalKey,
		value:      []byte(record.OriginalValue),
		retryCount: record.RetryCount + 1,
		stage:      stage,
	}, nil
}

func fromOutboxEnvelope(envelope *kafka.Envelope, cfg config) (replayMessage, error) {
	// Outbox DLQ не относится ни к одной стадии consumer.
	if cfg.stage != "" {
		return replayMessage{}, errSkip
	}

	var payload outboxDLQPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(payload.Payload) == 0 {
		return replayMessage{}, fmt.Errorf("outbox dlq payload does not contain original event payload")
	}

	replay := kafka.Envelope{
		ID:            firstNonEmpty(payload.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(payload.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(payload.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(payload.EventType, envelope.EventType),
		Payload:       payload.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	return replayMessage{
		topic:      cfg.targetTopic,
		key:        firstNonEmpty(replay.AggregateID, replay.ID),
		value:      encoded,
		retryCount: 1,
		stage:      "outbox",
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
