package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
	"github.com/vladislavdragonenkov/shopsync/internal/retry"
)

// TransitionFunc обрабатывает событие перехода заказа.
type TransitionFunc func(ctx context.Context, event domain.StateTransitionEvent) error

// NewTransitionHandler возвращает MessageHandler, который декодирует envelope
// и передаёт в handle только переходы, подходящие под filter.
// Сообщения, которые нельзя разобрать, помечаются Permanent и сразу уходят в DLQ.
func NewTransitionHandler(filter domain.TransitionFilter, handle TransitionFunc, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "kafka-transition-handler")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		// старые сообщения без заголовка разбираются целиком
		if eventType, ok := headerValue(message, HeaderEventType); ok && eventType != domain.EventTypeOrderStateTransition {
			logger.WithField("event_type", eventType).Debug("skipping non-transition event by header")
			return nil
		}

		envelope, err := ParseEnvelope(message)
		if err != nil {
			return retry.Permanent(err)
		}
		if envelope.EventType != domain.EventTypeOrderStateTransition {
			logger.WithFields(log.Fields{
				"event_type": envelope.EventType,
				"event_id":   envelope.ID,
			}).Debug("skipping non-transition event")
			return nil
		}

		event, err := DecodeTransition(envelope)
		if err != nil {
			return retry.Permanent(err)
		}
		if !filter.Matches(event) {
			return nil
		}

		if err := handle(ctx, event); err != nil {
			return fmt.Errorf("handle transition %s -> %s for order %s: %w", event.FromState, event.ToState, event.OrderCode, err)
		}
		return nil
	}
}

func headerValue(message *sarama.ConsumerMessage, key string) (string, bool) {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value), true
		}
	}
	return "", false
}
