package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsync/internal/retry"
)

const (
	defaultConsumerRetries = 3
	// DefaultRetryDelay: первая пауза между попытками обработки внутри процесса.
	DefaultRetryDelay     = 200 * time.Millisecond
	maxConsumerRetryDelay = 5 * time.Second
)

// MessageHandler обрабатывает одно сообщение. Ошибка, обёрнутая retry.Permanent,
// отправляет сообщение в DLQ без повторов.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerConfig задаёт подписку consumer group.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	ClientID string
	// MaxRetries: общий бюджет попыток с учётом заголовка x-retry-count.
	MaxRetries int
	// RetryDelay: первая пауза backoff; 0 повторяет без пауз.
	RetryDelay time.Duration
	// DLQTopic: куда уходят необработанные сообщения. Пустой топик отключает DLQ.
	DLQTopic string
}

func (c *ConsumerConfig) normalize() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultConsumerRetries
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.ClientID == "" {
		c.ClientID = defaultClientID
	}
}

func (c ConsumerConfig) saramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = c.ClientID
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	return config
}

// Consumer читает топики consumer group и передаёт сообщения в MessageHandler.
// Offset фиксируется только после успешной обработки или отправки в DLQ.
type Consumer struct {
	group   sarama.ConsumerGroup
	cfg     ConsumerConfig
	handler MessageHandler
	dlq     *Producer
	logger  *log.Entry
	wg      sync.WaitGroup
}

// NewConsumer подключается к брокерам. dlq может быть nil, тогда сообщения,
// исчерпавшие попытки, остаются непрочитанными до следующего rebalance.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, dlq *Producer) (*Consumer, error) {
	cfg.normalize()
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, cfg.saramaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, cfg, handler, dlq), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler, dlq *Producer) *Consumer {
	cfg.normalize()
	if cfg.DLQTopic == "" {
		dlq = nil
	}
	return &Consumer{
		group:   group,
		cfg:     cfg,
		handler: handler,
		dlq:     dlq,
		logger: log.WithFields(log.Fields{
			"component": "kafka-consumer",
			"group_id":  cfg.GroupID,
		}),
	}
}

// Start запускает чтение в фоне и сразу возвращается.
func (c *Consumer) Start(ctx context.Context) error {
	if c.handler == nil {
		return errors.New("kafka consumer: handler is nil")
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается на каждом rebalance, поэтому крутится в цикле
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.cfg.Topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.cfg.Topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	c.logger.WithField("claims", session.Claims()).Debug("consumer session started")
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			logger := c.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			})
			if err := c.process(ctx, message); err != nil {
				// без отметки сообщение перечитается после rebalance
				logger.WithError(err).Error("message processing failed after all retries")
				continue
			}
			session.MarkMessage(message, "")
		case <-ctx.Done():
			return nil
		}
	}
}

// process выполняет handler с оставшимся бюджетом попыток. Сообщение, которое
// не удалось обработать, уходит в DLQ; успешная отправка в DLQ считается обработкой.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	retryCount := retryCountOf(message)
	attempts := max(c.cfg.MaxRetries-retryCount, 1)

	retrier := retry.New(retry.Config{
		MaxAttempts:   attempts,
		InitialDelay:  c.cfg.RetryDelay,
		MaxDelay:      maxConsumerRetryDelay,
		BackoffFactor: 2.0,
	}, c.logger)

	err := retrier.Do(ctx, "kafka.handle:"+message.Topic, func(ctx context.Context) error {
		return c.handler(ctx, message)
	})
	if err == nil || ctx.Err() != nil {
		return err
	}

	logger := c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": retryCount,
		"permanent":   retry.IsPermanent(err),
	})
	if c.dlq == nil {
		logger.Warn("message processing failed and dlq is not configured")
		return err
	}
	if dlqErr := c.sendToDLQ(ctx, message, retryCount, err); dlqErr != nil {
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	logger.WithField("dlq_topic", c.cfg.DLQTopic).Info("message sent to DLQ")
	return nil
}

func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, retryCount int, cause error) error {
	failedAt := time.Now().UTC().Format(time.RFC3339)
	record := DLQRecord{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          failedAt,
		RetryCount:        retryCount,
		Stage:             StageConsumer,
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq record: %w", err)
	}

	return c.dlq.Send(ctx, Message{
		Topic: c.cfg.DLQTopic,
		Key:   string(message.Key),
		Value: value,
		Headers: map[string]string{
			HeaderOriginalTopic: message.Topic,
			HeaderErrorMessage:  cause.Error(),
			HeaderFailedAt:      failedAt,
		},
	})
}

// retryCountOf читает x-retry-count. Отсутствующее или битое значение считается нулём.
func retryCountOf(message *sarama.ConsumerMessage) int {
	raw, ok := headerValue(message, HeaderRetryCount)
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return 0
	}
	return count
}
