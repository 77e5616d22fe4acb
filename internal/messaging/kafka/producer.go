package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultClientID = "shopsync"

// Message: одно сообщение для отправки. Headers уходят в Kafka в порядке ключей.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// ProducerOption настраивает sarama-конфигурацию producer.
type ProducerOption func(*sarama.Config)

// WithClientID задаёт client.id, видимый в метриках брокера.
func WithClientID(id string) ProducerOption {
	return func(c *sarama.Config) {
		if id != "" {
			c.ClientID = id
		}
	}
}

// Producer публикует события заказов. Отправка синхронная: ошибка брокера сразу
// возвращается в outbox worker и сообщение остаётся pending.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

func newProducerConfig(opts ...ProducerOption) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = defaultClientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	// идемпотентный producer требует одного in-flight запроса
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	for _, opt := range opts {
		opt(config)
	}
	return config
}

// NewProducer подключается к brokers.
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	config := newProducerConfig(opts...)
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	p := NewProducerFromSync(producer)
	p.logger = p.logger.WithField("client_id", config.ClientID)
	return p, nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer.
func NewProducerFromSync(producer sarama.SyncProducer) *Producer {
	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
	}
}

// Send отправляет сообщение, если ctx ещё не отменён.
func (p *Producer) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic:     m.Topic,
		Key:       sarama.StringEncoder(m.Key),
		Value:     sarama.ByteEncoder(m.Value),
		Headers:   recordHeaders(m.Headers),
		Timestamp: time.Now(),
	}

	fields := log.Fields{"topic": m.Topic, "key": m.Key}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message to %s: %w", m.Topic, err)
	}

	fields["partition"] = partition
	fields["offset"] = offset
	p.logger.WithFields(fields).Debug("message sent to kafka")
	return nil
}

// PublishEvent сериализует event в JSON и отправляет его.
func (p *Producer) PublishEvent(topic string, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.Send(context.Background(), Message{Topic: topic, Key: key, Value: value})
}

// PublishRaw публикует готовое тело сообщения. retryCount > 0 выставляет заголовок x-retry-count.
func (p *Producer) PublishRaw(topic, key string, value []byte, retryCount int) error {
	m := Message{Topic: topic, Key: key, Value: value}
	if retryCount > 0 {
		m.Headers = map[string]string{HeaderRetryCount: strconv.Itoa(retryCount)}
	}
	return p.Send(context.Background(), m)
}

// Close закрывает producer
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

func recordHeaders(headers map[string]string) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]sarama.RecordHeader, 0, len(keys))
	for _, k := range keys {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: []byte(headers[k])})
	}
	return out
}
