package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopsync/internal/retry"
)

// fakeGroup: ConsumerGroup, который по Consume отдаёт сообщения в ConsumeClaim.
type fakeGroup struct {
	mu       sync.Mutex
	consumed int
	batches  [][]*sarama.ConsumerMessage
	session  *fakeSession
	errs     chan error
	closeErr error
}

func newFakeGroup(batches ...[]*sarama.ConsumerMessage) *fakeGroup {
	return &fakeGroup{batches: batches, errs: make(chan error, 1)}
}

func (g *fakeGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	g.mu.Lock()
	if g.consumed >= len(g.batches) {
		g.mu.Unlock()
		<-ctx.Done()
		return nil
	}
	batch := g.batches[g.consumed]
	g.consumed++
	if g.session == nil {
		g.session = &fakeSession{ctx: ctx}
	}
	session := g.session
	g.mu.Unlock()

	claim := &fakeClaim{topic: topics[0], messages: make(chan *sarama.ConsumerMessage, len(batch))}
	for _, msg := range batch {
		claim.messages <- msg
	}
	close(claim.messages)

	if err := handler.Setup(session); err != nil {
		return err
	}
	defer func() { _ = handler.Cleanup(session) }()
	return handler.ConsumeClaim(session, claim)
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	close(g.errs)
	return g.closeErr
}

func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

func (g *fakeGroup) markedOffsets() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil
	}
	return g.session.offsets()
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []*sarama.ConsumerMessage
}

func (s *fakeSession) Claims() map[string][]int32               { return map[string][]int32{"t": {0}} }
func (s *fakeSession) MemberID() string                         { return "member-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg)
}

func (s *fakeSession) offsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.marked))
	for _, msg := range s.marked {
		out = append(out, msg.Offset)
	}
	return out
}

type fakeClaim struct {
	topic    string
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return c.topic }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func orderMessage(offset int64, retryCount string) *sarama.ConsumerMessage {
	msg := &sarama.ConsumerMessage{
		Topic:  TopicOrderEvents,
		Offset: offset,
		Key:    []byte("order-1"),
		Value:  []byte(`{"id":"evt-1"}`),
	}
	if retryCount != "" {
		msg.Headers = []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte(retryCount)}}
	}
	return msg
}

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		GroupID:    "shopsync-crm",
		Topics:     []string{TopicOrderEvents},
		MaxRetries: 3,
		DLQTopic:   TopicDeadLetterQueue,
	}
}

func TestConsumerConfig_Normalize(t *testing.T) {
	cfg := ConsumerConfig{RetryDelay: -time.Second}
	cfg.normalize()

	assert.Equal(t, defaultConsumerRetries, cfg.MaxRetries)
	assert.Zero(t, cfg.RetryDelay)
	assert.Equal(t, defaultClientID, cfg.ClientID)

	sc := ConsumerConfig{ClientID: "crm-sync"}.saramaConfig()
	assert.Equal(t, "crm-sync", sc.ClientID)
	assert.Equal(t, sarama.OffsetNewest, sc.Consumer.Offsets.Initial)
	assert.True(t, sc.Consumer.Return.Errors)
	require.NoError(t, sc.Validate())
}

func TestNewConsumer_UnreachableBrokers(t *testing.T) {
	cfg := testConsumerConfig()
	cfg.Brokers = []string{"invalid-broker:9092"}

	_, err := NewConsumer(cfg, func(context.Context, *sarama.ConsumerMessage) error { return nil }, nil)
	require.Error(t, err)
}

func TestNewConsumer_DLQNeedsTopic(t *testing.T) {
	cfg := testConsumerConfig()
	cfg.DLQTopic = ""

	consumer := newConsumer(newFakeGroup(), cfg, nil, NewProducerFromSync(mocks.NewSyncProducer(t, nil)))
	assert.Nil(t, consumer.dlq)
}

func TestConsumer_StartRequiresHandler(t *testing.T) {
	consumer := newConsumer(newFakeGroup(), testConsumerConfig(), nil, nil)
	assert.Error(t, consumer.Start(context.Background()))
}

func TestConsumer_MarksProcessedMessages(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int64
	)
	group := newFakeGroup([]*sarama.ConsumerMessage{orderMessage(1, ""), orderMessage(2, ""), orderMessage(3, "")})
	consumer := newConsumer(group, testConsumerConfig(), func(_ context.Context, msg *sarama.ConsumerMessage) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg.Offset)
		if msg.Offset == 2 {
			return retry.Permanent(errors.New("bad payload"))
		}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, consumer.Start(ctx))
	group.errs <- errors.New("broker hiccup")

	require.Eventually(t, func() bool {
		return len(group.markedOffsets()) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, consumer.Stop())

	assert.Equal(t, []int64{1, 3}, group.markedOffsets(), "failed message without dlq stays unmarked")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3}, seen)
}

func TestConsumer_StopReturnsCloseError(t *testing.T) {
	group := newFakeGroup()
	group.closeErr = errors.New("close failed")

	consumer := newConsumer(group, testConsumerConfig(), nil, nil)
	assert.ErrorContains(t, consumer.Stop(), "close failed")
}

func TestConsumer_ConsumeClaimStopsOnContextDone(t *testing.T) {
	consumer := newConsumer(newFakeGroup(), testConsumerConfig(), func(context.Context, *sarama.ConsumerMessage) error { return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	session := &fakeSession{ctx: ctx}
	claim := &fakeClaim{topic: TopicOrderEvents, messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = consumer.ConsumeClaim(session, claim)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}

func TestConsumer_Process(t *testing.T) {
	failing := func(attempts *int, err error) MessageHandler {
		return func(context.Context, *sarama.ConsumerMessage) error {
			*attempts++
			return err
		}
	}

	tests := []struct {
		name         string
		retryHeader  string
		handlerErr   error
		dlq          func(*mocks.SyncProducer)
		wantAttempts int
		wantErr      bool
	}{
		{
			name:         "success",
			wantAttempts: 1,
		},
		{
			name:         "budget shrinks with retry header",
			retryHeader:  "1",
			handlerErr:   errors.New("temporary"),
			wantAttempts: 2,
			wantErr:      true,
		},
		{
			name:         "exhausted budget still gets one attempt",
			retryHeader:  "7",
			handlerErr:   errors.New("temporary"),
			wantAttempts: 1,
			wantErr:      true,
		},
		{
			name:        "permanent error goes to dlq without retries",
			retryHeader: "1",
			handlerErr:  retry.Permanent(errors.New("bad payload")),
			dlq: func(p *mocks.SyncProducer) {
				p.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
					if msg.Topic != TopicDeadLetterQueue {
						return fmt.Errorf("unexpected topic %s", msg.Topic)
					}
					value, err := msg.Value.Encode()
					if err != nil {
						return err
					}
					var record DLQRecord
					if err := json.Unmarshal(value, &record); err != nil {
						return err
					}
					if record.Stage != StageConsumer || record.RetryCount != 1 || record.OriginalOffset != 10 {
						return fmt.Errorf("unexpected dlq record %+v", record)
					}
					if len(msg.Headers) != 3 || string(msg.Headers[2].Key) != HeaderOriginalTopic {
						return fmt.Errorf("unexpected headers %v", msg.Headers)
					}
					return nil
				})
			},
			wantAttempts: 1,
		},
		{
			name:       "dlq failure keeps message unprocessed",
			handlerErr: retry.Permanent(errors.New("bad payload")),
			dlq: func(p *mocks.SyncProducer) {
				p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
			},
			wantAttempts: 1,
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dlq *Producer
			if tt.dlq != nil {
				mockProducer := mocks.NewSyncProducer(t, nil)
				tt.dlq(mockProducer)
				t.Cleanup(func() { require.NoError(t, mockProducer.Close()) })
				dlq = NewProducerFromSync(mockProducer)
			}

			attempts := 0
			consumer := newConsumer(newFakeGroup(), testConsumerConfig(), failing(&attempts, tt.handlerErr), dlq)

			err := consumer.process(context.Background(), orderMessage(10, tt.retryHeader))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAttempts, attempts)
		})
	}
}

func TestRetryCountOf(t *testing.T) {
	for header, want := range map[string]int{"": 0, "5": 5, "bad": 0, "-2": 0} {
		assert.Equal(t, want, retryCountOf(orderMessage(1, header)), "header %q", header)
	}
}

func TestParsers(t *testing.T) {
	envelope, err := ParseEnvelope(&sarama.ConsumerMessage{
		Value: []byte(`{"id":"e-1","event_type":"OrderStateTransition","aggregate_id":"o-1","payload":{"order_code":"R000001"}}`),
	})
	require.NoError(t, err)
	event, err := DecodeTransition(envelope)
	require.NoError(t, err)
	assert.Equal(t, "R000001", event.OrderCode)

	_, err = ParseEnvelope(&sarama.ConsumerMessage{Value: []byte("{")})
	assert.Error(t, err)
	_, err = DecodeTransition(&Envelope{EventType: "Other"})
	assert.Error(t, err)

	record, err := ParseDLQRecord(&sarama.ConsumerMessage{Value: []byte(`{"original_topic":"shop.order.events","retry_count":2}`)})
	require.NoError(t, err)
	assert.Equal(t, 2, record.RetryCount)
	assert.Equal(t, TopicOrderEvents, record.OriginalTopic)
}
