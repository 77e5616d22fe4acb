package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
	"github.com/vladislavdragonenkov/shopsync/internal/retry"
	"github.com/vladislavdragonenkov/shopsync/internal/storage/memory"
)

func transition(id, to string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-" + id,
		EventType:     domain.EventTypeOrderStateTransition,
		Payload:       []byte(`{"to_state":"` + to + `"}`),
	}
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{transition("msg-1", "PaymentSettled")}}
	publisher := &stubPublisher{}

	res := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3)).ProcessOnce(context.Background())

	assert.Equal(t, BatchResult{Pulled: 1, Sent: 1}, res)
	assert.Equal(t, []string{"msg-1"}, repo.sentIDs)
	assert.Empty(t, repo.failedIDs)
	assert.Equal(t, 1, publisher.calls())
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{transition("msg-2", "Cancelled")}}
	publisher := &stubPublisher{err: errors.New("publish failed")}
	dlq := &stubPublisher{}

	res := NewWorker(repo, publisher,
		WithDLQPublisher(dlq),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	).ProcessOnce(context.Background())

	assert.Equal(t, BatchResult{Pulled: 1, Failed: 1}, res)
	assert.Equal(t, 3, publisher.calls())
	assert.Empty(t, repo.sentIDs)
	assert.Equal(t, []string{"msg-2"}, repo.failedIDs)
	require.Equal(t, 1, dlq.calls())

	var record dlqRecord
	require.NoError(t, json.Unmarshal(dlq.last().Payload, &record))
	assert.Equal(t, "msg-2", record.OutboxID)
	assert.Equal(t, "order-msg-2", record.AggregateID)
	assert.JSONEq(t, `{"to_state":"Cancelled"}`, string(record.Payload))
	assert.Contains(t, record.PublishError, "publish failed")
	assert.Equal(t, "msg-2", dlq.last().ID, "dlq message keeps the outbox id")
}

func TestWorker_DLQQuotesMalformedPayload(t *testing.T) {
	t.Parallel()

	broken := transition("msg-5", "Cancelled")
	broken.Payload = []byte(`{"to_state":`)
	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{broken}}
	dlq := &stubPublisher{}

	NewWorker(repo, &stubPublisher{err: retry.Permanent(errors.New("bad payload"))},
		WithDLQPublisher(dlq), WithRetryBaseDelay(0)).ProcessOnce(context.Background())

	var record dlqRecord
	require.NoError(t, json.Unmarshal(dlq.last().Payload, &record))
	var quoted string
	require.NoError(t, json.Unmarshal(record.Payload, &quoted))
	assert.Equal(t, `{"to_state":`, quoted)
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{transition("msg-3", "PaymentAuthorized")}}
	publisher := &stubPublisher{sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil}}

	res := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3)).ProcessOnce(context.Background())

	assert.Equal(t, 3, publisher.calls())
	assert.Equal(t, 1, res.Sent)
	assert.Len(t, repo.sentIDs, 1)
	assert.Empty(t, repo.failedIDs)
}

func TestWorker_ProcessOnce_PermanentErrorSkipsRetries(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{transition("msg-4", "Shipped")}}
	publisher := &stubPublisher{err: retry.Permanent(errors.New("malformed payload"))}

	NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(5)).ProcessOnce(context.Background())

	assert.Equal(t, 1, publisher.calls())
	assert.Len(t, repo.failedIDs, 1)
}

func TestWorker_DrainsFullBatchesWithoutWaiting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	for i := 0; i < 7; i++ {
		_, err := repo.Enqueue(ctx, transition(fmt.Sprintf("msg-%d", i), "PaymentSettled"))
		require.NoError(t, err)
	}
	publisher := &stubPublisher{}

	// интервал больше таймаута теста: всё должно уйти за первый проход
	worker := NewWorker(repo, publisher, WithBatchSize(3), WithPollInterval(time.Hour), WithRetryBaseDelay(0))
	worker.drain(ctx)

	assert.Equal(t, 7, publisher.calls())
	assert.Empty(t, repo.AllPending())
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_Run_DisabledWithoutPublisher(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewWorker(&stubOutboxRepo{}, nil).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without publisher must return immediately")
	}
}

func TestWorkerOptions_Normalize(t *testing.T) {
	opts := WorkerOptions{RetryBaseDelay: -time.Second}
	opts.normalize()

	assert.Equal(t, defaultPollInterval, opts.PollInterval)
	assert.Equal(t, defaultBatchSize, opts.BatchSize)
	assert.Equal(t, defaultMaxAttempts, opts.MaxAttempts)
	assert.Zero(t, opts.RetryBaseDelay)
	assert.NotNil(t, opts.Logger)
}

type stubOutboxRepo struct {
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
}

func (s *stubOutboxRepo) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (s *stubOutboxRepo) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 || limit >= len(s.pending) {
		return append([]domain.OutboxMessage(nil), s.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *stubOutboxRepo) Stats(context.Context) (domain.OutboxStats, error) {
	stats := domain.OutboxStats{PendingCount: len(s.pending)}
	if len(s.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (s *stubOutboxRepo) MarkSent(_ context.Context, id string) error {
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(_ context.Context, id string) error {
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	published      []domain.OutboxMessage
}

func (s *stubPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.published = append(s.published, msg)
	if len(s.sequenceErrors) > 0 {
		err := s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
		return err
	}
	return s.err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published)
}

func (s *stubPublisher) last() domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published[len(s.published)-1]
}

var (
	_ domain.OutboxRepository = (*stubOutboxRepo)(nil)
	_ domain.OutboxPublisher  = (*stubPublisher)(nil)
)
