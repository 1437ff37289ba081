package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/inkwellstudio/bms/internal/domain"
)

func pendingMessage(id, apptID, eventType string, payload string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "appointment",
		AggregateID:   apptID,
		EventType:     eventType,
		Payload:       []byte(payload),
	}
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := &fakeOutboxRepo{
		pending: []domain.OutboxMessage{
			pendingMessage("msg-1", "appt-1", domain.EventBookingCreated, `{"mirrored":true}`),
		},
	}
	publisher := &fakePublisher{}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	if got := len(repo.sentIDs); got != 1 {
		t.Fatalf("expected 1 sent mark, got %d", got)
	}
	if repo.sentIDs[0] != "msg-1" {
		t.Fatalf("expected sent id msg-1, got %s", repo.sentIDs[0])
	}
	if got := len(repo.failedIDs); got != 0 {
		t.Fatalf("expected 0 failed marks, got %d", got)
	}
	if got := publisher.calls(); got != 1 {
		t.Fatalf("expected 1 publish call, got %d", got)
	}
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := &fakeOutboxRepo{
		pending: []domain.OutboxMessage{
			pendingMessage("msg-2", "appt-2", domain.EventBookingUpdated, `{"status":"cancelled"}`),
		},
	}
	publisher := &fakePublisher{err: errors.New("publish failed")}
	dlqPublisher := &fakePublisher{}

	worker := NewWorker(
		repo,
		publisher,
		WithDLQPublisher(dlqPublisher),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)
	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if got := len(repo.sentIDs); got != 0 {
		t.Fatalf("expected 0 sent marks, got %d", got)
	}
	if got := len(repo.failedIDs); got != 1 {
		t.Fatalf("expected 1 failed mark, got %d", got)
	}
	if repo.failedIDs[0] != "msg-2" {
		t.Fatalf("expected failed id msg-2, got %s", repo.failedIDs[0])
	}
	if got := dlqPublisher.calls(); got != 1 {
		t.Fatalf("expected 1 DLQ publish, got %d", got)
	}

	// DLQ-событие должно нести исходный payload и причину провала.
	var buried dlqPayload
	if err := json.Unmarshal(dlqPublisher.last().Payload, &buried); err != nil {
		t.Fatalf("unmarshal dlq payload: %v", err)
	}
	if buried.OutboxID != "msg-2" || buried.PublishError == "" {
		t.Fatalf("unexpected dlq payload: %+v", buried)
	}
	if string(buried.Payload) != `{"status":"cancelled"}` {
		t.Fatalf("dlq payload lost original event body: %s", string(buried.Payload))
	}
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &fakeOutboxRepo{
		pending: []domain.OutboxMessage{
			pendingMessage("msg-3", "appt-3", domain.EventBookingUpdated, `{"status":"confirmed"}`),
		},
	}
	publisher := &fakePublisher{
		sequenceErrors: []error{
			errors.New("attempt 1"),
			errors.New("attempt 2"),
			nil,
		},
	}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if got := len(repo.sentIDs); got != 1 {
		t.Fatalf("expected 1 sent mark, got %d", got)
	}
	if got := len(repo.failedIDs); got != 0 {
		t.Fatalf("expected 0 failed marks, got %d", got)
	}
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(
		&fakeOutboxRepo{},
		&fakePublisher{},
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
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_RetryBackoffGrowth(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&fakeOutboxRepo{}, &fakePublisher{}, WithRetryBaseDelay(10*time.Millisecond))

	if got := worker.retryBackoff(1); got != 10*time.Millisecond {
		t.Fatalf("unexpected first delay: %s", got)
	}
	if got := worker.retryBackoff(3); got != 40*time.Millisecond {
		t.Fatalf("unexpected third delay: %s", got)
	}

	zeroDelay := NewWorker(&fakeOutboxRepo{}, &fakePublisher{}, WithRetryBaseDelay(0))
	if got := zeroDelay.retryBackoff(2); got != 0 {
		t.Fatalf("expected no delay, got %s", got)
	}
}

type fakeOutboxRepo struct {
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
}

func (f *fakeOutboxRepo) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (f *fakeOutboxRepo) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 || limit >= len(f.pending) {
		return append([]domain.OutboxMessage(nil), f.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), f.pending[:limit]...), nil
}

func (f *fakeOutboxRepo) Stats() (domain.OutboxStats, error) {
	stats := domain.OutboxStats{PendingCount: len(f.pending)}
	if len(f.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (f *fakeOutboxRepo) MarkSent(id string) error {
	f.sentIDs = append(f.sentIDs, id)
	return nil
}

func (f *fakeOutboxRepo) MarkFailed(id string) error {
	f.failedIDs = append(f.failedIDs, id)
	return nil
}

type fakePublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	callCount      int
	published      []domain.OutboxMessage
}

func (f *fakePublisher) Publish(msg domain.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.callCount++
	f.published = append(f.published, msg)
	if len(f.sequenceErrors) > 0 {
		err := f.sequenceErrors[0]
		f.sequenceErrors = f.sequenceErrors[1:]
		return err
	}

	return f.err
}

func (f *fakePublisher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

func (f *fakePublisher) last() domain.OutboxMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return domain.OutboxMessage{}
	}
	return f.published[len(f.published)-1]
}

var _ domain.OutboxRepository = (*fakeOutboxRepo)(nil)
var _ domain.OutboxPublisher = (*fakePublisher)(nil)
