package domain

import (
	"context"
	"time"
)

// ExternalSchedulingClient описывает взаимодействие с внешним провайдером
// расписаний. Все методы могут блокироваться на сети и принимают контекст
// с ограниченным таймаутом; любая ошибка провайдера трактуется вызывающим
// кодом как некритичная (локальная запись важнее зеркала).
type ExternalSchedulingClient interface {
	// Create создаёт внешнюю бронь.
	Create(ctx context.Context, req ReservationRequest) (ExternalBooking, error)
	// Get возвращает текущее состояние внешней брони.
	Get(ctx context.Context, externalID string) (ExternalBooking, error)
	// Update изменяет внешнюю бронь. Провайдер выдаёт НОВЫЙ идентификатор
	// брони; возвращённый ID замещает переданный externalID.
	Update(ctx context.Context, externalID string, changes BookingChanges, idempotencyKey string) (ExternalBooking, error)
	// Cancel отменяет внешнюю бронь.
	Cancel(ctx context.Context, externalID string) (ExternalBooking, error)
}

// KeyGenerator выдаёт уникальные idempotency-ключи для внешних мутаций.
// Вынесен в интерфейс, чтобы оркестратор оставался детерминированным в тестах.
type KeyGenerator interface {
	NewKey() string
}

// AuditRepository хранит append-only журнал событий бронирования.
type AuditRepository interface {
	Append(entry AuditEntry) error
	List(resourceID string) ([]AuditEntry, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// Имена событий, проходящих через outbox. Kafka-слой строит свои
// типизированные константы поверх этих же значений, поэтому то, что пишет
// оркестратор, совпадает с тем, что разбирает consumer.
const (
	EventBookingCreated   = "booking.created"
	EventBookingUpdated   = "booking.updated"
	EventBookingCancelled = "booking.cancelled"
	EventExternalSynced   = "booking.external_synced"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
