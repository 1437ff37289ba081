package kafka

import (
	"time"

	"github.com/inkwellstudio/bms/internal/domain"
)

// EventType определяет тип события бронирования. Значения совпадают с
// именами событий, которые оркестратор кладёт в outbox.
type EventType string

const (
	EventTypeBookingCreated   = EventType(domain.EventBookingCreated)
	EventTypeBookingUpdated   = EventType(domain.EventBookingUpdated)
	EventTypeBookingCancelled = EventType(domain.EventBookingCancelled)
	EventTypeExternalSynced   = EventType(domain.EventExternalSynced)
)

// Topics для Kafka
const (
	TopicBookingEvents   = "bms.booking.events"
	TopicDeadLetterQueue = "bms.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// BookingEvent представляет событие бронирования, потребляемое внешними
// пайплайнами (уведомления, аналитика).
type BookingEvent struct {
	EventType     EventType              `json:"event_type"`
	AppointmentID string                 `json:"appointment_id"`
	CustomerID    string                 `json:"customer_id,omitempty"`
	Status        string                 `json:"status,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewBookingEvent создает новое событие бронирования.
func NewBookingEvent(eventType EventType, appointmentID, customerID, status string, metadata map[string]interface{}) *BookingEvent {
	return &BookingEvent{
		EventType:     eventType,
		AppointmentID: appointmentID,
		CustomerID:    customerID,
		Status:        status,
		Timestamp:     time.Now(),
		Metadata:      metadata,
	}
}
