package booking

import (
	"time"

	"github.com/inkwellstudio/bms/internal/domain"
)

// CreateBookingParams — входные данные CreateBooking. Для анонимной записи
// CustomerID остаётся пустым, а ContactEmail обязателен.
type CreateBookingParams struct {
	StartAt         time.Time
	Duration        int // минуты
	CustomerID      string
	ContactEmail    string
	ContactPhone    string
	BookingType     domain.BookingType
	ArtistID        string
	TattooRequestID string
	PriceQuoteMinor int64
	Note            string
}

// UpdateBookingParams — входные данные UpdateBooking. Nil-поля не меняются.
type UpdateBookingParams struct {
	BookingID       string
	StartAt         *time.Time
	Duration        *int // минуты
	Status          *domain.AppointmentStatus
	ArtistID        *string
	Note            *string
	PriceQuoteMinor *int64
}

// BookingResult — составной результат операции: локальный исход плюс
// (возможно отсутствующий) исход во внешнем провайдере.
type BookingResult struct {
	Booking       domain.Appointment
	Customer      *domain.Customer
	TattooRequest *domain.TattooRequest
	// ExternalBooking — ответ провайдера на создание брони; nil, если
	// внешняя попытка провалилась или не предпринималась.
	ExternalBooking *domain.ExternalBooking
	// ExternalBookingUpdated — ответ провайдера на обновление брони; nil,
	// если запись не зеркалирована или внешнее обновление провалилось.
	ExternalBookingUpdated *domain.ExternalBooking
}

// AvailabilitySlot — свободный интервал в расписании мастера.
type AvailabilitySlot struct {
	StartAt         time.Time
	DurationMinutes int
}

// AvailabilityResult — результат запроса доступности. Сейчас вычисление
// слотов не реализовано: список всегда пуст.
type AvailabilityResult struct {
	Success        bool
	Date           string // YYYY-MM-DD
	AvailableSlots []AvailabilitySlot
}
