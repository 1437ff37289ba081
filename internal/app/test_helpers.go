package app

import (
	"time"

	"github.com/inkwellstudio/bms/internal/domain"
	"github.com/inkwellstudio/bms/internal/service/booking"
)

// newTestAppointment создаёт тестовую запись для использования в тестах.
func newTestAppointment() domain.Appointment {
	now := time.Now().UTC()
	start := time.Date(2026, 9, 14, 12, 0, 0, 0, time.UTC)
	return domain.Appointment{
		ID:           "test-appointment-1",
		CustomerID:   "test-customer-1",
		ContactEmail: "walkin@example.com",
		StartTime:    start,
		EndTime:      start.Add(60 * time.Minute),
		Duration:     60,
		Type:         domain.BookingTypeConsultation,
		Status:       domain.AppointmentStatusScheduled,
		Version:      0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// newTestCreateBookingParams создаёт валидные параметры бронирования.
func newTestCreateBookingParams() booking.CreateBookingParams {
	return booking.CreateBookingParams{
		StartAt:      time.Date(2026, 9, 14, 12, 0, 0, 0, time.UTC),
		Duration:     60,
		ContactEmail: "walkin@example.com",
		BookingType:  domain.BookingTypeConsultation,
	}
}

// newTestReservationRequest создаёт запрос брони для провайдера.
func newTestReservationRequest() domain.ReservationRequest {
	return domain.ReservationRequest{
		StartAt:         time.Date(2026, 9, 14, 12, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
		LocationID:      "studio-main",
		IdempotencyKey:  "test-key-1",
	}
}
