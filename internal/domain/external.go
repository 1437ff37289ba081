package domain

import "time"

// ExternalBooking — бронь у внешнего провайдера расписаний. Это best-effort
// зеркало локальной записи: оно может отставать или отсутствовать.
type ExternalBooking struct {
	ID              string
	Status          string
	StartAt         time.Time
	DurationMinutes int
	CustomerID      string
	StaffID         string
	LocationID      string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ReservationRequest описывает создание внешней брони.
type ReservationRequest struct {
	StartAt         time.Time
	DurationMinutes int
	LocationID      string
	// CustomerID — идентификатор клиента на стороне провайдера,
	// не локальный Customer.ID.
	CustomerID string
	StaffID    string
	// IdempotencyKey генерируется заново на каждую логическую попытку,
	// чтобы сетевые ретраи не плодили дубликаты броней.
	IdempotencyKey string
	Note           string
}

// Validate проверяет, корректно ли заполнены ключевые поля запроса.
func (r *ReservationRequest) Validate() []error {
	var errs []error

	if r.StartAt.IsZero() {
		errs = append(errs, ErrStartTimeRequired)
	}
	if r.DurationMinutes <= 0 {
		errs = append(errs, ErrDurationInvalid)
	}
	if r.IdempotencyKey == "" {
		errs = append(errs, ErrIdempotencyKeyRequired)
	}

	return errs
}

// BookingChanges описывает изменение внешней брони. Нулевые значения
// означают «поле не трогать».
type BookingChanges struct {
	StartAt         *time.Time
	DurationMinutes int
	CustomerID      string
	BookingType     string
	Note            string
}
