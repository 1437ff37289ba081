package domain

import "errors"

var (
	// ErrCustomerNotFound возвращается, когда указанный клиент не найден в хранилище.
	// Текст согласован с внешним API и не должен меняться.
	ErrCustomerNotFound = errors.New("Customer not found")
	// ErrTattooRequestNotFound возвращается, когда заявка на эскиз не найдена.
	ErrTattooRequestNotFound = errors.New("Tattoo request not found")
	// ErrBookingNotFound возвращается, когда запись не найдена по идентификатору.
	ErrBookingNotFound = errors.New("Booking not found")

	// Ошибка отсутствующего контактного email для анонимной записи.
	ErrContactEmailRequired = errors.New("contact email is required for anonymous bookings")
	// Ошибка недопустимого типа для анонимной записи.
	ErrAnonymousTypeNotAllowed = errors.New("anonymous bookings are limited to consultation types")
	// Ошибка несоответствия клиента заявки на эскиз и клиента записи.
	ErrTattooRequestCustomerMismatch = errors.New("tattoo request belongs to a different customer")
	// Ошибка отсутствующего времени начала.
	ErrStartTimeRequired = errors.New("start time is required")
	// Ошибка некорректной длительности: должна быть положительной и кратной 30 минутам.
	ErrDurationInvalid = errors.New("duration must be a positive multiple of 30 minutes")
	// Ошибка неизвестного типа записи.
	ErrBookingTypeInvalid = errors.New("booking type is invalid")
	// Ошибка неизвестного статуса записи.
	ErrStatusInvalid = errors.New("appointment status is invalid")
	// Ошибка расхождения EndTime и StartTime + Duration.
	ErrEndTimeMismatch = errors.New("end time does not match start time plus duration")

	// ErrAppointmentVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrAppointmentVersionConflict = errors.New("appointment version conflict")

	// ErrExternalRejected — провайдер расписаний отклонил запрос (бизнес-ошибка провайдера).
	ErrExternalRejected = errors.New("scheduling provider rejected the request")
	// ErrExternalUnavailable — временная недоступность провайдера; трактуется
	// так же, как любая другая внешняя ошибка.
	ErrExternalUnavailable = errors.New("scheduling provider unavailable")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки обработки idempotency-ключей HTTP-фасада.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with a different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrAppointmentVersionConflict)
}

// IsValidation сообщает, относится ли ошибка к ошибкам валидации запроса:
// такие ошибки не сопровождаются мутациями хранилища или провайдера.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrCustomerNotFound,
		ErrTattooRequestNotFound,
		ErrContactEmailRequired,
		ErrAnonymousTypeNotAllowed,
		ErrTattooRequestCustomerMismatch,
		ErrStartTimeRequired,
		ErrDurationInvalid,
		ErrBookingTypeInvalid,
		ErrStatusInvalid,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
