package domain

import "time"

// DurationGranularityMinutes — минимальный шаг длительности, который принимает
// внешний провайдер расписаний.
const DurationGranularityMinutes = 30

// BookingType описывает вид записи в студии.
type BookingType string

const (
	// BookingTypeConsultation — обычная консультация.
	BookingTypeConsultation BookingType = "consultation"
	// BookingTypeDrawingConsultation — консультация по эскизу.
	BookingTypeDrawingConsultation BookingType = "drawing_consultation"
	// BookingTypeTattooSession — сеанс татуировки.
	BookingTypeTattooSession BookingType = "tattoo_session"
)

// Valid проверяет, что тип записи относится к поддерживаемым значениям.
func (t BookingType) Valid() bool {
	switch t {
	case BookingTypeConsultation, BookingTypeDrawingConsultation, BookingTypeTattooSession:
		return true
	default:
		return false
	}
}

// AllowedForAnonymous сообщает, доступен ли тип для анонимной записи
// (без привязанного клиента — только по контактным данным).
func (t BookingType) AllowedForAnonymous() bool {
	return t == BookingTypeConsultation || t == BookingTypeDrawingConsultation
}

// AppointmentStatus описывает жизненный цикл записи.
type AppointmentStatus string

const (
	// AppointmentStatusPending — запись создана внешним вызывающим, но ещё не подтверждена студией.
	AppointmentStatusPending AppointmentStatus = "pending"
	// AppointmentStatusScheduled — запись запланирована (начальный статус CreateBooking).
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	// AppointmentStatusConfirmed — клиент подтвердил визит.
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	// AppointmentStatusCompleted — визит состоялся.
	AppointmentStatusCompleted AppointmentStatus = "completed"
	// AppointmentStatusCancelled — запись отменена.
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	// AppointmentStatusNoShow — клиент не пришёл.
	AppointmentStatusNoShow AppointmentStatus = "no_show"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusPending, AppointmentStatusScheduled, AppointmentStatusConfirmed,
		AppointmentStatusCompleted, AppointmentStatusCancelled, AppointmentStatusNoShow:
		return true
	default:
		return false
	}
}

// Appointment — локально авторитетная запись на визит. Зеркало во внешнем
// провайдере расписаний (ExternalReferenceID) поддерживается best-effort:
// пустое значение означает «не зеркалировано» и само по себе не ошибка.
type Appointment struct {
	ID              string
	CustomerID      string // пусто для анонимных записей
	ContactEmail    string // обязателен, когда CustomerID пуст
	ContactPhone    string
	ArtistID        string
	TattooRequestID string
	StartTime       time.Time
	EndTime         time.Time
	Duration        int // минуты; инвариант EndTime == StartTime + Duration
	Type            BookingType
	Status          AppointmentStatus
	// ExternalReferenceID — идентификатор зеркальной брони у провайдера.
	// Провайдер при обновлении выдаёт новый идентификатор, старый замещается.
	ExternalReferenceID string
	PriceQuoteMinor     int64 // в минимальных денежных единицах, 0 = не указана
	Notes               string
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ValidateInvariants проверяет базовые инварианты записи и возвращает список замечаний.
func (a *Appointment) ValidateInvariants() []error {
	var errs []error

	if a.StartTime.IsZero() {
		errs = append(errs, ErrStartTimeRequired)
	}
	if a.Duration <= 0 || a.Duration%DurationGranularityMinutes != 0 {
		errs = append(errs, ErrDurationInvalid)
	}
	if !a.Type.Valid() {
		errs = append(errs, ErrBookingTypeInvalid)
	}
	if !a.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if a.CustomerID == "" {
		if a.ContactEmail == "" {
			errs = append(errs, ErrContactEmailRequired)
		}
		if a.Type.Valid() && !a.Type.AllowedForAnonymous() {
			errs = append(errs, ErrAnonymousTypeNotAllowed)
		}
	}
	// Сверяем производное поле: EndTime должен совпадать с StartTime + Duration.
	if !a.StartTime.IsZero() && a.Duration > 0 {
		want := a.StartTime.Add(time.Duration(a.Duration) * time.Minute)
		if !a.EndTime.Equal(want) {
			errs = append(errs, ErrEndTimeMismatch)
		}
	}

	return errs
}

// Mirrored сообщает, есть ли у записи актуальная ссылка на внешнюю бронь.
func (a *Appointment) Mirrored() bool {
	return a.ExternalReferenceID != ""
}

// NeedsMirror — запрашиваемое свойство «разрыва синхронизации»: запись
// существует локально, не отменена, но внешнего зеркала у неё нет.
func (a *Appointment) NeedsMirror() bool {
	return a.ExternalReferenceID == "" && a.Status != AppointmentStatusCancelled
}
