package domain

import "time"

// Действия, фиксируемые в аудит-журнале. Теги согласованы с операционными
// дашбордами и не должны меняться без миграции.
const (
	AuditBookingCreated              = "booking_created"
	AuditBookingFailed               = "booking_failed"
	AuditBookingUpdated              = "booking_updated"
	AuditExternalBookingFailed       = "external_booking_failed"
	AuditExternalBookingUpdated      = "external_booking_updated"
	AuditExternalBookingUpdateFailed = "external_booking_update_failed"
	AuditExternalBookingSynced       = "external_booking_synced"
)

// AuditResourceAppointment — тип ресурса для записей на визит.
const AuditResourceAppointment = "appointment"

// AuditEntry — неизменяемая запись о попытке изменения состояния,
// успешной или нет. Журнал append-only: записи никогда не правятся.
type AuditEntry struct {
	ID           string
	Action       string
	ResourceType string
	// ResourceID пуст, когда действие провалилось до создания ресурса
	// (например, валидация CreateBooking).
	ResourceID string
	Details    map[string]interface{}
	Timestamp  time.Time
}

// NewAuditEntry собирает запись аудита для appointment-ресурса.
func NewAuditEntry(action, resourceID string, details map[string]interface{}) AuditEntry {
	if details == nil {
		details = map[string]interface{}{}
	}
	return AuditEntry{
		Action:       action,
		ResourceType: AuditResourceAppointment,
		ResourceID:   resourceID,
		Details:      details,
		Timestamp:    time.Now().UTC(),
	}
}
