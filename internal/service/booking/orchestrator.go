package booking

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/inkwellstudio/bms/internal/domain"
	"github.com/inkwellstudio/bms/internal/metrics"
)

// Orchestrator описывает операции бронирования. Локальная запись авторитетна:
// внешняя бронь поддерживается best-effort, её ошибки не проваливают операцию.
type Orchestrator interface {
	CreateBooking(ctx context.Context, params CreateBookingParams) (BookingResult, error)
	UpdateBooking(ctx context.Context, params UpdateBookingParams) (BookingResult, error)
	GetAvailability(ctx context.Context, date time.Time, artistID string) AvailabilityResult
}

// Options — настройки оркестратора уровня процесса.
type Options struct {
	// LocationID — идентификатор студии на стороне провайдера расписаний.
	LocationID string
	// ProviderTimeout ограничивает каждый вызов провайдера; 0 = 5 секунд.
	ProviderTimeout time.Duration
}

const defaultProviderTimeout = 5 * time.Second

// orchestrator реализует последовательность шагов бронирования:
// валидация → внешняя попытка → локальная запись → аудит.
type orchestrator struct {
	appointments    domain.AppointmentRepository
	customers       domain.CustomerRepository
	tattooRequests  domain.TattooRequestRepository
	audits          domain.AuditRepository
	outbox          domain.OutboxRepository
	provider        domain.ExternalSchedulingClient
	keys            domain.KeyGenerator
	logger          *log.Entry
	metrics         *metrics.BookingMetrics
	locationID      string
	providerTimeout time.Duration
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(
	appointments domain.AppointmentRepository,
	customers domain.CustomerRepository,
	tattooRequests domain.TattooRequestRepository,
	audits domain.AuditRepository,
	outbox domain.OutboxRepository,
	provider domain.ExternalSchedulingClient,
	keys domain.KeyGenerator,
	logger *log.Entry,
	opts Options,
) Orchestrator {
	o := newOrchestrator(appointments, customers, tattooRequests, audits, outbox, provider, keys, logger, opts)
	o.metrics = metrics.NewBookingMetrics()
	return o
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(
	appointments domain.AppointmentRepository,
	customers domain.CustomerRepository,
	tattooRequests domain.TattooRequestRepository,
	audits domain.AuditRepository,
	outbox domain.OutboxRepository,
	provider domain.ExternalSchedulingClient,
	keys domain.KeyGenerator,
	logger *log.Entry,
	opts Options,
) Orchestrator {
	return newOrchestrator(appointments, customers, tattooRequests, audits, outbox, provider, keys, logger, opts)
}

func newOrchestrator(
	appointments domain.AppointmentRepository,
	customers domain.CustomerRepository,
	tattooRequests domain.TattooRequestRepository,
	audits domain.AuditRepository,
	outbox domain.OutboxRepository,
	provider domain.ExternalSchedulingClient,
	keys domain.KeyGenerator,
	logger *log.Entry,
	opts Options,
) *orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "booking")
	}
	if keys == nil {
		keys = NewUUIDKeyGenerator()
	}
	timeout := opts.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &orchestrator{
		appointments:    appointments,
		customers:       customers,
		tattooRequests:  tattooRequests,
		audits:          audits,
		outbox:          outbox,
		provider:        provider,
		keys:            keys,
		logger:          logger,
		locationID:      opts.LocationID,
		providerTimeout: timeout,
	}
}

// CreateBooking проводит запись через валидацию, best-effort зеркалирование
// у провайдера и безусловную локальную запись. Ошибка провайдера не проваливает
// операцию: она фиксируется в аудите, а запись остаётся без внешнего зеркала.
func (o *orchestrator) CreateBooking(ctx context.Context, params CreateBookingParams) (BookingResult, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordBookingInFlightStarted()
	}
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordBookingDuration(time.Since(start))
			o.metrics.RecordBookingInFlightFinished()
		}
	}()

	customer, tattooRequest, err := o.resolveReferences(params)
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"customer_id":       params.CustomerID,
			"tattoo_request_id": params.TattooRequestID,
		}).Warn("booking validation failed")
		o.recordFailure("", err)
		return BookingResult{}, err
	}

	appt := domain.Appointment{
		CustomerID:      params.CustomerID,
		ContactEmail:    params.ContactEmail,
		ContactPhone:    params.ContactPhone,
		ArtistID:        params.ArtistID,
		TattooRequestID: params.TattooRequestID,
		StartTime:       params.StartAt,
		EndTime:         params.StartAt.Add(time.Duration(params.Duration) * time.Minute),
		Duration:        params.Duration,
		Type:            params.BookingType,
		Status:          domain.AppointmentStatusScheduled,
		PriceQuoteMinor: params.PriceQuoteMinor,
		Notes:           params.Note,
	}
	if errs := appt.ValidateInvariants(); len(errs) > 0 {
		err := errs[0]
		o.logger.WithError(err).Warn("booking validation failed")
		o.recordFailure("", err)
		return BookingResult{}, err
	}

	// Внешняя попытка. Порядок фиксирован: провайдер до локальной записи,
	// чтобы её externalReferenceID отражал исход попытки.
	var externalBooking *domain.ExternalBooking
	req := domain.ReservationRequest{
		StartAt:         params.StartAt,
		DurationMinutes: params.Duration,
		LocationID:      o.locationID,
		StaffID:         params.ArtistID,
		IdempotencyKey:  o.keys.NewKey(),
		Note:            composeProviderNote(params.BookingType, params.Note),
	}
	if customer != nil {
		req.CustomerID = customer.ExternalProviderID
	}
	ext, extErr := o.callProviderCreate(ctx, req)
	if extErr != nil {
		o.logger.WithError(extErr).WithField("start_at", params.StartAt).Warn("external booking failed, proceeding without mirror")
		o.appendAudit(domain.NewAuditEntry(domain.AuditExternalBookingFailed, "", map[string]interface{}{
			"error":    extErr.Error(),
			"start_at": params.StartAt.UTC().Format(time.RFC3339),
		}))
		if o.metrics != nil {
			o.metrics.RecordExternalSyncFailure()
		}
	} else {
		externalBooking = &ext
		appt.ExternalReferenceID = ext.ID
		if o.metrics != nil {
			o.metrics.RecordExternalSynced()
		}
	}

	created, err := o.appointments.Create(appt)
	if err != nil {
		o.logger.WithError(err).Error("failed to persist appointment")
		o.recordFailure("", err)
		return BookingResult{}, err
	}

	o.appendAudit(domain.NewAuditEntry(domain.AuditBookingCreated, created.ID, map[string]interface{}{
		"type":     string(created.Type),
		"start_at": created.StartTime.UTC().Format(time.RFC3339),
		"mirrored": created.Mirrored(),
	}))
	o.emitEvent(created.ID, domain.EventBookingCreated, map[string]interface{}{
		"customer_id": created.CustomerID,
		"type":        string(created.Type),
		"start_at":    created.StartTime.UTC().Format(time.RFC3339Nano),
		"mirrored":    created.Mirrored(),
	})
	if o.metrics != nil {
		o.metrics.RecordBookingCreated()
	}
	o.logger.WithFields(log.Fields{
		"appointment_id": created.ID,
		"mirrored":       created.Mirrored(),
	}).Info("booking created")

	return BookingResult{
		Booking:         created,
		Customer:        customer,
		TattooRequest:   tattooRequest,
		ExternalBooking: externalBooking,
	}, nil
}

// UpdateBooking пересчитывает производные поля, best-effort обновляет внешнюю
// бронь (провайдер выдаёт новый идентификатор) и безусловно сохраняет локальные
// изменения с учётом optimistic locking.
func (o *orchestrator) UpdateBooking(ctx context.Context, params UpdateBookingParams) (BookingResult, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordBookingInFlightStarted()
	}
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordBookingDuration(time.Since(start))
			o.metrics.RecordBookingInFlightFinished()
		}
	}()

	existing, err := o.appointments.Get(params.BookingID)
	if err != nil {
		o.logger.WithError(err).WithField("appointment_id", params.BookingID).Warn("booking not found for update")
		if o.metrics != nil {
			o.metrics.RecordBookingFailed()
		}
		return BookingResult{}, err
	}

	// Граница валидируется до внешнего вызова: патч, нарушающий инварианты,
	// не должен уходить ни провайдеру, ни в хранилище.
	patched := applyUpdate(existing, params, existing.ExternalReferenceID)
	if errs := patched.ValidateInvariants(); len(errs) > 0 {
		err := errs[0]
		o.logger.WithError(err).WithField("appointment_id", existing.ID).Warn("booking update validation failed")
		o.recordFailure(existing.ID, err)
		return BookingResult{}, err
	}

	// Внешнее обновление выполняется только для зеркалированных записей.
	externalRef := existing.ExternalReferenceID
	var externalUpdated *domain.ExternalBooking
	if existing.Mirrored() {
		upd, updErr := o.updateExternal(ctx, existing, params)
		if updErr != nil {
			o.logger.WithError(updErr).WithFields(log.Fields{
				"appointment_id":        existing.ID,
				"external_reference_id": existing.ExternalReferenceID,
			}).Warn("external booking update failed, keeping previous reference")
			o.appendAudit(domain.NewAuditEntry(domain.AuditExternalBookingUpdateFailed, existing.ID, map[string]interface{}{
				"error":                 updErr.Error(),
				"external_reference_id": existing.ExternalReferenceID,
			}))
			if o.metrics != nil {
				o.metrics.RecordExternalSyncFailure()
			}
		} else {
			externalUpdated = &upd
			externalRef = upd.ID
			o.appendAudit(domain.NewAuditEntry(domain.AuditExternalBookingUpdated, existing.ID, map[string]interface{}{
				"external_reference_id": upd.ID,
				"previous_reference_id": existing.ExternalReferenceID,
			}))
			if o.metrics != nil {
				o.metrics.RecordExternalSynced()
			}
		}
	}

	updated, err := o.saveUpdate(existing, params, externalRef)
	if err != nil {
		o.logger.WithError(err).WithField("appointment_id", existing.ID).Error("failed to persist appointment update")
		if o.metrics != nil {
			o.metrics.RecordBookingFailed()
		}
		return BookingResult{}, err
	}

	o.appendAudit(domain.NewAuditEntry(domain.AuditBookingUpdated, updated.ID, map[string]interface{}{
		"status":   string(updated.Status),
		"start_at": updated.StartTime.UTC().Format(time.RFC3339),
		"end_at":   updated.EndTime.UTC().Format(time.RFC3339),
	}))
	o.emitEvent(updated.ID, domain.EventBookingUpdated, map[string]interface{}{
		"status":   string(updated.Status),
		"start_at": updated.StartTime.UTC().Format(time.RFC3339Nano),
		"mirrored": updated.Mirrored(),
	})
	if o.metrics != nil {
		o.metrics.RecordBookingUpdated()
	}
	o.logger.WithFields(log.Fields{
		"appointment_id": updated.ID,
		"status":         updated.Status,
	}).Info("booking updated")

	result := BookingResult{
		Booking:                updated,
		ExternalBookingUpdated: externalUpdated,
	}
	if updated.CustomerID != "" {
		if c, cErr := o.customers.Get(updated.CustomerID); cErr == nil {
			result.Customer = &c
		}
	}
	return result, nil
}

// GetAvailability возвращает заглушку: вычисление свободных слотов не
// реализовано, список всегда пуст независимо от мастера.
func (o *orchestrator) GetAvailability(_ context.Context, date time.Time, artistID string) AvailabilityResult {
	o.logger.WithFields(log.Fields{
		"date":      date.Format("2006-01-02"),
		"artist_id": artistID,
	}).Debug("availability requested, returning empty slot list")
	return AvailabilityResult{
		Success:        true,
		Date:           date.Format("2006-01-02"),
		AvailableSlots: []AvailabilitySlot{},
	}
}

// resolveReferences проверяет ссылки запроса на клиента и заявку на эскиз.
// Любая ошибка здесь означает, что ни хранилище, ни провайдер не трогались.
func (o *orchestrator) resolveReferences(params CreateBookingParams) (*domain.Customer, *domain.TattooRequest, error) {
	var customer *domain.Customer
	if params.CustomerID != "" {
		c, err := o.customers.Get(params.CustomerID)
		if err != nil {
			return nil, nil, err
		}
		customer = &c
	}

	var tattooRequest *domain.TattooRequest
	if params.TattooRequestID != "" {
		tr, err := o.tattooRequests.Get(params.TattooRequestID)
		if err != nil {
			return nil, nil, err
		}
		// Анонимная заявка присоединяется к клиенту записи; чужая — нет.
		if tr.CustomerID != "" && params.CustomerID != "" && tr.CustomerID != params.CustomerID {
			return nil, nil, domain.ErrTattooRequestCustomerMismatch
		}
		tattooRequest = &tr
	}

	return customer, tattooRequest, nil
}

func (o *orchestrator) callProviderCreate(ctx context.Context, req domain.ReservationRequest) (domain.ExternalBooking, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.providerTimeout)
	defer cancel()

	callStart := time.Now()
	ext, err := o.provider.Create(callCtx, req)
	if o.metrics != nil {
		o.metrics.RecordExternalCallDuration("create", time.Since(callStart))
	}
	return ext, err
}

// updateExternal читает текущее состояние внешней брони и применяет изменения.
// Провайдер выдаёт новый идентификатор; ошибка Get трактуется так же, как
// ошибка Update.
func (o *orchestrator) updateExternal(ctx context.Context, existing domain.Appointment, params UpdateBookingParams) (domain.ExternalBooking, error) {
	getCtx, cancelGet := context.WithTimeout(ctx, o.providerTimeout)
	defer cancelGet()

	callStart := time.Now()
	current, err := o.provider.Get(getCtx, existing.ExternalReferenceID)
	if o.metrics != nil {
		o.metrics.RecordExternalCallDuration("get", time.Since(callStart))
	}
	if err != nil {
		return domain.ExternalBooking{}, err
	}

	changes := domain.BookingChanges{
		StartAt:     params.StartAt,
		CustomerID:  current.CustomerID,
		BookingType: string(existing.Type),
	}
	if params.Duration != nil {
		changes.DurationMinutes = *params.Duration
	}
	if params.Note != nil {
		changes.Note = *params.Note
	}

	updCtx, cancelUpd := context.WithTimeout(ctx, o.providerTimeout)
	defer cancelUpd()

	callStart = time.Now()
	upd, err := o.provider.Update(updCtx, existing.ExternalReferenceID, changes, o.keys.NewKey())
	if o.metrics != nil {
		o.metrics.RecordExternalCallDuration("update", time.Since(callStart))
	}
	return upd, err
}

// saveUpdate применяет изменения и сохраняет запись с retry на version
// conflict: при конфликте перечитывает свежую версию и накладывает изменения
// заново.
func (o *orchestrator) saveUpdate(existing domain.Appointment, params UpdateBookingParams, externalRef string) (domain.Appointment, error) {
	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	appt := applyUpdate(existing, params, externalRef)
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := o.appointments.Save(appt); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxRetries-1 {
				o.logger.WithFields(log.Fields{
					"appointment_id": appt.ID,
					"attempt":        attempt + 1,
					"version":        appt.Version,
				}).Warn("version conflict detected, retrying")

				fresh, loadErr := o.appointments.Get(existing.ID)
				if loadErr != nil {
					o.logger.WithError(loadErr).WithField("appointment_id", existing.ID).Error("failed to reload appointment after conflict")
					return domain.Appointment{}, loadErr
				}
				appt = applyUpdate(fresh, params, externalRef)

				time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			return domain.Appointment{}, err
		}
		appt.Version++
		return appt, nil
	}

	return domain.Appointment{}, domain.ErrAppointmentVersionConflict
}

// applyUpdate накладывает изменения запроса на запись и пересчитывает EndTime
// по правилам приоритета: оба поля → startAt + duration; только startAt →
// прежняя длительность; только duration → прежнее начало.
func applyUpdate(appt domain.Appointment, params UpdateBookingParams, externalRef string) domain.Appointment {
	switch {
	case params.StartAt != nil && params.Duration != nil:
		appt.StartTime = *params.StartAt
		appt.Duration = *params.Duration
	case params.StartAt != nil:
		appt.StartTime = *params.StartAt
	case params.Duration != nil:
		appt.Duration = *params.Duration
	}
	appt.EndTime = appt.StartTime.Add(time.Duration(appt.Duration) * time.Minute)

	if params.Status != nil {
		appt.Status = *params.Status
	}
	if params.ArtistID != nil {
		appt.ArtistID = *params.ArtistID
	}
	if params.Note != nil {
		appt.Notes = *params.Note
	}
	if params.PriceQuoteMinor != nil {
		appt.PriceQuoteMinor = *params.PriceQuoteMinor
	}
	appt.ExternalReferenceID = externalRef
	appt.UpdatedAt = time.Now().UTC()
	return appt
}

// recordFailure пишет booking_failed в аудит; на путях валидации это
// единственный наблюдаемый побочный эффект.
func (o *orchestrator) recordFailure(resourceID string, cause error) {
	o.appendAudit(domain.NewAuditEntry(domain.AuditBookingFailed, resourceID, map[string]interface{}{
		"error": cause.Error(),
	}))
	if o.metrics != nil {
		o.metrics.RecordBookingFailed()
	}
}

func (o *orchestrator) appendAudit(entry domain.AuditEntry) {
	if err := o.audits.Append(entry); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"action":      entry.Action,
			"resource_id": entry.ResourceID,
		}).Warn("append audit entry failed")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordAuditEvent()
	}
}

func (o *orchestrator) emitEvent(appointmentID, eventType string, payload map[string]interface{}) {
	if o.outbox == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["appointment_id"] = appointmentID
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"appointment_id": appointmentID,
			"event":          eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "appointment",
		AggregateID:   appointmentID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := o.outbox.Enqueue(msg); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"appointment_id": appointmentID,
			"event":          eventType,
		}).Error("enqueue event failed")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}
}

func composeProviderNote(t domain.BookingType, note string) string {
	if note == "" {
		return string(t)
	}
	return string(t) + ": " + note
}

var _ Orchestrator = (*orchestrator)(nil)
