package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/inkwellstudio/bms/internal/domain"
	"github.com/inkwellstudio/bms/internal/service/booking"
	"github.com/inkwellstudio/bms/internal/service/httpapi"
	"github.com/inkwellstudio/bms/internal/service/scheduling"
	"github.com/inkwellstudio/bms/internal/storage/memory"
)

// BookingLifecycleTestSuite тестирует полный жизненный цикл бронирования
// через HTTP API: от создания записи до обновления и аудита.
type BookingLifecycleTestSuite struct {
	suite.Suite
	server    *httptest.Server
	client    *http.Client
	provider  *scheduling.MockClient
	customers domain.CustomerRepository
	audits    memoryAuditRepo
	outbox    domain.OutboxRepository
}

// memoryAuditRepo расширяет доменный интерфейс инспекционными методами
// in-memory реализации.
type memoryAuditRepo interface {
	domain.AuditRepository
	All() []domain.AuditEntry
	ByAction(action string) []domain.AuditEntry
}

func (suite *BookingLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	appointments := memory.NewAppointmentRepository()
	suite.customers = memory.NewCustomerRepository()
	tattooRequests := memory.NewTattooRequestRepository()
	audits := memory.NewAuditRepository()
	suite.audits = audits
	suite.outbox = memory.NewOutboxRepository()
	suite.provider = scheduling.NewMockClient()

	orchestrator := booking.NewOrchestratorWithoutMetrics(
		appointments,
		suite.customers,
		tattooRequests,
		audits,
		suite.outbox,
		suite.provider,
		booking.NewUUIDKeyGenerator(),
		logger,
		booking.Options{LocationID: "studio-main", ProviderTimeout: time.Second},
	)

	api := httpapi.NewServer(orchestrator, appointments, audits, memory.NewIdempotencyRepository(), logger)
	suite.server = httptest.NewServer(api.Routes())
	suite.client = suite.server.Client()
}

func (suite *BookingLifecycleTestSuite) TearDownTest() {
	suite.server.Close()
}

type bookingEnvelope struct {
	Booking struct {
		ID                  string `json:"id"`
		CustomerID          string `json:"customer_id"`
		Status              string `json:"status"`
		Type                string `json:"type"`
		ExternalReferenceID string `json:"external_reference_id"`
		Notes               string `json:"notes"`
		Version             int64  `json:"version"`
	} `json:"booking"`
	External *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"external"`
	Error string `json:"error"`
}

func (suite *BookingLifecycleTestSuite) TestSuccessfulBookingLifecycle() {
	customer, err := suite.customers.Create(domain.Customer{
		Name:               "Anna K",
		Email:              "anna@example.com",
		ExternalProviderID: "provider-customer-7",
	})
	require.NoError(suite.T(), err)

	// 1. Создаём запись на сеанс
	created := suite.postBooking(map[string]interface{}{
		"start_at":         "2026-09-14T12:00:00Z",
		"duration_minutes": 120,
		"customer_id":      customer.ID,
		"booking_type":     string(domain.BookingTypeTattooSession),
		"note":             "sleeve session one",
	}, "", http.StatusCreated)

	require.NotEmpty(suite.T(), created.Booking.ID)
	require.Equal(suite.T(), string(domain.AppointmentStatusScheduled), created.Booking.Status)
	require.Equal(suite.T(), "mock-booking-1", created.Booking.ExternalReferenceID)
	require.NotNil(suite.T(), created.External)
	require.Equal(suite.T(), "mock-booking-1", created.External.ID)

	// Провайдер получил внешний идентификатор клиента, не локальный
	require.Equal(suite.T(), "provider-customer-7", suite.provider.LastRequest.CustomerID)
	require.Equal(suite.T(), 1, suite.provider.CreateCalls)

	bookingID := created.Booking.ID

	// 2. Читаем запись обратно
	fetched := suite.getBooking(bookingID, http.StatusOK)
	require.Equal(suite.T(), bookingID, fetched.Booking.ID)
	require.Equal(suite.T(), customer.ID, fetched.Booking.CustomerID)

	// 3. Переносим запись: провайдер выдаёт новый идентификатор
	updated := suite.patchBooking(bookingID, map[string]interface{}{
		"start_at": "2026-09-15T15:00:00Z",
		"note":     "rescheduled by customer",
	}, "", http.StatusOK)

	require.Equal(suite.T(), "mock-booking-2", updated.Booking.ExternalReferenceID)
	require.Equal(suite.T(), "rescheduled by customer", updated.Booking.Notes)
	require.Equal(suite.T(), int64(1), updated.Booking.Version)
	require.Equal(suite.T(), 1, suite.provider.GetCalls)
	require.Equal(suite.T(), 1, suite.provider.UpdateCalls)

	// 4. Проверяем аудит-журнал записи
	actions := suite.auditActions(bookingID)
	require.Contains(suite.T(), actions, domain.AuditBookingCreated)
	require.Contains(suite.T(), actions, domain.AuditExternalBookingUpdated)
	require.Contains(suite.T(), actions, domain.AuditBookingUpdated)

	// 5. Оба события жизненного цикла попали в outbox
	pending, err := suite.outbox.PullPending(10)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), pending, 2)
	require.Equal(suite.T(), "BookingCreated", pending[0].EventType)
	require.Equal(suite.T(), "BookingUpdated", pending[1].EventType)
}

func (suite *BookingLifecycleTestSuite) TestProviderOutageDoesNotBlockBooking() {
	suite.provider.CreateErr = domain.ErrExternalUnavailable

	created := suite.postBooking(map[string]interface{}{
		"start_at":         "2026-09-14T12:00:00Z",
		"duration_minutes": 30,
		"contact_email":    "walkin@example.com",
		"booking_type":     string(domain.BookingTypeConsultation),
	}, "", http.StatusCreated)

	// Локальная запись авторитетна: бронь создана без внешнего зеркала
	require.NotEmpty(suite.T(), created.Booking.ID)
	require.Empty(suite.T(), created.Booking.ExternalReferenceID)
	require.Nil(suite.T(), created.External)

	failures := suite.audits.ByAction(domain.AuditExternalBookingFailed)
	require.Len(suite.T(), failures, 1)
	require.Equal(suite.T(), domain.ErrExternalUnavailable.Error(), failures[0].Details["error"])
}

func (suite *BookingLifecycleTestSuite) TestExternalUpdateFailureKeepsPreviousReference() {
	created := suite.postBooking(map[string]interface{}{
		"start_at":         "2026-09-14T12:00:00Z",
		"duration_minutes": 60,
		"contact_email":    "walkin@example.com",
		"booking_type":     string(domain.BookingTypeConsultation),
	}, "", http.StatusCreated)
	require.Equal(suite.T(), "mock-booking-1", created.Booking.ExternalReferenceID)

	suite.provider.UpdateErr = domain.ErrExternalRejected

	updated := suite.patchBooking(created.Booking.ID, map[string]interface{}{
		"note": "add reference sketches",
	}, "", http.StatusOK)

	// Локальное обновление проходит, прежняя внешняя ссылка сохраняется
	require.Equal(suite.T(), "mock-booking-1", updated.Booking.ExternalReferenceID)
	require.Equal(suite.T(), "add reference sketches", updated.Booking.Notes)

	actions := suite.auditActions(created.Booking.ID)
	require.Contains(suite.T(), actions, domain.AuditExternalBookingUpdateFailed)
	require.Contains(suite.T(), actions, domain.AuditBookingUpdated)
}

func (suite *BookingLifecycleTestSuite) TestBookingCancellation() {
	created := suite.postBooking(map[string]interface{}{
		"start_at":         "2026-09-14T12:00:00Z",
		"duration_minutes": 60,
		"contact_email":    "walkin@example.com",
		"booking_type":     string(domain.BookingTypeConsultation),
	}, "", http.StatusCreated)

	cancelled := suite.patchBooking(created.Booking.ID, map[string]interface{}{
		"status": string(domain.AppointmentStatusCancelled),
	}, "", http.StatusOK)

	require.Equal(suite.T(), string(domain.AppointmentStatusCancelled), cancelled.Booking.Status)

	fetched := suite.getBooking(created.Booking.ID, http.StatusOK)
	require.Equal(suite.T(), string(domain.AppointmentStatusCancelled), fetched.Booking.Status)
}

func (suite *BookingLifecycleTestSuite) TestIdempotentCreateReplay() {
	payload := map[string]interface{}{
		"start_at":         "2026-09-14T12:00:00Z",
		"duration_minutes": 60,
		"contact_email":    "walkin@example.com",
		"booking_type":     string(domain.BookingTypeConsultation),
	}

	first := suite.postBooking(payload, "idem-key-1", http.StatusCreated)
	second := suite.postBooking(payload, "idem-key-1", http.StatusCreated)

	// Повтор с тем же ключом отдаёт кэшированный ответ без второй брони
	require.Equal(suite.T(), first.Booking.ID, second.Booking.ID)
	require.Equal(suite.T(), 1, suite.provider.CreateCalls)

	// Тот же ключ с другим телом — конфликт
	payload["note"] = "different body"
	conflict := suite.postBooking(payload, "idem-key-1", http.StatusConflict)
	require.NotEmpty(suite.T(), conflict.Error)
}

func (suite *BookingLifecycleTestSuite) TestValidationAndNotFound() {
	// Неизвестный клиент — 404, провайдер не вызывался
	resp := suite.postBooking(map[string]interface{}{
		"start_at":         "2026-09-14T12:00:00Z",
		"duration_minutes": 60,
		"customer_id":      "no-such-customer",
		"booking_type":     string(domain.BookingTypeConsultation),
	}, "", http.StatusNotFound)
	require.NotEmpty(suite.T(), resp.Error)
	require.Equal(suite.T(), 0, suite.provider.CreateCalls)

	// Длительность не кратна 30 минутам — 400
	resp = suite.postBooking(map[string]interface{}{
		"start_at":         "2026-09-14T12:00:00Z",
		"duration_minutes": 45,
		"contact_email":    "walkin@example.com",
		"booking_type":     string(domain.BookingTypeConsultation),
	}, "", http.StatusBadRequest)
	require.NotEmpty(suite.T(), resp.Error)

	// Отказы фиксируются в аудите как booking_failed
	require.Len(suite.T(), suite.audits.ByAction(domain.AuditBookingFailed), 2)

	// Чтение несуществующей записи — 404
	suite.getBooking("missing-booking", http.StatusNotFound)
}

// Вспомогательные методы

func (suite *BookingLifecycleTestSuite) postBooking(payload map[string]interface{}, idempotencyKey string, wantStatus int) bookingEnvelope {
	return suite.doJSON(http.MethodPost, "/v1/bookings", payload, idempotencyKey, wantStatus)
}

func (suite *BookingLifecycleTestSuite) patchBooking(id string, payload map[string]interface{}, idempotencyKey string, wantStatus int) bookingEnvelope {
	return suite.doJSON(http.MethodPatch, "/v1/bookings/"+id, payload, idempotencyKey, wantStatus)
}

func (suite *BookingLifecycleTestSuite) getBooking(id string, wantStatus int) bookingEnvelope {
	return suite.doJSON(http.MethodGet, "/v1/bookings/"+id, nil, "", wantStatus)
}

func (suite *BookingLifecycleTestSuite) doJSON(method, path string, payload map[string]interface{}, idempotencyKey string, wantStatus int) bookingEnvelope {
	var body bytes.Buffer
	if payload != nil {
		require.NoError(suite.T(), json.NewEncoder(&body).Encode(payload))
	}

	req, err := http.NewRequest(method, suite.server.URL+path, &body)
	require.NoError(suite.T(), err)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := suite.client.Do(req)
	require.NoError(suite.T(), err)
	defer func() { _ = resp.Body.Close() }()

	var envelope bookingEnvelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&envelope)
	require.Equal(suite.T(), wantStatus, resp.StatusCode, fmt.Sprintf("%s %s: %v", method, path, decodeErr))
	require.NoError(suite.T(), decodeErr)

	return envelope
}

func (suite *BookingLifecycleTestSuite) auditActions(resourceID string) []string {
	entries, err := suite.audits.List(resourceID)
	require.NoError(suite.T(), err)

	actions := make([]string, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

func TestBookingLifecycle(t *testing.T) {
	suite.Run(t, new(BookingLifecycleTestSuite))
}
