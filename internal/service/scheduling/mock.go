package scheduling

import (
	"context"
	"sync"

	"github.com/inkwellstudio/bms/internal/domain"
)

// MockClient — конфигурируемая заглушка ExternalSchedulingClient для тестов
// и локальной разработки без доступа к провайдеру.
type MockClient struct {
	mu sync.Mutex

	CreateResult domain.ExternalBooking
	CreateErr    error
	GetResult    domain.ExternalBooking
	GetErr       error
	UpdateResult domain.ExternalBooking
	UpdateErr    error
	CancelResult domain.ExternalBooking
	CancelErr    error

	CreateCalls int
	GetCalls    int
	UpdateCalls int
	CancelCalls int

	LastRequest domain.ReservationRequest
	LastChanges domain.BookingChanges
}

// NewMockClient возвращает mock с успешным сценарием по умолчанию.
func NewMockClient() *MockClient {
	return &MockClient{
		CreateResult: domain.ExternalBooking{ID: "mock-booking-1", Status: "ACCEPTED"},
		GetResult:    domain.ExternalBooking{ID: "mock-booking-1", Status: "ACCEPTED"},
		UpdateResult: domain.ExternalBooking{ID: "mock-booking-2", Status: "ACCEPTED"},
		CancelResult: domain.ExternalBooking{ID: "mock-booking-1", Status: "CANCELLED_BY_SELLER"},
	}
}

// Create возвращает заранее настроенный результат и считает вызовы.
func (m *MockClient) Create(_ context.Context, req domain.ReservationRequest) (domain.ExternalBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	m.LastRequest = req
	return m.CreateResult, m.CreateErr
}

// Get возвращает настроенный результат и считает вызовы.
func (m *MockClient) Get(_ context.Context, externalID string) (domain.ExternalBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	return m.GetResult, m.GetErr
}

// Update возвращает настроенный результат и считает вызовы.
func (m *MockClient) Update(_ context.Context, externalID string, changes domain.BookingChanges, idempotencyKey string) (domain.ExternalBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	m.LastChanges = changes
	return m.UpdateResult, m.UpdateErr
}

// Cancel возвращает настроенный результат и считает вызовы.
func (m *MockClient) Cancel(_ context.Context, externalID string) (domain.ExternalBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelCalls++
	return m.CancelResult, m.CancelErr
}

var _ domain.ExternalSchedulingClient = (*MockClient)(nil)
