package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/inkwellstudio/bms/internal/domain"
	"github.com/inkwellstudio/bms/internal/service/booking"
	"github.com/inkwellstudio/bms/internal/service/scheduling"
	"github.com/inkwellstudio/bms/internal/storage/memory"
)

// Dependencies содержит все зависимости приложения для dev/demo запуска.
type Dependencies struct {
	Appointments    domain.AppointmentRepository
	Customers       domain.CustomerRepository
	TattooRequests  domain.TattooRequestRepository
	Audits          domain.AuditRepository
	OutboxRepo      domain.OutboxRepository
	IdempotencyRepo domain.IdempotencyRepository
	Provider        domain.ExternalSchedulingClient
	Keys            domain.KeyGenerator
	Logger          *log.Entry
}

// NewDependencies создаёт in-memory зависимости с mock-провайдером.
// NOTE: в production окружении провайдер заменяется на HTTP-клиент
// реального scheduling API, а хранилище — на postgres.
func NewDependencies(logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	return &Dependencies{
		Appointments:    memory.NewAppointmentRepository(),
		Customers:       memory.NewCustomerRepository(),
		TattooRequests:  memory.NewTattooRequestRepository(),
		Audits:          memory.NewAuditRepository(),
		OutboxRepo:      memory.NewOutboxRepository(),
		IdempotencyRepo: memory.NewIdempotencyRepository(),
		Provider:        scheduling.NewMockClient(),
		Keys:            booking.NewUUIDKeyGenerator(),
		Logger:          logger,
	}
}
