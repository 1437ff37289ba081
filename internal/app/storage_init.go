package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/inkwellstudio/bms/internal/domain"
	healthcheck "github.com/inkwellstudio/bms/internal/health"
	"github.com/inkwellstudio/bms/internal/storage/memory"
	"github.com/inkwellstudio/bms/internal/storage/postgres"
)

// runtimeDependencies — хранилище-зависимые компоненты, выбранные по конфигу.
type runtimeDependencies struct {
	appointments    domain.AppointmentRepository
	customers       domain.CustomerRepository
	tattooRequests  domain.TattooRequestRepository
	audits          domain.AuditRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

// initRuntimeDependencies создаёт репозитории согласно StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		return runtimeDependencies{
			appointments:    memory.NewAppointmentRepository(),
			customers:       memory.NewCustomerRepository(),
			tattooRequests:  memory.NewTattooRequestRepository(),
			audits:          memory.NewAuditRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return runtimeDependencies{}, fmt.Errorf("postgres storage driver requires PostgresDSN")
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return runtimeDependencies{}, fmt.Errorf("open postgres store: %w", err)
		}

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		checker := healthcheck.NewSimpleChecker("postgres", func() error {
			return store.Ping(context.Background())
		})

		return runtimeDependencies{
			appointments:    postgres.NewAppointmentRepository(store),
			customers:       postgres.NewCustomerRepository(store),
			tattooRequests:  postgres.NewTattooRequestRepository(store),
			audits:          postgres.NewAuditRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker:  checker,
			closeFn:         store.Close,
		}, nil

	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
