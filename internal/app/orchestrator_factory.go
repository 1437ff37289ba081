package app

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/inkwellstudio/bms/internal/domain"
	"github.com/inkwellstudio/bms/internal/service/booking"
	"github.com/inkwellstudio/bms/internal/service/scheduling"
)

const (
	providerBreakerMaxFailures  = 5
	providerBreakerResetTimeout = 30 * time.Second
)

// buildProvider выбирает клиента провайдера расписаний: HTTP-клиент при
// заданном ProviderBaseURL, иначе mock для dev/demo. Оба оборачиваются
// в circuit breaker.
func buildProvider(cfg Config, logger *log.Entry) domain.ExternalSchedulingClient {
	var client domain.ExternalSchedulingClient
	if cfg.ProviderBaseURL != "" {
		client = scheduling.NewClient(scheduling.Config{
			BaseURL: cfg.ProviderBaseURL,
			Token:   cfg.ProviderToken,
			Timeout: cfg.ProviderTimeout,
		}, logger.WithField("component", "scheduling-client"))
		logger.WithField("base_url", cfg.ProviderBaseURL).Info("external scheduling client initialized")
	} else {
		client = scheduling.NewMockClient()
		logger.Info("no provider base url configured, using mock scheduling client")
	}

	breaker := scheduling.NewCircuitBreaker(
		providerBreakerMaxFailures,
		providerBreakerResetTimeout,
		logger.WithField("component", "scheduling-breaker"),
	)
	return scheduling.NewBreakerClient(client, breaker)
}

// createOrchestrator собирает booking orchestrator из готовых зависимостей.
func createOrchestrator(
	deps runtimeDependencies,
	provider domain.ExternalSchedulingClient,
	keys domain.KeyGenerator,
	logger *log.Entry,
	cfg Config,
) booking.Orchestrator {
	return booking.NewOrchestrator(
		deps.appointments,
		deps.customers,
		deps.tattooRequests,
		deps.audits,
		deps.outboxRepo,
		provider,
		keys,
		logger.WithField("layer", "booking"),
		booking.Options{
			LocationID:      cfg.LocationID,
			ProviderTimeout: cfg.ProviderTimeout,
		},
	)
}
