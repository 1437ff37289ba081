package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/inkwellstudio/bms/internal/health"
	"github.com/inkwellstudio/bms/internal/messaging/kafka"
	"github.com/inkwellstudio/bms/internal/service/booking"
	"github.com/inkwellstudio/bms/internal/service/httpapi"
	idemsvc "github.com/inkwellstudio/bms/internal/service/idempotency"
	"github.com/inkwellstudio/bms/internal/service/outbox"
	"github.com/inkwellstudio/bms/internal/service/reconcile"
	"github.com/inkwellstudio/bms/internal/version"
)

// Run собирает и запускает сервис бронирования: HTTP API, сервер метрик
// и health-проб, фоновые воркеры (outbox, idempotency cleanup, reconcile)
// и опциональный Kafka producer. Блокируется до отмены ctx или фатальной
// ошибки сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	provider := buildProvider(cfg, logger)
	keys := booking.NewUUIDKeyGenerator()
	orchestrator := createOrchestrator(deps, provider, keys, logger, cfg)

	// Kafka опционален: без брокеров outbox-воркер не стартует, события
	// остаются pending до появления брокера.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)

	apiServer := httpapi.NewServer(
		orchestrator,
		deps.appointments,
		deps.audits,
		deps.idempotencyRepo,
		logger.WithField("layer", "http"),
	)

	v, _, _ := version.Info()
	healthHandler := healthcheck.NewHandler(v)
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workerWG sync.WaitGroup

	if kafkaProducer != nil {
		publisher := kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicBookingEvents)
		dlqPublisher := kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)
		outboxWorker := outbox.NewWorker(deps.outboxRepo, publisher,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(dlqPublisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			outboxWorker.Run(workerCtx)
		}()
	}

	cleanupWorker := idemsvc.NewCleanupWorker(deps.idempotencyRepo,
		idemsvc.WithLogger(logger.WithField("component", "idempotency-cleanup-worker")),
		idemsvc.WithInterval(cfg.IdempotencyCleanupInterval),
		idemsvc.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		cleanupWorker.Run(workerCtx)
	}()

	reconcileWorker := reconcile.NewWorker(deps.appointments, deps.customers, provider, deps.audits, keys,
		reconcile.WithLogger(logger.WithField("component", "reconcile-worker")),
		reconcile.WithInterval(cfg.ReconcileInterval),
		reconcile.WithBatchSize(cfg.ReconcileBatchSize),
		reconcile.WithLocationID(cfg.LocationID),
		reconcile.WithProviderTimeout(cfg.ProviderTimeout),
	)
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		reconcileWorker.Run(workerCtx)
	}()

	workersDone := make(chan struct{})
	go func() {
		workerWG.Wait()
		close(workersDone)
	}()

	cleanup := func() {
		stopWorkers()
		waitWorkers(workersDone, logger)
		shutdownHTTP(metricsSrv, logger)
		closeKafkaProducer(kafkaProducer, logger)
		if deps.closeFn != nil {
			if err := deps.closeFn(); err != nil {
				logger.WithError(err).Warn("failed to close storage")
			}
		}
	}

	lis, err := net.Listen("tcp", cfg.APIAddr)
	if err != nil {
		cleanup()
		return err
	}

	srv := &http.Server{Handler: apiServer.Routes()}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("booking API listening on %s", lis.Addr())
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping booking API server")
		shutdownHTTP(srv, logger)
		cleanup()
		return ctx.Err()
	case err := <-errCh:
		cleanup()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
