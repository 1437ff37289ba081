package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/inkwellstudio/bms/internal/app"
)

// Переменные окружения, переопределяющие конфигурацию по умолчанию.
const (
	envAPIAddr                     = "BMS_API_ADDR"
	envMetricsAddr                 = "BMS_METRICS_ADDR"
	envStorageDriver               = "BMS_STORAGE_DRIVER"
	envPostgresDSN                 = "BMS_POSTGRES_DSN"
	envPostgresAutoMigrate         = "BMS_POSTGRES_AUTO_MIGRATE"
	envKafkaBrokers                = "BMS_KAFKA_BROKERS"
	envProviderBaseURL             = "BMS_PROVIDER_BASE_URL"
	envProviderToken               = "BMS_PROVIDER_TOKEN"
	envProviderTimeout             = "BMS_PROVIDER_TIMEOUT"
	envLocationID                  = "BMS_LOCATION_ID"
	envOutboxPollInterval          = "BMS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "BMS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "BMS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "BMS_OUTBOX_RETRY_DELAY"
	envIdempotencyCleanupInterval  = "BMS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "BMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envReconcileInterval           = "BMS_RECONCILE_INTERVAL"
	envReconcileBatchSize          = "BMS_RECONCILE_BATCH_SIZE"
)

// envLookup абстрагирует os.LookupEnv для тестов.
type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

// readConfigFromEnv формирует конфигурацию приложения из переменных
// окружения. Невалидные значения не роняют сервис: поле остаётся
// со значением по умолчанию, а предупреждение возвращается вызывающему.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	readString(lookup, envAPIAddr, &cfg.APIAddr)
	readString(lookup, envMetricsAddr, &cfg.MetricsAddr)
	readString(lookup, envPostgresDSN, &cfg.PostgresDSN)
	readString(lookup, envKafkaBrokers, &cfg.KafkaBrokers)
	readString(lookup, envProviderBaseURL, &cfg.ProviderBaseURL)
	readString(lookup, envProviderToken, &cfg.ProviderToken)
	readString(lookup, envLocationID, &cfg.LocationID)

	if raw, ok := lookup(envStorageDriver); ok {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(raw))
	}

	if raw, ok := lookup(envPostgresAutoMigrate); ok {
		value, err := parseBool(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envPostgresAutoMigrate, err))
		} else {
			cfg.PostgresAutoMigrate = value
		}
	}

	positiveInt := func(v int) bool { return v > 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	readDuration(lookup, envProviderTimeout, &cfg.ProviderTimeout, positiveDuration, "must be > 0", &warnings)
	readDuration(lookup, envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0", &warnings)
	readInt(lookup, envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0", &warnings)
	readInt(lookup, envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0", &warnings)
	readDuration(lookup, envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0", &warnings)
	readDuration(lookup, envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0", &warnings)
	readInt(lookup, envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0", &warnings)
	readDuration(lookup, envReconcileInterval, &cfg.ReconcileInterval, positiveDuration, "must be > 0", &warnings)
	readInt(lookup, envReconcileBatchSize, &cfg.ReconcileBatchSize, positiveInt, "must be > 0", &warnings)

	return cfg, warnings
}

func readString(lookup envLookup, key string, target *string) {
	if raw, ok := lookup(key); ok {
		*target = strings.TrimSpace(raw)
	}
}

func readInt(lookup envLookup, key string, target *int, valid func(int) bool, rule string, warnings *[]string) {
	raw, ok := lookup(key)
	if !ok {
		return
	}
	value, err := parseInt(raw, valid, rule)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("%s: %v", key, err))
		return
	}
	*target = value
}

func readDuration(lookup envLookup, key string, target *time.Duration, valid func(time.Duration) bool, rule string, warnings *[]string) {
	raw, ok := lookup(key)
	if !ok {
		return
	}
	value, err := parseDuration(raw, valid, rule)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("%s: %v", key, err))
		return
	}
	*target = value
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

func main() {
	setupLogger()

	// .env опционален: локальная разработка без него не ломается.
	_ = godotenv.Load()

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warnf("конфигурация: %s", warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"api_addr":       cfg.APIAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
	}).Info("запускаем BookingService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("BookingService остановлен")
}
