package app

import (
	"time"
)

// StorageDriver выбирает реализацию хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	// APIAddr — адрес HTTP API бронирования.
	APIAddr string
	// MetricsAddr — адрес HTTP-сервера метрик и health-проб.
	MetricsAddr string

	// StorageDriver: memory или postgres.
	StorageDriver string
	// PostgresDSN обязателен при StorageDriver=postgres.
	PostgresDSN string
	// PostgresAutoMigrate применяет миграции при старте.
	PostgresAutoMigrate bool

	// KafkaBrokers — список брокеров через запятую; пусто = без Kafka.
	KafkaBrokers string

	// ProviderBaseURL — корень API внешнего провайдера расписаний;
	// пусто = mock-провайдер (dev/demo).
	ProviderBaseURL string
	// ProviderToken — bearer-токен провайдера.
	ProviderToken string
	// ProviderTimeout ограничивает каждый вызов провайдера.
	ProviderTimeout time.Duration
	// LocationID — идентификатор студии на стороне провайдера.
	LocationID string

	// Настройки outbox worker.
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	// Настройки очистки idempotency-ключей.
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	// Настройки фонового ресинка внешних зеркал.
	ReconcileInterval  time.Duration
	ReconcileBatchSize int
}

// DefaultConfig возвращает базовую конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		APIAddr:                     ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		ProviderTimeout:             5 * time.Second,
		LocationID:                  "studio-main",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            100 * time.Millisecond,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		ReconcileInterval:           30 * time.Second,
		ReconcileBatchSize:          50,
	}
}
