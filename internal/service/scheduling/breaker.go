package scheduling

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/inkwellstudio/bms/internal/domain"
)

// CircuitState — состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker отсекает вызовы провайдера после серии ошибок, чтобы
// деградация провайдера не растягивала каждую операцию бронирования
// на полный таймаут.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
	logger      *log.Entry
}

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.New().WithField("component", "circuit-breaker")
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
		logger:       logger,
	}
}

// Execute выполняет операцию через circuit breaker. В открытом состоянии
// возвращает ErrExternalUnavailable, не вызывая fn.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
		} else {
			cb.mu.Unlock()
			return domain.ErrExternalUnavailable
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()

		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).Warn("circuit breaker opened")
		}
		return err
	}

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.failures = 0
	return nil
}

// State возвращает текущее состояние breaker'а.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerClient оборачивает ExternalSchedulingClient circuit breaker'ом.
type BreakerClient struct {
	client  domain.ExternalSchedulingClient
	breaker *CircuitBreaker
}

// NewBreakerClient создаёт клиент провайдера с circuit breaker защитой.
func NewBreakerClient(client domain.ExternalSchedulingClient, breaker *CircuitBreaker) *BreakerClient {
	return &BreakerClient{client: client, breaker: breaker}
}

func (b *BreakerClient) Create(ctx context.Context, req domain.ReservationRequest) (domain.ExternalBooking, error) {
	var result domain.ExternalBooking
	err := b.breaker.Execute("create", func() error {
		var callErr error
		result, callErr = b.client.Create(ctx, req)
		return callErr
	})
	return result, err
}

func (b *BreakerClient) Get(ctx context.Context, externalID string) (domain.ExternalBooking, error) {
	var result domain.ExternalBooking
	err := b.breaker.Execute("get", func() error {
		var callErr error
		result, callErr = b.client.Get(ctx, externalID)
		return callErr
	})
	return result, err
}

func (b *BreakerClient) Update(ctx context.Context, externalID string, changes domain.BookingChanges, idempotencyKey string) (domain.ExternalBooking, error) {
	var result domain.ExternalBooking
	err := b.breaker.Execute("update", func() error {
		var callErr error
		result, callErr = b.client.Update(ctx, externalID, changes, idempotencyKey)
		return callErr
	})
	return result, err
}

func (b *BreakerClient) Cancel(ctx context.Context, externalID string) (domain.ExternalBooking, error) {
	var result domain.ExternalBooking
	err := b.breaker.Execute("cancel", func() error {
		var callErr error
		result, callErr = b.client.Cancel(ctx, externalID)
		return callErr
	})
	return result, err
}

var _ domain.ExternalSchedulingClient = (*BreakerClient)(nil)
