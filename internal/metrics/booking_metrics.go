package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics содержит метрики операций бронирования.
type BookingMetrics struct {
	// Счётчики операций
	bookingsCreated prometheus.Counter
	bookingsUpdated prometheus.Counter
	bookingsFailed  prometheus.Counter

	// Счётчики внешней синхронизации
	externalSyncFailures prometheus.Counter
	externalSynced       prometheus.Counter

	// Гистограммы времени выполнения
	bookingDuration      prometheus.Histogram
	externalCallDuration *prometheus.HistogramVec

	// Счётчики сопутствующих событий
	auditEvents  prometheus.Counter
	outboxEvents prometheus.Counter

	// Текущее число операций в обработке
	bookingsInFlight prometheus.Gauge
}

// NewBookingMetrics создаёт новый экземпляр метрик бронирования.
func NewBookingMetrics() *BookingMetrics {
	return newBookingMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newBookingMetricsWithRegisterer(registerer prometheus.Registerer) *BookingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &BookingMetrics{
		bookingsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_bookings_created_total",
			Help: "Total number of bookings created locally",
		}),
		bookingsUpdated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_bookings_updated_total",
			Help: "Total number of bookings updated locally",
		}),
		bookingsFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_bookings_failed_total",
			Help: "Total number of booking operations that failed",
		}),
		externalSyncFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_external_sync_failures_total",
			Help: "Total number of failed external scheduling provider calls",
		}),
		externalSynced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_external_synced_total",
			Help: "Total number of appointments mirrored to the scheduling provider",
		}),
		bookingDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "bms_booking_duration_seconds",
			Help:    "Duration of booking operations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		externalCallDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "bms_external_call_duration_seconds",
			Help:    "Duration of external scheduling provider calls in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		auditEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_audit_events_total",
			Help: "Total number of audit entries recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "bms_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		bookingsInFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "bms_bookings_in_flight",
			Help: "Number of booking operations currently being processed",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordBookingCreated увеличивает счётчик созданных записей.
func (m *BookingMetrics) RecordBookingCreated() {
	m.bookingsCreated.Inc()
}

// RecordBookingUpdated увеличивает счётчик обновлённых записей.
func (m *BookingMetrics) RecordBookingUpdated() {
	m.bookingsUpdated.Inc()
}

// RecordBookingFailed увеличивает счётчик неудачных операций.
func (m *BookingMetrics) RecordBookingFailed() {
	m.bookingsFailed.Inc()
}

// RecordExternalSyncFailure увеличивает счётчик ошибок провайдера.
func (m *BookingMetrics) RecordExternalSyncFailure() {
	m.externalSyncFailures.Inc()
}

// RecordExternalSynced увеличивает счётчик успешных зеркалирований.
func (m *BookingMetrics) RecordExternalSynced() {
	m.externalSynced.Inc()
}

// RecordBookingDuration записывает время выполнения операции бронирования.
func (m *BookingMetrics) RecordBookingDuration(duration time.Duration) {
	m.bookingDuration.Observe(duration.Seconds())
}

// RecordExternalCallDuration записывает время вызова провайдера.
func (m *BookingMetrics) RecordExternalCallDuration(operation string, duration time.Duration) {
	m.externalCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAuditEvent увеличивает счётчик записей аудита.
func (m *BookingMetrics) RecordAuditEvent() {
	m.auditEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *BookingMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordBookingInFlightStarted отмечает начало обработки операции.
func (m *BookingMetrics) RecordBookingInFlightStarted() {
	m.bookingsInFlight.Inc()
}

// RecordBookingInFlightFinished отмечает завершение обработки операции.
func (m *BookingMetrics) RecordBookingInFlightFinished() {
	m.bookingsInFlight.Dec()
}
