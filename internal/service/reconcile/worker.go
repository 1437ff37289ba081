package reconcile

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/inkwellstudio/bms/internal/domain"
)

const (
	defaultInterval        = 5 * time.Minute
	defaultBatchSize       = 50
	defaultProviderTimeout = 5 * time.Second
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_reconcile_runs_total",
		Help: "Total number of reconcile cycles grouped by result.",
	}, []string{"result"})
	syncedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bms_reconcile_synced_total",
		Help: "Total number of appointments mirrored by the reconcile worker.",
	})
	backlogGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bms_reconcile_backlog",
		Help: "Number of unmirrored appointments observed during the last cycle.",
	})
)

// WorkerOptions задаёт параметры reconcile worker.
type WorkerOptions struct {
	Logger          *log.Entry
	Interval        time.Duration
	BatchSize       int
	LocationID      string
	ProviderTimeout time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между циклами ресинка.
func WithInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт число записей, обрабатываемых за цикл.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithLocationID задаёт идентификатор студии на стороне провайдера.
func WithLocationID(locationID string) Option {
	return func(opts *WorkerOptions) {
		opts.LocationID = locationID
	}
}

// WithProviderTimeout ограничивает каждый вызов провайдера.
func WithProviderTimeout(timeout time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.ProviderTimeout = timeout
	}
}

// Worker закрывает разрыв синхронизации: периодически находит не отменённые
// записи без внешнего зеркала и повторяет для них попытку брони у провайдера.
// Ошибки провайдера не фатальны: запись остаётся кандидатом на следующий цикл.
type Worker struct {
	appointments    domain.AppointmentRepository
	customers       domain.CustomerRepository
	provider        domain.ExternalSchedulingClient
	audits          domain.AuditRepository
	keys            domain.KeyGenerator
	logger          *log.Entry
	interval        time.Duration
	batchSize       int
	locationID      string
	providerTimeout time.Duration
}

// NewWorker создаёт reconcile worker.
func NewWorker(
	appointments domain.AppointmentRepository,
	customers domain.CustomerRepository,
	provider domain.ExternalSchedulingClient,
	audits domain.AuditRepository,
	keys domain.KeyGenerator,
	options ...Option,
) *Worker {
	opts := WorkerOptions{
		Interval:        defaultInterval,
		BatchSize:       defaultBatchSize,
		ProviderTimeout: defaultProviderTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reconcile-worker")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}

	return &Worker{
		appointments:    appointments,
		customers:       customers,
		provider:        provider,
		audits:          audits,
		keys:            keys,
		logger:          logger,
		interval:        opts.Interval,
		batchSize:       opts.BatchSize,
		locationID:      opts.LocationID,
		providerTimeout: opts.ProviderTimeout,
	}
}

// Run запускает периодический ресинк до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.appointments == nil || w.provider == nil {
		w.logger.Warn("reconcile worker is disabled: repo or provider is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл ресинка и возвращает число зеркалированных записей.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	candidates, err := w.appointments.ListUnmirrored(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to list unmirrored appointments")
		runsTotal.WithLabelValues("error").Inc()
		return 0
	}
	backlogGauge.Set(float64(len(candidates)))
	if len(candidates) == 0 {
		runsTotal.WithLabelValues("ok").Inc()
		return 0
	}

	synced := 0
	for _, appt := range candidates {
		if ctx.Err() != nil {
			break
		}
		if w.mirror(ctx, appt) {
			synced++
		}
	}

	runsTotal.WithLabelValues("ok").Inc()
	if synced > 0 {
		syncedTotal.Add(float64(synced))
		w.logger.WithFields(log.Fields{
			"synced":     synced,
			"candidates": len(candidates),
		}).Info("reconcile cycle completed")
	}
	return synced
}

func (w *Worker) mirror(ctx context.Context, appt domain.Appointment) bool {
	req := domain.ReservationRequest{
		StartAt:         appt.StartTime,
		DurationMinutes: appt.Duration,
		LocationID:      w.locationID,
		StaffID:         appt.ArtistID,
		IdempotencyKey:  w.keys.NewKey(),
		Note:            string(appt.Type),
	}
	if appt.CustomerID != "" && w.customers != nil {
		if c, err := w.customers.Get(appt.CustomerID); err == nil {
			req.CustomerID = c.ExternalProviderID
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, w.providerTimeout)
	ext, err := w.provider.Create(callCtx, req)
	cancel()
	if err != nil {
		w.logger.WithError(err).WithField("appointment_id", appt.ID).Warn("mirror attempt failed")
		w.appendAudit(domain.NewAuditEntry(domain.AuditExternalBookingFailed, appt.ID, map[string]interface{}{
			"error": err.Error(),
		}))
		return false
	}

	appt.ExternalReferenceID = ext.ID
	if err := w.appointments.Save(appt); err != nil {
		if domain.IsVersionConflict(err) {
			// Конкурирующее обновление: уступаем, следующий цикл разберётся.
			w.logger.WithField("appointment_id", appt.ID).Debug("version conflict during mirror, skipping")
			return false
		}
		w.logger.WithError(err).WithField("appointment_id", appt.ID).Error("failed to save mirrored reference")
		return false
	}

	w.appendAudit(domain.NewAuditEntry(domain.AuditExternalBookingSynced, appt.ID, map[string]interface{}{
		"external_reference_id": ext.ID,
	}))
	return true
}

func (w *Worker) appendAudit(entry domain.AuditEntry) {
	if w.audits == nil {
		return
	}
	if err := w.audits.Append(entry); err != nil {
		w.logger.WithError(err).WithField("resource_id", entry.ResourceID).Warn("append audit entry failed")
	}
}
