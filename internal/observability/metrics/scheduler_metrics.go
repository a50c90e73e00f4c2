package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/instructorledger/internal/authorization"
	"gorm.io/gorm"
)

// Error classes used as the error_type label and in job finish logs.
const (
	SchedulerErrorTypeDeadlineExceeded = "deadline_exceeded"
	SchedulerErrorTypeAuthorization    = "authorization"
	SchedulerErrorTypeBusinessRule     = "business_rule"
	SchedulerErrorTypeDB               = "db"
	SchedulerErrorTypeUnknown          = "unknown"
)

// Reasons used as the reason label of job errors.
const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonForbidden            = "forbidden"
	SchedulerJobReasonUnknown              = "unknown"

	SchedulerBatchDeferredReasonSkipLockedEmpty = "skip_locked_empty"
	SchedulerBatchDeferredReasonVersionConflict = "version_conflict"
)

// Row sets claimed with SELECT ... FOR UPDATE.
const (
	LockResourceObligationsForOverdue   = "obligations_for_overdue"
	LockResourceObligationsForReminders = "obligations_for_reminders"
	LockResourceObligationsForSettle    = "obligations_for_settlement"
	LockResourceEventsForDispatch       = "ledger_events_for_dispatch"
)

const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"
)

var (
	latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
	lockBuckets    = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
)

// SchedulerMetrics tracks ledger job health on the prometheus registry served
// at /metrics. A nil receiver is a no-op.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	jobErrorTypes  *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	batchDeferred  *prometheus.CounterVec
	runLoopLag     prometheus.Histogram
	lockSkipped    prometheus.Counter
	dbLockWait     *prometheus.HistogramVec
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the process-wide scheduler metrics.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig registers the scheduler metrics on first use, labelled
// with cfg's service and environment. Later calls return the same instance.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{
		"service": orDefault(cfg.ServiceName, "instructorledger"),
		"env":     orDefault(cfg.Environment, "unknown"),
	}
	counter := func(name, help string, dims ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_scheduler_" + name, Help: help, ConstLabels: labels,
		}, dims)
	}
	histogram := func(name, help string, buckets []float64, dims ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "ledger_scheduler_" + name, Help: help, Buckets: buckets, ConstLabels: labels,
		}, dims)
	}

	m := &SchedulerMetrics{
		jobRuns:        counter("job_runs_total", "Scheduler job runs by name.", "job"),
		jobDuration:    histogram("job_duration_seconds", "Scheduler job latency.", latencyBuckets, "job"),
		jobTimeouts:    counter("job_timeouts_total", "Scheduler jobs that hit their deadline.", "job"),
		jobErrors:      counter("job_errors_total", "Scheduler job errors by reason.", "job", "reason"),
		jobErrorTypes:  counter("job_error_types_total", "Scheduler job errors by class.", "job", "error_type"),
		batchProcessed: counter("batch_processed_total", "Obligations and events handled by scheduler jobs.", "job", "resource"),
		batchDeferred:  counter("batch_deferred_total", "Batches left for the next run, by reason.", "job", "reason"),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "ledger_scheduler_runloop_lag_seconds",
			Help:        "Run loop lag beyond the configured interval.",
			Buckets:     latencyBuckets,
			ConstLabels: labels,
		}),
		lockSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ledger_scheduler_lock_skipped_total",
			Help:        "Runs skipped because another replica holds the run lock.",
			ConstLabels: labels,
		}),
		dbLockWait: histogram("db_lock_wait_seconds", "Time spent claiming rows with SELECT FOR UPDATE.", lockBuckets, "resource"),
	}
	m.jobRuns = register(registerer, m.jobRuns)
	m.jobDuration = register(registerer, m.jobDuration)
	m.jobTimeouts = register(registerer, m.jobTimeouts)
	m.jobErrors = register(registerer, m.jobErrors)
	m.jobErrorTypes = register(registerer, m.jobErrorTypes)
	m.batchProcessed = register(registerer, m.batchProcessed)
	m.batchDeferred = register(registerer, m.batchDeferred)
	m.runLoopLag = register(registerer, m.runLoopLag)
	m.lockSkipped = register(registerer, m.lockSkipped)
	m.dbLockWait = register(registerer, m.dbLockWait)
	return m
}

// register adds c to r, reusing an identical collector that is already
// registered so the singleton can be rebuilt after a reset.
func register[T prometheus.Collector](r prometheus.Registerer, c T) T {
	err := r.Register(c)
	if err == nil {
		return c
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing
		}
	}
	panic(err)
}

func orDefault(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError counts err under both its class and its reason.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrorTypes.WithLabelValues(job, ClassifySchedulerErrorType(err)).Inc()
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *SchedulerMetrics) IncBatchDeferred(job, reason string) {
	if m == nil {
		return
	}
	m.batchDeferred.WithLabelValues(job, reason).Inc()
}

// ObserveRunLoopLag records how late a tick started; negative lag counts as zero.
func (m *SchedulerMetrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(max(d, 0).Seconds())
}

func (m *SchedulerMetrics) IncLockSkipped() {
	if m == nil {
		return
	}
	m.lockSkipped.Inc()
}

// ObserveDBLockWait records how long claiming resource's rows took.
func (m *SchedulerMetrics) ObserveDBLockWait(resource string, d time.Duration) {
	if m == nil {
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(d.Seconds())
}

// ClassifySchedulerErrorType returns the error class of a failed job.
func ClassifySchedulerErrorType(err error) string {
	switch {
	case err == nil:
		return SchedulerErrorTypeUnknown
	case isCancellation(err):
		return SchedulerErrorTypeDeadlineExceeded
	case isAuthorizationError(err):
		return SchedulerErrorTypeAuthorization
	case isDBError(err):
		return SchedulerErrorTypeDB
	}
	return SchedulerErrorTypeBusinessRule
}

// ClassifySchedulerJobReason returns the reason label of a failed job.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case isCancellation(err):
		return SchedulerJobReasonDeadlineExceeded
	case isAuthorizationError(err):
		return SchedulerJobReasonForbidden
	case hasPGCode(err, pgLockNotAvailable):
		return SchedulerJobReasonDBLockTimeout
	case hasPGCode(err, pgSerializationFailure):
		return SchedulerJobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, pgUniqueViolation):
		return SchedulerJobReasonUniqueViolation
	}
	return SchedulerJobReasonUnknown
}

// IsSchedulerErrorRetryable is true for timeouts and database failures other
// than unique violations. Business rule and authorization errors are not.
func IsSchedulerErrorRetryable(err error) bool {
	if err == nil || ClassifySchedulerJobReason(err) == SchedulerJobReasonUniqueViolation {
		return false
	}
	return isCancellation(err) || isDBError(err)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isAuthorizationError(err error) bool {
	return errors.Is(err, authorization.ErrForbidden) ||
		errors.Is(err, authorization.ErrInvalidActor) ||
		errors.Is(err, authorization.ErrInvalidObject) ||
		errors.Is(err, authorization.ErrInvalidAction)
}

var gormDBErrors = []error{
	gorm.ErrInvalidDB,
	gorm.ErrInvalidTransaction,
	gorm.ErrInvalidField,
	gorm.ErrInvalidData,
	gorm.ErrMissingWhereClause,
	gorm.ErrUnsupportedDriver,
	gorm.ErrInvalidValue,
	gorm.ErrNotImplemented,
	gorm.ErrDuplicatedKey,
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	for _, target := range gormDBErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
