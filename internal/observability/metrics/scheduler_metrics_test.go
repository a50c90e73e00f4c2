package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/instructorledger/internal/authorization"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestSchedulerErrorClassification(t *testing.T) {
	cases := map[string]struct {
		err       error
		reason    string
		retryable bool
	}{
		"deadline":           {context.DeadlineExceeded, SchedulerJobReasonDeadlineExceeded, true},
		"forbidden":          {authorization.ErrForbidden, SchedulerJobReasonForbidden, false},
		"lock timeout":       {&pgconn.PgError{Code: pgLockNotAvailable}, SchedulerJobReasonDBLockTimeout, true},
		"serialization":      {fmt.Errorf("settle: %w", &pgconn.PgError{Code: pgSerializationFailure}), SchedulerJobReasonSerializationFailure, true},
		"duplicate payout":   {gorm.ErrDuplicatedKey, SchedulerJobReasonUniqueViolation, false},
		"missing obligation": {gorm.ErrRecordNotFound, SchedulerJobReasonUnknown, false},
		"anything else":      {errors.New("boom"), SchedulerJobReasonUnknown, false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.reason, ClassifySchedulerJobReason(tc.err))
			assert.Equal(t, tc.retryable, IsSchedulerErrorRetryable(tc.err))
		})
	}
}

func TestSchedulerCountersAndHistograms(t *testing.T) {
	m := newSchedulerMetrics(prometheus.NewRegistry(), Config{ServiceName: "instructorledger", Environment: "test"})

	m.AddBatchProcessed("overdue_sweep", "obligations", 3)
	m.AddBatchProcessed("overdue_sweep", "obligations", 0)
	m.IncBatchDeferred("event_dispatch", "skip_locked_empty")
	m.IncJobError("reminders", &pgconn.PgError{Code: pgSerializationFailure})
	m.IncJobError("reminders", nil)
	m.ObserveDBLockWait(LockResourceObligationsForSettle, 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.batchProcessed.WithLabelValues("overdue_sweep", "obligations")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchDeferred.WithLabelValues("event_dispatch", "skip_locked_empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobErrors.WithLabelValues("reminders", SchedulerJobReasonSerializationFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobErrorTypes.WithLabelValues("reminders", SchedulerErrorTypeDB)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.dbLockWait))
}

func TestSchedulerMetricsReuseRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := newSchedulerMetrics(registry, Config{Environment: "test"})
	first.IncLockSkipped()

	var second *SchedulerMetrics
	assert.NotPanics(t, func() {
		second = newSchedulerMetrics(registry, Config{Environment: "test"})
	})
	second.IncLockSkipped()

	assert.Equal(t, 2.0, testutil.ToFloat64(first.lockSkipped))
}

func TestNilSchedulerMetricsIsNoop(t *testing.T) {
	var m *SchedulerMetrics
	assert.NotPanics(t, func() {
		m.IncJobRun("x")
		m.IncJobError("x", errors.New("boom"))
		m.IncLockSkipped()
		m.ObserveRunLoopLag(-1)
		m.ObserveDBLockWait(LockResourceEventsForDispatch, 0)
	})
}
