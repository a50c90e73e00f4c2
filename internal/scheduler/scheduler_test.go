package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	billingperioddomain "github.com/smallbiznis/instructorledger/internal/billingperiod/domain"
	"github.com/smallbiznis/instructorledger/internal/clock"
	"github.com/smallbiznis/instructorledger/internal/config"
	eventdomain "github.com/smallbiznis/instructorledger/internal/events/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/instructorledger/internal/observability/metrics"
	reminderdomain "github.com/smallbiznis/instructorledger/internal/reminder/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLedger struct {
	ledgerdomain.Service
	calls *[]string
	now   []time.Time
	limit int
	moved int
	err   error
}

func (f *fakeLedger) MarkOverdue(_ context.Context, now time.Time, limit int) (int, error) {
	*f.calls = append(*f.calls, JobOverdueSweep)
	f.now = append(f.now, now)
	f.limit = limit
	return f.moved, f.err
}

type fakeBillingPeriod struct {
	calls    *[]string
	fees     []time.Time
	payouts  []time.Time
	feeFails int
}

func (f *fakeBillingPeriod) GenerateMonthlyFees(_ context.Context, periodStart time.Time) (billingperioddomain.GenerationResult, error) {
	*f.calls = append(*f.calls, JobMonthlyFees)
	f.fees = append(f.fees, periodStart)
	return billingperioddomain.GenerationResult{PeriodStart: periodStart, Created: 2, Failed: f.feeFails}, nil
}

func (f *fakeBillingPeriod) AccumulatePayouts(_ context.Context, periodStart time.Time) (billingperioddomain.PayoutResult, error) {
	*f.calls = append(*f.calls, JobInstructorPayouts)
	f.payouts = append(f.payouts, periodStart)
	return billingperioddomain.PayoutResult{PeriodStart: periodStart, Created: 1, Amount: 7200}, nil
}

type fakeReminder struct {
	reminderdomain.Service
	calls *[]string
	limit int
}

func (f *fakeReminder) Run(_ context.Context, _ time.Time, limit int) (reminderdomain.RunResult, error) {
	*f.calls = append(*f.calls, JobReminders)
	f.limit = limit
	return reminderdomain.RunResult{Scanned: 3, Advanced: 1}, nil
}

type fakeDispatcher struct {
	calls *[]string
	limit int
}

func (f *fakeDispatcher) DispatchPending(_ context.Context, limit int) (eventdomain.DispatchResult, error) {
	*f.calls = append(*f.calls, JobEventDispatch)
	f.limit = limit
	return eventdomain.DispatchResult{Delivered: 4}, nil
}

type denyAll struct{}

func (denyAll) Authorize(context.Context, string, string, string) error {
	return errors.New("forbidden")
}

type fixture struct {
	sched      *Scheduler
	clock      *clock.FakeClock
	calls      *[]string
	ledger     *fakeLedger
	period     *fakeBillingPeriod
	reminder   *fakeReminder
	dispatcher *fakeDispatcher
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	calls := &[]string{}
	f := fixture{
		clock:      clock.NewFakeClock(time.Date(2025, 2, 14, 9, 0, 0, 0, time.UTC)),
		calls:      calls,
		ledger:     &fakeLedger{calls: calls, moved: 2},
		period:     &fakeBillingPeriod{calls: calls},
		reminder:   &fakeReminder{calls: calls},
		dispatcher: &fakeDispatcher{calls: calls},
	}
	f.sched, err = New(Params{
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         f.clock,
		Policy:        config.NewStaticPolicyHolder(config.DefaultPolicy()),
		Ledger:        f.ledger,
		BillingPeriod: f.period,
		Reminder:      f.reminder,
		Dispatcher:    f.dispatcher,
		Config:        cfg,
	})
	require.NoError(t, err)
	return f
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceRunsJobsInOrder(t *testing.T) {
	f := newFixture(t, Config{})

	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.Equal(t, []string{JobMonthlyFees, JobInstructorPayouts, JobOverdueSweep, JobReminders, JobEventDispatch}, *f.calls)

	policy := config.DefaultPolicy()
	assert.Equal(t, policy.Batch.OverdueSweep, f.ledger.limit)
	assert.Equal(t, policy.Batch.Reminders, f.reminder.limit)
	assert.Equal(t, policy.Batch.Dispatch, f.dispatcher.limit)
	assert.Equal(t, []time.Time{f.clock.Now()}, f.ledger.now)

	// Zurich month starts are one hour before UTC midnight in winter.
	assert.Equal(t, []time.Time{time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC)}, f.period.fees)
	assert.Equal(t, []time.Time{time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)}, f.period.payouts)
}

func TestRunOnceRespectsEnabledJobs(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{"Overdue_Sweep", " reminders "}})

	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.Equal(t, []string{JobOverdueSweep, JobReminders}, *f.calls)
}

func TestPeriodJobsRunOncePerPeriod(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{JobMonthlyFees, JobInstructorPayouts}})
	ctx := context.Background()

	require.NoError(t, f.sched.RunOnce(ctx))
	f.clock.Advance(time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))
	assert.Len(t, f.period.fees, 1)
	assert.Len(t, f.period.payouts, 1)

	f.clock.Set(time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC))
	require.NoError(t, f.sched.RunOnce(ctx))
	require.Len(t, f.period.fees, 2)
	assert.Equal(t, time.Date(2025, 2, 28, 23, 0, 0, 0, time.UTC), f.period.fees[1])
	require.Len(t, f.period.payouts, 2)
	assert.Equal(t, time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC), f.period.payouts[1])
}

func TestMonthlyFeesRetriedAfterFailures(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{JobMonthlyFees}})
	f.period.feeFails = 1
	ctx := context.Background()

	require.NoError(t, f.sched.RunOnce(ctx))
	require.NoError(t, f.sched.RunOnce(ctx))
	assert.Len(t, f.period.fees, 2)

	f.period.feeFails = 0
	require.NoError(t, f.sched.RunOnce(ctx))
	require.NoError(t, f.sched.RunOnce(ctx))
	assert.Len(t, f.period.fees, 3)
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	f := newFixture(t, Config{})
	f.ledger.err = errors.New("db down")

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, f.ledger.err)
	assert.Contains(t, err.Error(), JobOverdueSweep)
	// later jobs still ran
	assert.Contains(t, *f.calls, JobEventDispatch)
}

func TestRunJobRequiresSystemAuthorization(t *testing.T) {
	f := newFixture(t, Config{})
	f.sched.authzSvc = denyAll{}

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, *f.calls)
}

func TestProvideConfigAppliesDefaults(t *testing.T) {
	cfg := ProvideConfig(config.Config{Scheduler: config.SchedulerConfig{RunInterval: 10 * time.Minute}})

	assert.Equal(t, 10*time.Minute, cfg.RunInterval)
	assert.Equal(t, 10*time.Minute, cfg.LockTTL)

	cfg = ProvideConfig(config.Config{})
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 5*time.Minute, cfg.LockTTL)
}

func TestRunLockedWithoutLockerRuns(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{JobEventDispatch}})

	require.NoError(t, f.sched.runLocked(context.Background()))
	assert.Equal(t, []string{JobEventDispatch}, *f.calls)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "instructorledger",
		Environment: "test",
	})

	f := newFixture(t, Config{})
	err := f.sched.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "instructorledger",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "ledger_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "instructorledger",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "ledger_scheduler_job_errors_total", errorLabels))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
