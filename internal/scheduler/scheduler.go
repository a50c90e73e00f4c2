package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/instructorledger/internal/authorization"
	billingperioddomain "github.com/smallbiznis/instructorledger/internal/billingperiod/domain"
	"github.com/smallbiznis/instructorledger/internal/clock"
	"github.com/smallbiznis/instructorledger/internal/config"
	eventdomain "github.com/smallbiznis/instructorledger/internal/events/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/instructorledger/internal/observability/metrics"
	"github.com/smallbiznis/instructorledger/internal/ratelimit"
	reminderdomain "github.com/smallbiznis/instructorledger/internal/reminder/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

const (
	JobOverdueSweep      = "overdue_sweep"
	JobMonthlyFees       = "monthly_fees"
	JobInstructorPayouts = "instructor_payouts"
	JobReminders         = "reminders"
	JobEventDispatch     = "event_dispatch"
)

const runLockKey = "ledger:scheduler:run"

type Params struct {
	fx.In

	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Policy        *config.PolicyHolder
	Ledger        ledgerdomain.Service
	BillingPeriod billingperioddomain.Service
	Reminder      reminderdomain.Service
	Dispatcher    eventdomain.Dispatcher

	AuthzSvc authorization.Service `optional:"true"`
	Locker   *ratelimit.Locker     `optional:"true"`
	Config   Config                `optional:"true"`
}

type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	policy        *config.PolicyHolder
	ledger        ledgerdomain.Service
	billingPeriod billingperioddomain.Service
	reminder      reminderdomain.Service
	dispatcher    eventdomain.Dispatcher
	authzSvc      authorization.Service
	locker        *ratelimit.Locker

	mu             sync.Mutex
	feesDoneFor    time.Time
	payoutsDoneFor time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Ledger == nil || p.BillingPeriod == nil || p.Reminder == nil || p.Dispatcher == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		policy:        p.Policy,
		ledger:        p.Ledger,
		billingPeriod: p.BillingPeriod,
		reminder:      p.Reminder,
		dispatcher:    p.Dispatcher,
		authzSvc:      p.AuthzSvc,
		locker:        p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name, batchSize)
	s.logJobStart(ctx, run)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := s.authorizeSystem(ctx)
	if err == nil {
		err = fn(ctx)
	}
	schedMetrics.ObserveJobDuration(name, time.Since(start))

	// deadline is a soft timeout, the next tick picks up the remainder
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		schedMetrics.IncJobTimeout(name)
		schedMetrics.IncJobError(name, err)
		s.logger(ctx).Warn("scheduler.job.timeout",
			zap.String("job", name),
			zap.String("run_id", run.runID),
			zap.Duration("timeout", timeout),
			zap.Int("processed", run.processed),
		)
		return nil
	}

	s.logJobFinish(ctx, run, err)
	if err != nil {
		schedMetrics.IncJobError(name, err)
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// RunOnce executes every enabled job once, in dependency order: obligations
// turn overdue before reminders escalate them, and events produced by all
// jobs are dispatched last.
func (s *Scheduler) RunOnce(parent context.Context) error {
	batch := s.policy.Get().Batch

	jobs := []struct {
		Name      string
		BatchSize int
		Timeout   time.Duration
		Run       func(context.Context) error
	}{
		{JobMonthlyFees, 0, 2 * time.Minute, s.MonthlyFeesJob},
		{JobInstructorPayouts, 0, 2 * time.Minute, s.InstructorPayoutsJob},
		{JobOverdueSweep, batch.OverdueSweep, 30 * time.Second, s.OverdueSweepJob},
		{JobReminders, batch.Reminders, 30 * time.Second, s.RemindersJob},
		{JobEventDispatch, batch.Dispatch, 30 * time.Second, s.EventDispatchJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.BatchSize, job.Timeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.runLocked(ctx); err != nil {
			s.log.Warn("scheduler.run.failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runLocked runs RunOnce while holding the cross-replica run lock. Without a
// locker every replica runs its own loop.
func (s *Scheduler) runLocked(ctx context.Context) error {
	if s.locker == nil {
		return s.RunOnce(ctx)
	}
	ran, err := s.locker.Run(ctx, runLockKey, s.cfg.LockTTL, s.RunOnce)
	if !ran && err == nil {
		obsmetrics.Scheduler().IncLockSkipped()
		s.log.Debug("scheduler.run.skipped", zap.String("reason", "lock_held"))
	}
	return err
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty list enables everything
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// periodDone reports whether the period job guarded by mark already finished
// periodStart.
func (s *Scheduler) periodDone(mark *time.Time, periodStart time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mark.Equal(periodStart)
}

func (s *Scheduler) markPeriodDone(mark *time.Time, periodStart time.Time) {
	s.mu.Lock()
	*mark = periodStart
	s.mu.Unlock()
}

func (s *Scheduler) authorizeSystem(ctx context.Context) error {
	if s.authzSvc == nil {
		return nil
	}
	return s.authzSvc.Authorize(ctx, authorization.SystemActor, authorization.ObjectScheduler, authorization.ActionRun)
}
