package scheduler

import (
	"context"

	billingperioddomain "github.com/smallbiznis/instructorledger/internal/billingperiod/domain"
	obsmetrics "github.com/smallbiznis/instructorledger/internal/observability/metrics"
	"go.uber.org/zap"
)

const periodLayout = "2006-01"

// OverdueSweepJob moves pending obligations past their due date to overdue.
func (s *Scheduler) OverdueSweepJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	limit := s.policy.Get().Batch.OverdueSweep

	moved, err := s.ledger.MarkOverdue(ctx, s.clock.Now(), limit)
	run.addProcessed(moved)
	obsmetrics.Scheduler().AddBatchProcessed(JobOverdueSweep, obsmetrics.LockResourceObligationsForOverdue, moved)
	if err != nil {
		return err
	}
	if limit > 0 && moved == limit {
		s.logger(ctx).Info("scheduler.overdue.batch_full", zap.Int("limit", limit))
	}
	return nil
}

// MonthlyFeesJob generates the flat fees of the current period. A period that
// completed without failures is not revisited until the month rolls over.
func (s *Scheduler) MonthlyFeesJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	loc := s.policy.Get().Location()
	periodStart := billingperioddomain.PeriodStart(s.clock.Now(), loc)
	run.forPeriod(periodStart.In(loc).Format(periodLayout))

	if s.periodDone(&s.feesDoneFor, periodStart) {
		return nil
	}

	result, err := s.billingPeriod.GenerateMonthlyFees(ctx, periodStart)
	run.addProcessed(result.Created)
	if err != nil {
		return err
	}
	run.addFailed(result.Failed)
	run.note("existing", int64(result.Existing))
	run.note("skipped", int64(result.Skipped))
	run.note("profile_missing", int64(result.Missing))

	if result.Failed == 0 {
		s.markPeriodDone(&s.feesDoneFor, periodStart)
	}
	return nil
}

// InstructorPayoutsJob accumulates the previous period's school-collected
// splits into payout obligations.
func (s *Scheduler) InstructorPayoutsJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	loc := s.policy.Get().Location()
	periodStart := billingperioddomain.PreviousPeriodStart(s.clock.Now(), loc)
	run.forPeriod(periodStart.In(loc).Format(periodLayout))

	if s.periodDone(&s.payoutsDoneFor, periodStart) {
		return nil
	}

	result, err := s.billingPeriod.AccumulatePayouts(ctx, periodStart)
	run.addProcessed(result.Created)
	if err != nil {
		return err
	}
	run.addFailed(result.Failed)
	run.note("existing", int64(result.Existing))
	run.note("amount", result.Amount)

	if result.Failed == 0 {
		s.markPeriodDone(&s.payoutsDoneFor, periodStart)
	}
	return nil
}

// RemindersJob escalates overdue obligations whose reminder interval elapsed.
func (s *Scheduler) RemindersJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)

	result, err := s.reminder.Run(ctx, s.clock.Now(), s.policy.Get().Batch.Reminders)
	run.addProcessed(result.Advanced)
	run.note("scanned", int64(result.Scanned))
	run.note("suspensions", int64(result.Suspensions))
	run.note("conflicts", int64(result.Conflicts))
	obsmetrics.Scheduler().AddBatchProcessed(JobReminders, obsmetrics.LockResourceObligationsForReminders, result.Advanced)
	if result.Conflicts > 0 {
		obsmetrics.Scheduler().IncBatchDeferred(JobReminders, obsmetrics.SchedulerBatchDeferredReasonVersionConflict)
	}
	return err
}

// EventDispatchJob delivers pending outbox events to the notification sinks.
func (s *Scheduler) EventDispatchJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)

	result, err := s.dispatcher.DispatchPending(ctx, s.policy.Get().Batch.Dispatch)
	run.addProcessed(result.Delivered)
	run.addFailed(result.Failed)
	obsmetrics.Scheduler().AddBatchProcessed(JobEventDispatch, obsmetrics.LockResourceEventsForDispatch, result.Delivered)
	if err == nil && result.Claimed == 0 {
		obsmetrics.Scheduler().IncBatchDeferred(JobEventDispatch, obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
	}
	return err
}
