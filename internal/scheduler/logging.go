package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/smallbiznis/instructorledger/internal/authorization"
	obscontext "github.com/smallbiznis/instructorledger/internal/observability/context"
	obslogger "github.com/smallbiznis/instructorledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/instructorledger/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun collects what a single job execution did so it can be reported in
// one finish line.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time
	period    string
	processed int
	failed    int
	counts    map[string]int64
}

type jobRunKey struct{}

func (r *jobRun) addProcessed(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.processed += n
}

func (r *jobRun) addFailed(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.failed += n
}

// note records a job specific counter, e.g. skipped instructors or summed amount.
func (r *jobRun) note(key string, value int64) {
	if r == nil || value == 0 {
		return
	}
	if r.counts == nil {
		r.counts = make(map[string]int64)
	}
	r.counts[key] += value
}

func (r *jobRun) forPeriod(period string) {
	if r != nil {
		r.period = period
	}
}

// startJobRun tags ctx with a fresh run id and the scheduler's system actor.
func (s *Scheduler) startJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithRequestID(ctx, run.runID)
	ctx = obscontext.WithActor(ctx, authorization.SystemActor, "scheduler", authorization.RoleSystem)
	return ctx, run
}

func jobRunFromContext(ctx context.Context) *jobRun {
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Debug("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun, err error) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed", run.processed),
		zap.Int("failed", run.failed),
	}
	if run.period != "" {
		fields = append(fields, zap.String("period", run.period))
	}
	keys := make([]string, 0, len(run.counts))
	for k := range run.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Int64(k, run.counts[k]))
	}

	log := s.logger(ctx)
	switch {
	case err != nil:
		fields = append(fields,
			zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
			zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
			zap.Error(err),
		)
		log.Error("scheduler.job.finish", fields...)
	case run.failed > 0:
		log.Warn("scheduler.job.finish", fields...)
	case run.processed == 0:
		log.Debug("scheduler.job.finish", fields...)
	default:
		log.Info("scheduler.job.finish", fields...)
	}
}
