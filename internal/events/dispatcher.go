package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/instructorledger/internal/clock"
	"github.com/smallbiznis/instructorledger/internal/events/domain"
	"github.com/smallbiznis/instructorledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultDispatchBatch = 100
	maxDeliveryAttempts  = 10
	maxErrorLength       = 512
)

type DispatcherParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Sinks   []domain.Sink    `group:"event_sinks"`
	Metrics *metrics.Metrics `optional:"true"`
}

type OutboxDispatcher struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	sinks   []domain.Sink
	metrics *metrics.Metrics
}

func NewDispatcher(p DispatcherParams) *OutboxDispatcher {
	sinks := make([]domain.Sink, 0, len(p.Sinks))
	for _, sink := range p.Sinks {
		if sink != nil {
			sinks = append(sinks, sink)
		}
	}
	return &OutboxDispatcher{
		db:      p.DB,
		log:     p.Log.Named("events.dispatcher"),
		clock:   p.Clock,
		sinks:   sinks,
		metrics: p.Metrics,
	}
}

// DispatchPending claims unpublished events and hands each to every sink. An
// event is marked published only when all sinks accept it; otherwise the
// attempt is recorded and the event is retried on the next run.
func (d *OutboxDispatcher) DispatchPending(ctx context.Context, limit int) (domain.DispatchResult, error) {
	if limit <= 0 {
		limit = defaultDispatchBatch
	}

	var result domain.DispatchResult
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []domain.LedgerEvent
		claimStart := time.Now()
		if err := tx.Raw(
			`SELECT id, event_type, aggregate_type, aggregate_id, payload, dedupe_key,
			        published, published_at, attempts, last_error, created_at
			 FROM ledger_events
			 WHERE published = ? AND attempts < ?
			 ORDER BY id ASC
			 LIMIT ?
			 FOR UPDATE SKIP LOCKED`,
			false,
			maxDeliveryAttempts,
			limit,
		).Scan(&rows).Error; err != nil {
			return err
		}
		metrics.Scheduler().ObserveDBLockWait(metrics.LockResourceEventsForDispatch, time.Since(claimStart))
		result.Claimed = len(rows)

		for _, row := range rows {
			envelope := domain.Envelope{
				ID:            row.ID,
				Type:          row.EventType,
				AggregateType: row.AggregateType,
				AggregateID:   row.AggregateID,
				Payload:       row.Payload,
				CreatedAt:     row.CreatedAt,
			}

			if deliverErr := d.deliver(ctx, envelope); deliverErr != nil {
				result.Failed++
				d.metrics.RecordEventDispatched(ctx, row.EventType, "failed")
				d.log.Warn("events.dispatch.failed",
					zap.String("event_id", row.ID.String()),
					zap.String("event_type", row.EventType),
					zap.Int("attempt", row.Attempts+1),
					zap.Error(deliverErr),
				)
				if row.Attempts+1 >= maxDeliveryAttempts {
					d.log.Error("events.dispatch.gave_up",
						zap.String("event_id", row.ID.String()),
						zap.String("event_type", row.EventType),
					)
				}
				if err := tx.Exec(
					`UPDATE ledger_events SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
					truncate(deliverErr.Error(), maxErrorLength),
					row.ID,
				).Error; err != nil {
					return err
				}
				continue
			}

			if err := tx.Exec(
				`UPDATE ledger_events SET published = ?, published_at = ?, attempts = attempts + 1, last_error = NULL WHERE id = ?`,
				true,
				d.clock.Now().UTC(),
				row.ID,
			).Error; err != nil {
				return err
			}
			result.Delivered++
			d.metrics.RecordEventDispatched(ctx, row.EventType, "delivered")
		}
		return nil
	})
	if err != nil {
		return domain.DispatchResult{}, err
	}
	return result, nil
}

func (d *OutboxDispatcher) deliver(ctx context.Context, evt domain.Envelope) error {
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
