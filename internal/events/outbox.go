package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/instructorledger/internal/clock"
	"github.com/smallbiznis/instructorledger/internal/events/domain"
	"github.com/smallbiznis/instructorledger/pkg/db"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OutboxParams struct {
	fx.In

	GenID *snowflake.Node
	Clock clock.Clock
}

type Outbox struct {
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(p OutboxParams) *Outbox {
	return &Outbox{genID: p.GenID, clock: p.Clock}
}

func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, evt domain.Event) error {
	eventType := strings.TrimSpace(evt.Type)
	if eventType == "" {
		return domain.ErrInvalidEventType
	}
	aggregateID := strings.TrimSpace(evt.AggregateID)
	if aggregateID == "" || strings.TrimSpace(evt.AggregateType) == "" {
		return domain.ErrInvalidAggregate
	}
	dedupeKey := strings.TrimSpace(evt.DedupeKey)
	if dedupeKey == "" {
		dedupeKey = fmt.Sprintf("%s:%s", eventType, aggregateID)
	}

	payload := datatypes.JSONMap{}
	for key, value := range evt.Payload {
		payload[key] = value
	}

	insert, suffix := db.InsertIgnore(tx, "dedupe_key")

	return tx.WithContext(ctx).Exec(
		insert+` ledger_events (
			id, event_type, aggregate_type, aggregate_id, payload, dedupe_key,
			published, attempts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) `+suffix,
		o.genID.Generate(),
		eventType,
		evt.AggregateType,
		aggregateID,
		payload,
		dedupeKey,
		false,
		0,
		o.clock.Now().UTC(),
	).Error
}
