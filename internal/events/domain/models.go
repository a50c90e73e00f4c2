package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TypeRevenueSplitComputed       = "revenue_split.computed"
	TypeMonthlyFeeCreated          = "monthly_fee.created"
	TypeInstructorPayoutCreated    = "instructor_payout.created"
	TypeObligationOverdue          = "obligation.overdue"
	TypeObligationPaid             = "obligation.paid"
	TypeObligationCancelled        = "obligation.cancelled"
	TypeReminderIssued             = "reminder.issued"
	TypeSuspensionTriggered        = "suspension.triggered"
	TypeSettlementCompleted        = "settlement.completed"
	TypeCompensationProfileChanged = "compensation_profile.changed"
)

// Event is an outbound domain fact. DedupeKey defaults to "<type>:<aggregate id>".
type Event struct {
	Type          string
	AggregateType string
	AggregateID   string
	Payload       map[string]any
	DedupeKey     string
}

// LedgerEvent is the outbox row.
type LedgerEvent struct {
	ID            snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	EventType     string            `gorm:"type:varchar(64);not null" json:"event_type"`
	AggregateType string            `gorm:"type:varchar(64);not null" json:"aggregate_type"`
	AggregateID   string            `gorm:"type:varchar(128);not null" json:"aggregate_id"`
	Payload       datatypes.JSONMap `gorm:"not null" json:"payload"`
	DedupeKey     string            `gorm:"type:varchar(255);not null;uniqueIndex:ux_ledger_events_dedupe" json:"dedupe_key"`
	Published     bool              `gorm:"not null;default:false;index:idx_ledger_events_pending" json:"published"`
	PublishedAt   *time.Time        `json:"published_at,omitempty"`
	Attempts      int               `gorm:"not null;default:0" json:"attempts"`
	LastError     *string           `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
}

func (LedgerEvent) TableName() string { return "ledger_events" }

// Envelope is what sinks receive.
type Envelope struct {
	ID            snowflake.ID   `json:"id"`
	Type          string         `json:"type"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id"`
	Payload       map[string]any `json:"payload"`
	CreatedAt     time.Time      `json:"created_at"`
}

type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt Envelope) error
}

type Publisher interface {
	// PublishTx writes evt as part of tx. A repeated dedupe key is a no-op.
	PublishTx(ctx context.Context, tx *gorm.DB, evt Event) error
}

type DispatchResult struct {
	Claimed   int
	Delivered int
	Failed    int
}

type Dispatcher interface {
	DispatchPending(ctx context.Context, limit int) (DispatchResult, error)
}
