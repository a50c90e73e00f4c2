package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
)

// BatchPayment records one settlement run. Rows are never updated.
type BatchPayment struct {
	ID              snowflake.ID               `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Reference       string                     `gorm:"type:varchar(26);not null;uniqueIndex:ux_batch_payments_reference" json:"reference"`
	PaymentDate     time.Time                  `gorm:"not null;index:idx_batch_payments_date" json:"payment_date"`
	PaymentMethod   ledgerdomain.PaymentMethod `gorm:"type:varchar(32);not null" json:"payment_method"`
	TotalAmount     int64                      `gorm:"not null" json:"total_amount"`
	Currency        string                     `gorm:"type:varchar(3);not null" json:"currency"`
	ObligationCount int                        `gorm:"not null" json:"obligation_count"`
	Notes           string                     `gorm:"type:text;not null;default:''" json:"notes,omitempty"`
	CreatedBy       string                     `gorm:"type:varchar(128);not null;default:''" json:"created_by,omitempty"`
	CreatedAt       time.Time                  `gorm:"not null" json:"created_at"`

	Items []BatchPaymentItem `gorm:"-" json:"items,omitempty"`
}

func (BatchPayment) TableName() string { return "batch_payments" }

// ObligationIDs lists the settled obligations in item order.
func (b BatchPayment) ObligationIDs() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(b.Items))
	for _, item := range b.Items {
		ids = append(ids, item.ObligationID)
	}
	return ids
}

// BatchPaymentItem is one obligation inside a batch; an obligation is settled at most once.
type BatchPaymentItem struct {
	BatchPaymentID snowflake.ID                `gorm:"primaryKey;autoIncrement:false" json:"batch_payment_id"`
	ObligationID   snowflake.ID                `gorm:"primaryKey;autoIncrement:false;uniqueIndex:ux_batch_payment_items_obligation" json:"obligation_id"`
	Kind           ledgerdomain.ObligationKind `gorm:"type:varchar(32);not null" json:"kind"`
	InstructorID   string                      `gorm:"type:varchar(64);not null" json:"instructor_id"`
	Amount         int64                       `gorm:"not null" json:"amount"`
}

func (BatchPaymentItem) TableName() string { return "batch_payment_items" }

type BatchCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	From   *time.Time
	To     *time.Time
	Cursor *BatchCursor
	Limit  int
}
