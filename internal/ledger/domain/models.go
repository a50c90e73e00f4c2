package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// CollectedBy records who received the lesson payment from the student.
type CollectedBy string

const (
	CollectedBySchool     CollectedBy = "school"
	CollectedByInstructor CollectedBy = "instructor"
)

func (c CollectedBy) Valid() bool {
	return c == CollectedBySchool || c == CollectedByInstructor
}

// RevenueSplit is computed once per lesson and never changed afterwards.
type RevenueSplit struct {
	ID                    snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	LessonID              string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_revenue_splits_lesson" json:"lesson_id"`
	InstructorID          string       `gorm:"type:varchar(64);not null;index:idx_revenue_splits_instructor,priority:1" json:"instructor_id"`
	StudentID             string       `gorm:"type:varchar(64);not null;default:''" json:"student_id,omitempty"`
	CompensationProfileID snowflake.ID `gorm:"not null" json:"compensation_profile_id"`
	ModelKind             string       `gorm:"type:varchar(16);not null" json:"model_kind"`
	RateBasisPoints       int64        `gorm:"not null;default:0" json:"rate_basis_points"`
	GrossAmount           int64        `gorm:"not null" json:"gross_amount"`
	SchoolShare           int64        `gorm:"not null" json:"school_share"`
	NetInstructor         int64        `gorm:"not null" json:"net_instructor"`
	Currency              string       `gorm:"type:varchar(3);not null" json:"currency"`
	CollectedBy           CollectedBy  `gorm:"type:varchar(16);not null;default:'school'" json:"collected_by"`
	CompletedAt           time.Time    `gorm:"not null;index:idx_revenue_splits_instructor,priority:2;index:idx_revenue_splits_completed" json:"completed_at"`
	ComputedAt            time.Time    `gorm:"not null" json:"computed_at"`
}

func (RevenueSplit) TableName() string { return "revenue_splits" }

// RatePercent is the commission rate snapshot.
func (s RevenueSplit) RatePercent() decimal.Decimal {
	return decimal.New(s.RateBasisPoints, -2)
}

type ObligationKind string

const (
	// KindMonthlyFee is a receivable owed by the instructor to the school.
	KindMonthlyFee ObligationKind = "monthly_fee"
	// KindInstructorPayout is a payable owed by the school to the instructor.
	KindInstructorPayout ObligationKind = "instructor_payout"
)

func (k ObligationKind) Valid() bool {
	return k == KindMonthlyFee || k == KindInstructorPayout
}

type ObligationStatus string

const (
	StatusPending   ObligationStatus = "pending"
	StatusOverdue   ObligationStatus = "overdue"
	StatusPaid      ObligationStatus = "paid"
	StatusCancelled ObligationStatus = "cancelled"
)

func (s ObligationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusOverdue, StatusPaid, StatusCancelled:
		return true
	default:
		return false
	}
}

// Open reports whether the obligation can still be paid or cancelled.
func (s ObligationStatus) Open() bool {
	return s == StatusPending || s == StatusOverdue
}

var transitions = map[ObligationStatus][]ObligationStatus{
	StatusPending: {StatusOverdue, StatusPaid, StatusCancelled},
	StatusOverdue: {StatusPaid, StatusCancelled},
}

func CanTransition(from, to ObligationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCard         PaymentMethod = "card"
	PaymentTwint        PaymentMethod = "twint"
	PaymentDirectDebit  PaymentMethod = "direct_debit"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentBankTransfer, PaymentCard, PaymentTwint, PaymentDirectDebit:
		return true
	default:
		return false
	}
}

type Obligation struct {
	ID             snowflake.ID     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Kind           ObligationKind   `gorm:"type:varchar(32);not null;uniqueIndex:ux_obligations_period,priority:1" json:"kind"`
	InstructorID   string           `gorm:"type:varchar(64);not null;uniqueIndex:ux_obligations_period,priority:2;index:idx_obligations_instructor" json:"instructor_id"`
	PeriodMonth    time.Time        `gorm:"not null;uniqueIndex:ux_obligations_period,priority:3" json:"period_month"`
	Amount         int64            `gorm:"not null" json:"amount"`
	Currency       string           `gorm:"type:varchar(3);not null" json:"currency"`
	DueDate        time.Time        `gorm:"not null;index:idx_obligations_status_due,priority:2" json:"due_date"`
	Status         ObligationStatus `gorm:"type:varchar(16);not null;index:idx_obligations_status_due,priority:1" json:"status"`
	PaidAt         *time.Time       `json:"paid_at,omitempty"`
	PaymentMethod  *PaymentMethod   `gorm:"type:varchar(32)" json:"payment_method,omitempty"`
	BatchPaymentID *snowflake.ID    `json:"batch_payment_id,omitempty"`
	CancelReason   *string          `gorm:"type:text" json:"cancel_reason,omitempty"`
	CancelledBy    *string          `gorm:"type:varchar(128)" json:"cancelled_by,omitempty"`
	CancelledAt    *time.Time       `json:"cancelled_at,omitempty"`
	Version        int64            `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"not null" json:"updated_at"`
}

func (Obligation) TableName() string { return "obligations" }

// PayoutLine ties a split to the payout that paid it out; a split appears at most once.
type PayoutLine struct {
	SplitID      snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"split_id"`
	ObligationID snowflake.ID `gorm:"not null;index:idx_payout_lines_obligation" json:"obligation_id"`
	Amount       int64        `gorm:"not null" json:"amount"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
}

func (PayoutLine) TableName() string { return "payout_lines" }

// StatusChange is a version-guarded update of one obligation.
type StatusChange struct {
	ID              snowflake.ID
	ExpectedVersion int64
	From            ObligationStatus
	To              ObligationStatus
	PaidAt          *time.Time
	PaymentMethod   *PaymentMethod
	BatchPaymentID  *snowflake.ID
	CancelReason    *string
	CancelledBy     *string
	CancelledAt     *time.Time
	UpdatedAt       time.Time
}

// PayoutCandidate is a school-collected split that has not been paid out yet.
type PayoutCandidate struct {
	SplitID       snowflake.ID
	InstructorID  string
	NetInstructor int64
}
