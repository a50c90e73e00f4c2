package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/instructorledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	RecordSplit(ctx context.Context, split RevenueSplit) (RevenueSplit, error)
	GetSplitByLesson(ctx context.Context, lessonID string) (RevenueSplit, error)
	ListSplits(ctx context.Context, filter SplitFilter) ([]RevenueSplit, error)

	CreateMonthlyFee(ctx context.Context, req CreateMonthlyFeeRequest) (Obligation, error)
	CreatePayout(ctx context.Context, req CreatePayoutRequest) (Obligation, error)
	ListPayoutCandidates(ctx context.Context, before time.Time) ([]PayoutCandidate, error)

	MarkOverdue(ctx context.Context, now time.Time, limit int) (int, error)
	Cancel(ctx context.Context, req CancelRequest) (Obligation, error)
	MarkPaid(ctx context.Context, req MarkPaidRequest) (Obligation, error)

	Get(ctx context.Context, id snowflake.ID) (Obligation, error)
	List(ctx context.Context, req ListObligationsRequest) (ListObligationsResponse, error)
}

// StateResetter clears per-obligation follow-up state (reminders) once an
// obligation is settled or cancelled.
type StateResetter interface {
	Reset(ctx context.Context, tx *gorm.DB, obligationIDs []snowflake.ID) error
}

type SplitFilter struct {
	InstructorID string
	From         *time.Time
	To           *time.Time
	Limit        int
}

type CreateMonthlyFeeRequest struct {
	InstructorID string
	PeriodMonth  time.Time
	Amount       int64
	DueDate      time.Time
}

type CreatePayoutRequest struct {
	InstructorID string
	PeriodMonth  time.Time
	DueDate      time.Time
	SplitIDs     []snowflake.ID
	Amount       int64
}

type CancelRequest struct {
	ObligationID snowflake.ID
	Reason       string
	Actor        string
}

type MarkPaidRequest struct {
	ObligationID snowflake.ID
	PaidAt       time.Time
	Method       PaymentMethod
	Actor        string
}

type ListObligationsRequest struct {
	pagination.Pagination
	InstructorID string
	Status       ObligationStatus
	Kind         ObligationKind
	PeriodMonth  string
}

type ListObligationsResponse struct {
	pagination.PageInfo
	Obligations []Obligation `json:"obligations"`
}

type ObligationCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ObligationFilter struct {
	InstructorID string
	Status       ObligationStatus
	Kind         ObligationKind
	PeriodMonth  *time.Time
	Cursor       *ObligationCursor
	Limit        int
}
