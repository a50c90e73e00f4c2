package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/instructorledger/pkg/db/pagination"
)

type Service interface {
	Settle(ctx context.Context, req SettleRequest) (BatchPayment, error)
	Get(ctx context.Context, id snowflake.ID) (BatchPayment, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type SettleRequest struct {
	ObligationIDs []snowflake.ID `json:"obligation_ids" validate:"required,min=1,dive,required"`
	PaymentDate   time.Time      `json:"payment_date" validate:"required"`
	Method        string         `json:"payment_method" validate:"required,oneof=cash bank_transfer card twint direct_debit"`
	Notes         string         `json:"notes" validate:"max=1000"`
	CreatedBy     string         `json:"created_by" validate:"max=128"`
}

type ListRequest struct {
	pagination.Pagination
	From *time.Time
	To   *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	BatchPayments []BatchPayment `json:"batch_payments"`
}
