package domain

import (
	"context"
	"time"
)

type Service interface {
	GenerateMonthlyFees(ctx context.Context, periodStart time.Time) (GenerationResult, error)
	AccumulatePayouts(ctx context.Context, periodStart time.Time) (PayoutResult, error)
}
