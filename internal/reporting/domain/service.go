package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Service interface {
	Summary(ctx context.Context, window Window) (Summary, error)
	Export(ctx context.Context, window Window) ([]ExportRow, error)
}

type Repository interface {
	SplitTotals(ctx context.Context, db *gorm.DB, from, to time.Time) (Totals, error)
	ObligationTotals(ctx context.Context, db *gorm.DB, from, to time.Time) ([]GroupTotal, error)
	Splits(ctx context.Context, db *gorm.DB, from, to time.Time) ([]SplitRow, error)
	Obligations(ctx context.Context, db *gorm.DB, from, to time.Time) ([]ObligationRow, error)
}
