package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/instructorledger/internal/reporting/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) SplitTotals(ctx context.Context, db *gorm.DB, from, to time.Time) (domain.Totals, error) {
	var totals domain.Totals
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS lessons,
			COALESCE(SUM(gross_amount), 0) AS gross_amount,
			COALESCE(SUM(school_share), 0) AS school_share
		 FROM revenue_splits
		 WHERE completed_at >= ? AND completed_at < ?`,
		from.UTC(),
		to.UTC(),
	).Scan(&totals).Error
	return totals, err
}

func (r *repo) ObligationTotals(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.GroupTotal, error) {
	var rows []domain.GroupTotal
	err := db.WithContext(ctx).Raw(
		`SELECT kind, status, COALESCE(SUM(amount), 0) AS amount
		 FROM obligations
		 WHERE period_month >= ? AND period_month < ?
		 GROUP BY kind, status
		 ORDER BY kind, status`,
		from.UTC(),
		to.UTC(),
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) Splits(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.SplitRow, error) {
	var rows []domain.SplitRow
	err := db.WithContext(ctx).Raw(
		`SELECT instructor_id, completed_at, gross_amount, school_share
		 FROM revenue_splits
		 WHERE completed_at >= ? AND completed_at < ?
		 ORDER BY completed_at ASC, id ASC`,
		from.UTC(),
		to.UTC(),
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) Obligations(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.ObligationRow, error) {
	var rows []domain.ObligationRow
	err := db.WithContext(ctx).Raw(
		`SELECT instructor_id, kind, status, period_month, amount
		 FROM obligations
		 WHERE period_month >= ? AND period_month < ?
		 ORDER BY period_month ASC, id ASC`,
		from.UTC(),
		to.UTC(),
	).Scan(&rows).Error
	return rows, err
}
