package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/instructorledger/internal/compensation/domain"
	"gorm.io/gorm"
)

const profileColumns = `id, instructor_id, model_kind, monthly_amount, auto_debit, rate_basis_points,
	effective_from, effective_to, created_by, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rec *domain.ProfileRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO compensation_profiles (`+profileColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.InstructorID,
		rec.ModelKind,
		rec.MonthlyAmount,
		rec.AutoDebit,
		rec.RateBasisPoints,
		rec.EffectiveFrom,
		rec.EffectiveTo,
		rec.CreatedBy,
		rec.CreatedAt,
	).Error
}

func (r *repo) LockOpen(ctx context.Context, db *gorm.DB, instructorID string) (*domain.ProfileRecord, error) {
	return r.first(ctx, db,
		`SELECT `+profileColumns+`
		 FROM compensation_profiles
		 WHERE instructor_id = ? AND effective_to IS NULL
		 LIMIT 1
		 FOR UPDATE`,
		instructorID,
	)
}

func (r *repo) Close(ctx context.Context, db *gorm.DB, rec *domain.ProfileRecord, effectiveTo time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE compensation_profiles
		 SET effective_to = ?
		 WHERE id = ? AND effective_to IS NULL`,
		effectiveTo,
		rec.ID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) FindOpen(ctx context.Context, db *gorm.DB, instructorID string) (*domain.ProfileRecord, error) {
	return r.first(ctx, db,
		`SELECT `+profileColumns+`
		 FROM compensation_profiles
		 WHERE instructor_id = ? AND effective_to IS NULL
		 LIMIT 1`,
		instructorID,
	)
}

func (r *repo) FindAt(ctx context.Context, db *gorm.DB, instructorID string, at time.Time) (*domain.ProfileRecord, error) {
	return r.first(ctx, db,
		`SELECT `+profileColumns+`
		 FROM compensation_profiles
		 WHERE instructor_id = ?
		   AND effective_from <= ?
		   AND (effective_to IS NULL OR effective_to >= ?)
		 ORDER BY effective_from DESC
		 LIMIT 1`,
		instructorID,
		at,
		at,
	)
}

func (r *repo) ListByInstructor(ctx context.Context, db *gorm.DB, instructorID string) ([]domain.ProfileRecord, error) {
	var rows []domain.ProfileRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+profileColumns+`
		 FROM compensation_profiles
		 WHERE instructor_id = ?
		 ORDER BY effective_from ASC`,
		instructorID,
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) ListActiveAt(ctx context.Context, db *gorm.DB, at time.Time) ([]domain.ProfileRecord, error) {
	var rows []domain.ProfileRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+profileColumns+`
		 FROM compensation_profiles
		 WHERE effective_from <= ?
		   AND (effective_to IS NULL OR effective_to >= ?)
		 ORDER BY instructor_id ASC`,
		at,
		at,
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) ListInstructors(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT instructor_id
		 FROM compensation_profiles
		 ORDER BY instructor_id ASC`,
	).Scan(&ids).Error
	return ids, err
}

func (r *repo) first(ctx context.Context, db *gorm.DB, query string, args ...interface{}) (*domain.ProfileRecord, error) {
	var rec domain.ProfileRecord
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rec).Error; err != nil {
		return nil, err
	}
	if rec.ID == 0 {
		return nil, nil
	}
	return &rec, nil
}
