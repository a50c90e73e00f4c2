package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/instructorledger/internal/settlement/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, batch *domain.BatchPayment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO batch_payments (
			id, reference, payment_date, payment_method, total_amount, currency,
			obligation_count, notes, created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID,
		batch.Reference,
		batch.PaymentDate,
		batch.PaymentMethod,
		batch.TotalAmount,
		batch.Currency,
		batch.ObligationCount,
		batch.Notes,
		batch.CreatedBy,
		batch.CreatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []domain.BatchPaymentItem) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&items).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BatchPayment, error) {
	var batch domain.BatchPayment
	err := db.WithContext(ctx).Raw(
		`SELECT id, reference, payment_date, payment_method, total_amount, currency,
			obligation_count, notes, created_by, created_at
		 FROM batch_payments
		 WHERE id = ?`,
		id,
	).Scan(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, batchIDs []snowflake.ID) ([]domain.BatchPaymentItem, error) {
	if len(batchIDs) == 0 {
		return nil, nil
	}
	var items []domain.BatchPaymentItem
	err := db.WithContext(ctx).Raw(
		`SELECT batch_payment_id, obligation_id, kind, instructor_id, amount
		 FROM batch_payment_items
		 WHERE batch_payment_id IN ?
		 ORDER BY batch_payment_id ASC, obligation_id ASC`,
		batchIDs,
	).Scan(&items).Error
	return items, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.BatchPayment, error) {
	stmt := db.WithContext(ctx).Model(&domain.BatchPayment{})
	if filter.From != nil {
		stmt = stmt.Where("payment_date >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("payment_date < ?", filter.To.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("((created_at < ?) OR (created_at = ? AND id < ?))",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}
	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var rows []*domain.BatchPayment
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
