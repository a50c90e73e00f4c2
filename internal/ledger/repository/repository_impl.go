package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/instructorledger/internal/ledger/domain"
	"github.com/smallbiznis/instructorledger/pkg/db"
	"gorm.io/gorm"
)

const (
	splitColumns = `id, lesson_id, instructor_id, student_id, compensation_profile_id, model_kind,
	rate_basis_points, gross_amount, school_share, net_instructor, currency, collected_by,
	completed_at, computed_at`

	obligationColumns = `id, kind, instructor_id, period_month, amount, currency, due_date, status,
	paid_at, payment_method, batch_payment_id, cancel_reason, cancelled_by, cancelled_at,
	version, created_at, updated_at`
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertSplit(ctx context.Context, conn *gorm.DB, split *domain.RevenueSplit) (bool, error) {
	insert, suffix := db.InsertIgnore(conn, "lesson_id")
	result := conn.WithContext(ctx).Exec(
		insert+` revenue_splits (`+splitColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) `+suffix,
		split.ID,
		split.LessonID,
		split.InstructorID,
		split.StudentID,
		split.CompensationProfileID,
		split.ModelKind,
		split.RateBasisPoints,
		split.GrossAmount,
		split.SchoolShare,
		split.NetInstructor,
		split.Currency,
		split.CollectedBy,
		split.CompletedAt,
		split.ComputedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) FindSplitByLesson(ctx context.Context, conn *gorm.DB, lessonID string) (*domain.RevenueSplit, error) {
	var split domain.RevenueSplit
	if err := conn.WithContext(ctx).Raw(
		`SELECT `+splitColumns+` FROM revenue_splits WHERE lesson_id = ? LIMIT 1`,
		lessonID,
	).Scan(&split).Error; err != nil {
		return nil, err
	}
	if split.ID == 0 {
		return nil, nil
	}
	return &split, nil
}

func (r *repo) ListSplits(ctx context.Context, conn *gorm.DB, filter domain.SplitFilter) ([]domain.RevenueSplit, error) {
	stmt := conn.WithContext(ctx).Model(&domain.RevenueSplit{})
	if id := strings.TrimSpace(filter.InstructorID); id != "" {
		stmt = stmt.Where("instructor_id = ?", id)
	}
	if filter.From != nil {
		stmt = stmt.Where("completed_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("completed_at < ?", filter.To.UTC())
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var splits []domain.RevenueSplit
	if err := stmt.Order("completed_at asc, id asc").Find(&splits).Error; err != nil {
		return nil, err
	}
	return splits, nil
}

func (r *repo) ListPayoutCandidates(ctx context.Context, conn *gorm.DB, before time.Time) ([]domain.PayoutCandidate, error) {
	var rows []domain.PayoutCandidate
	err := conn.WithContext(ctx).Raw(
		`SELECT s.id AS split_id, s.instructor_id, s.net_instructor
		 FROM revenue_splits s
		 LEFT JOIN payout_lines pl ON pl.split_id = s.id
		 WHERE s.collected_by = ?
		   AND s.completed_at < ?
		   AND pl.split_id IS NULL
		 ORDER BY s.instructor_id ASC, s.completed_at ASC, s.id ASC`,
		domain.CollectedBySchool,
		before.UTC(),
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) FindPayoutCandidates(ctx context.Context, conn *gorm.DB, splitIDs []snowflake.ID, instructorID string) ([]domain.PayoutCandidate, error) {
	if len(splitIDs) == 0 {
		return nil, nil
	}
	var rows []domain.PayoutCandidate
	err := conn.WithContext(ctx).Raw(
		`SELECT s.id AS split_id, s.instructor_id, s.net_instructor
		 FROM revenue_splits s
		 LEFT JOIN payout_lines pl ON pl.split_id = s.id
		 WHERE s.id IN ?
		   AND s.instructor_id = ?
		   AND s.collected_by = ?
		   AND pl.split_id IS NULL
		 ORDER BY s.id ASC`,
		splitIDs,
		instructorID,
		domain.CollectedBySchool,
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) InsertObligation(ctx context.Context, conn *gorm.DB, o *domain.Obligation) (bool, error) {
	insert, suffix := db.InsertIgnore(conn, "kind, instructor_id, period_month")
	result := conn.WithContext(ctx).Exec(
		insert+` obligations (`+obligationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) `+suffix,
		o.ID,
		o.Kind,
		o.InstructorID,
		o.PeriodMonth,
		o.Amount,
		o.Currency,
		o.DueDate,
		o.Status,
		o.PaidAt,
		o.PaymentMethod,
		o.BatchPaymentID,
		o.CancelReason,
		o.CancelledBy,
		o.CancelledAt,
		o.Version,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) InsertPayoutLines(ctx context.Context, conn *gorm.DB, lines []domain.PayoutLine) error {
	for _, line := range lines {
		if err := conn.WithContext(ctx).Exec(
			`INSERT INTO payout_lines (split_id, obligation_id, amount, created_at)
			 VALUES (?, ?, ?, ?)`,
			line.SplitID,
			line.ObligationID,
			line.Amount,
			line.CreatedAt,
		).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrSplitAlreadyPaidOut
			}
			return err
		}
	}
	return nil
}

func (r *repo) ReleasePayoutLines(ctx context.Context, conn *gorm.DB, obligationID snowflake.ID) (int64, error) {
	result := conn.WithContext(ctx).Exec(`DELETE FROM payout_lines WHERE obligation_id = ?`, obligationID)
	return result.RowsAffected, result.Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Obligation, error) {
	return r.firstObligation(ctx, conn,
		`SELECT `+obligationColumns+` FROM obligations WHERE id = ? LIMIT 1`,
		id,
	)
}

func (r *repo) FindByPeriod(ctx context.Context, conn *gorm.DB, kind domain.ObligationKind, instructorID string, period time.Time) (*domain.Obligation, error) {
	return r.firstObligation(ctx, conn,
		`SELECT `+obligationColumns+`
		 FROM obligations
		 WHERE kind = ? AND instructor_id = ? AND period_month = ?
		 LIMIT 1`,
		kind,
		instructorID,
		period.UTC(),
	)
}

func (r *repo) LockByIDs(ctx context.Context, conn *gorm.DB, ids []snowflake.ID) ([]domain.Obligation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []domain.Obligation
	err := conn.WithContext(ctx).Raw(
		`SELECT `+obligationColumns+`
		 FROM obligations
		 WHERE id IN ?
		 ORDER BY id ASC
		 FOR UPDATE`,
		ids,
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) ListPendingPastDue(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]domain.Obligation, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []domain.Obligation
	err := conn.WithContext(ctx).Raw(
		`SELECT `+obligationColumns+`
		 FROM obligations
		 WHERE status = ? AND due_date < ?
		 ORDER BY due_date ASC, id ASC
		 LIMIT ?`,
		domain.StatusPending,
		now.UTC(),
		limit,
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, change domain.StatusChange) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE obligations
		 SET status = ?,
		     paid_at = COALESCE(?, paid_at),
		     payment_method = COALESCE(?, payment_method),
		     batch_payment_id = COALESCE(?, batch_payment_id),
		     cancel_reason = COALESCE(?, cancel_reason),
		     cancelled_by = COALESCE(?, cancelled_by),
		     cancelled_at = COALESCE(?, cancelled_at),
		     version = version + 1,
		     updated_at = ?
		 WHERE id = ? AND version = ? AND status = ?`,
		change.To,
		change.PaidAt,
		change.PaymentMethod,
		change.BatchPaymentID,
		change.CancelReason,
		change.CancelledBy,
		change.CancelledAt,
		change.UpdatedAt,
		change.ID,
		change.ExpectedVersion,
		change.From,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ObligationFilter) ([]*domain.Obligation, error) {
	stmt := conn.WithContext(ctx).Model(&domain.Obligation{})
	if id := strings.TrimSpace(filter.InstructorID); id != "" {
		stmt = stmt.Where("instructor_id = ?", id)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Kind != "" {
		stmt = stmt.Where("kind = ?", filter.Kind)
	}
	if filter.PeriodMonth != nil {
		stmt = stmt.Where("period_month = ?", filter.PeriodMonth.UTC())
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

	var rows []*domain.Obligation
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) firstObligation(ctx context.Context, conn *gorm.DB, query string, args ...interface{}) (*domain.Obligation, error) {
	var o domain.Obligation
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&o).Error; err != nil {
		return nil, err
	}
	if o.ID == 0 {
		return nil, nil
	}
	return &o, nil
}
