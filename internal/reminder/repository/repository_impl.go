package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	"github.com/smallbiznis/instructorledger/internal/reminder/domain"
	"github.com/smallbiznis/instructorledger/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, conn *gorm.DB, obligationID snowflake.ID) (*domain.State, error) {
	var state domain.State
	err := conn.WithContext(ctx).Raw(
		`SELECT obligation_id, level, last_sent_at, version, updated_at
		 FROM reminder_states
		 WHERE obligation_id = ?`,
		obligationID,
	).Scan(&state).Error
	if err != nil {
		return nil, err
	}
	if state.ObligationID == 0 {
		return nil, nil
	}
	return &state, nil
}

func (r *repo) Save(ctx context.Context, conn *gorm.DB, next domain.State, expectedVersion int64) (bool, error) {
	if expectedVersion == 0 {
		insert, suffix := db.InsertIgnore(conn, "obligation_id")
		result := conn.WithContext(ctx).Exec(
			insert+` reminder_states (obligation_id, level, last_sent_at, version, updated_at)
			 VALUES (?, ?, ?, ?, ?) `+suffix,
			next.ObligationID,
			next.Level,
			next.LastSentAt,
			next.Version,
			next.UpdatedAt,
		)
		if result.Error != nil {
			return false, result.Error
		}
		return result.RowsAffected == 1, nil
	}

	result := conn.WithContext(ctx).Exec(
		`UPDATE reminder_states
		 SET level = ?, last_sent_at = ?, version = ?, updated_at = ?
		 WHERE obligation_id = ? AND version = ?`,
		next.Level,
		next.LastSentAt,
		next.Version,
		next.UpdatedAt,
		next.ObligationID,
		expectedVersion,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Reset(ctx context.Context, conn *gorm.DB, obligationIDs []snowflake.ID, at time.Time) error {
	if len(obligationIDs) == 0 {
		return nil
	}
	return conn.WithContext(ctx).Exec(
		`UPDATE reminder_states
		 SET level = ?, last_sent_at = NULL, version = version + 1, updated_at = ?
		 WHERE obligation_id IN ? AND level <> ?`,
		domain.LevelNone,
		at.UTC(),
		obligationIDs,
		domain.LevelNone,
	).Error
}

func (r *repo) ListDue(ctx context.Context, conn *gorm.DB, query domain.DueQuery) ([]domain.Candidate, error) {
	if len(query.Kinds) == 0 {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	now := query.Now.UTC()

	var rows []struct {
		ID           snowflake.ID
		InstructorID string
	}
	err := conn.WithContext(ctx).Raw(
		`SELECT o.id, o.instructor_id
		 FROM obligations o
		 LEFT JOIN reminder_states rs ON rs.obligation_id = o.id
		 WHERE o.status = ? AND o.kind IN ? AND o.amount > 0
		   AND (rs.obligation_id IS NULL
		        OR rs.level = ?
		        OR (rs.level = ? AND (rs.last_sent_at IS NULL OR rs.last_sent_at <= ?))
		        OR (rs.level = ? AND (rs.last_sent_at IS NULL OR rs.last_sent_at <= ?)))
		 ORDER BY o.due_date ASC, o.id ASC
		 LIMIT ?`,
		ledgerdomain.StatusOverdue,
		query.Kinds,
		domain.LevelNone,
		domain.LevelReminder,
		now.Add(-query.Intervals.WarningAfter),
		domain.LevelRegisteredLetterWarning,
		now.Add(-query.Intervals.SuspensionAfter),
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Candidate{ObligationID: row.ID, InstructorID: row.InstructorID})
	}
	return out, nil
}
