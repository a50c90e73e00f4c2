package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/instructorledger/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert appends one entry. Audit rows are never updated or deleted.
func (r *repo) Insert(ctx context.Context, conn *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return conn.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	stmt := conn.WithContext(ctx).Model(&domain.AuditLog{})

	equals := []struct {
		column string
		value  string
	}{
		{"action", filter.Action},
		{"target_type", filter.TargetType},
		{"target_id", filter.TargetID},
		{"actor_type", filter.ActorType},
		{"actor_id", filter.ActorID},
	}
	for _, eq := range equals {
		if v := strings.TrimSpace(eq.value); v != "" {
			stmt = stmt.Where(eq.column+" = ?", v)
		}
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at < ?", filter.EndAt.UTC())
	}
	// newest first; the cursor is the last row of the previous page
	if c := filter.Cursor; c != nil {
		stmt = stmt.Where("(created_at < ? OR (created_at = ? AND id < ?))", c.CreatedAt, c.CreatedAt, c.ID)
	}
	if filter.Limit > 0 {
		// one extra row tells the caller whether another page exists
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var logs []*domain.AuditLog
	if err := stmt.Order("created_at DESC, id DESC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
