package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rec *ProfileRecord) error
	// LockOpen returns the open profile row locked for update, or nil.
	LockOpen(ctx context.Context, db *gorm.DB, instructorID string) (*ProfileRecord, error)
	Close(ctx context.Context, db *gorm.DB, rec *ProfileRecord, effectiveTo time.Time) (bool, error)
	FindOpen(ctx context.Context, db *gorm.DB, instructorID string) (*ProfileRecord, error)
	FindAt(ctx context.Context, db *gorm.DB, instructorID string, at time.Time) (*ProfileRecord, error)
	ListByInstructor(ctx context.Context, db *gorm.DB, instructorID string) ([]ProfileRecord, error)
	ListActiveAt(ctx context.Context, db *gorm.DB, at time.Time) ([]ProfileRecord, error)
	ListInstructors(ctx context.Context, db *gorm.DB) ([]string, error)
}
