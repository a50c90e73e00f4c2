package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	Run(ctx context.Context, now time.Time, limit int) (RunResult, error)
	Reset(ctx context.Context, tx *gorm.DB, obligationIDs []snowflake.ID) error
	Get(ctx context.Context, obligationID snowflake.ID) (State, error)
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, obligationID snowflake.ID) (*State, error)
	// Save writes next when the stored version still equals expectedVersion.
	// expectedVersion 0 means no row exists yet.
	Save(ctx context.Context, db *gorm.DB, next State, expectedVersion int64) (bool, error)
	Reset(ctx context.Context, db *gorm.DB, obligationIDs []snowflake.ID, at time.Time) error
	// ListDue returns overdue obligations whose next escalation step is due at
	// query.Now. Obligations still inside their interval, already suspended or
	// owing nothing are left out.
	ListDue(ctx context.Context, db *gorm.DB, query DueQuery) ([]Candidate, error)
}

type DueQuery struct {
	Kinds     []string
	Now       time.Time
	Intervals Intervals
	Limit     int
}

// Candidate is an overdue obligation ready for its next step.
type Candidate struct {
	ObligationID snowflake.ID
	InstructorID string
}
