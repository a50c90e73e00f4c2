package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertSplit reports false when a split for the lesson already exists.
	InsertSplit(ctx context.Context, db *gorm.DB, split *RevenueSplit) (bool, error)
	FindSplitByLesson(ctx context.Context, db *gorm.DB, lessonID string) (*RevenueSplit, error)
	ListSplits(ctx context.Context, db *gorm.DB, filter SplitFilter) ([]RevenueSplit, error)
	ListPayoutCandidates(ctx context.Context, db *gorm.DB, before time.Time) ([]PayoutCandidate, error)
	// FindPayoutCandidates returns those of splitIDs still eligible for a payout to instructorID.
	FindPayoutCandidates(ctx context.Context, db *gorm.DB, splitIDs []snowflake.ID, instructorID string) ([]PayoutCandidate, error)

	// InsertObligation reports false when the (kind, instructor, period) slot is taken.
	InsertObligation(ctx context.Context, db *gorm.DB, obligation *Obligation) (bool, error)
	InsertPayoutLines(ctx context.Context, db *gorm.DB, lines []PayoutLine) error
	// ReleasePayoutLines frees the splits of a payout so a later payout can claim them.
	ReleasePayoutLines(ctx context.Context, db *gorm.DB, obligationID snowflake.ID) (int64, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Obligation, error)
	FindByPeriod(ctx context.Context, db *gorm.DB, kind ObligationKind, instructorID string, period time.Time) (*Obligation, error)
	LockByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Obligation, error)
	ListPendingPastDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Obligation, error)
	// UpdateStatus applies change only when the stored version and status still match.
	UpdateStatus(ctx context.Context, db *gorm.DB, change StatusChange) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ObligationFilter) ([]*Obligation, error)
}
