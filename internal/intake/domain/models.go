package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	compdomain "github.com/smallbiznis/instructorledger/internal/compensation/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
)

const (
	StreamLessonsCompleted    = "lessons.completed"
	StreamCompensationChanged = "compensation.changed"
)

var (
	ErrValidation         = errors.New("validation_error")
	ErrInvalidLesson      = fmt.Errorf("%w: lesson_id", ErrValidation)
	ErrInvalidInstructor  = fmt.Errorf("%w: instructor_id", ErrValidation)
	ErrInvalidStudent     = fmt.Errorf("%w: student_id", ErrValidation)
	ErrInvalidCompletedAt = fmt.Errorf("%w: completed_at", ErrValidation)
	ErrInvalidTotalPrice  = fmt.Errorf("%w: total_price", ErrValidation)
	ErrInvalidCollectedBy = fmt.Errorf("%w: collected_by", ErrValidation)
	ErrInvalidPayload     = fmt.Errorf("%w: payload", ErrValidation)
)

// LessonCompleted is published by scheduling once a lesson took place.
type LessonCompleted struct {
	LessonID     string    `json:"lesson_id" validate:"required,max=128"`
	InstructorID string    `json:"instructor_id" validate:"required,max=64"`
	StudentID    string    `json:"student_id" validate:"max=64"`
	CompletedAt  time.Time `json:"completed_at" validate:"required"`
	TotalPrice   int64     `json:"total_price" validate:"gte=0"`
	CollectedBy  string    `json:"collected_by" validate:"omitempty,oneof=school instructor"`
}

// CompensationProfileChanged is published by administration when terms change.
type CompensationProfileChanged struct {
	InstructorID string `json:"instructor_id"`
	ModelKind    string `json:"model_kind"`
	compdomain.Params
	EffectiveFrom time.Time `json:"effective_from"`
	CreatedBy     string    `json:"created_by,omitempty"`
}

type Result struct {
	Split     ledgerdomain.RevenueSplit `json:"split"`
	Duplicate bool                      `json:"duplicate"`
}

type Service interface {
	RecordLesson(ctx context.Context, evt LessonCompleted) (Result, error)
	ChangeProfile(ctx context.Context, evt CompensationProfileChanged) error
}
