package domain

import (
	"context"
	"time"
)

type Service interface {
	SetProfile(ctx context.Context, req SetProfileRequest) (Profile, error)
	Resolve(ctx context.Context, instructorID string, at time.Time) (Profile, error)
	Current(ctx context.Context, instructorID string) (Profile, error)
	History(ctx context.Context, instructorID string) ([]Profile, error)
	ActiveAt(ctx context.Context, at time.Time) ([]Profile, error)
	Instructors(ctx context.Context) ([]string, error)
}

type SetProfileRequest struct {
	InstructorID  string    `validate:"required,max=64"`
	Terms         Terms     `validate:"required"`
	EffectiveFrom time.Time `validate:"required"`
	CreatedBy     string    `validate:"max=128"`
}
