package domain

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every input error of this package.
var ErrValidation = errors.New("validation_error")

var (
	ErrInvalidInstructor     = fmt.Errorf("%w: instructor_id", ErrValidation)
	ErrInvalidModelKind      = fmt.Errorf("%w: model_kind", ErrValidation)
	ErrInvalidCommissionRate = fmt.Errorf("%w: rate_percent must be between 0 and 50 with at most 2 decimals", ErrValidation)
	ErrInvalidFlatFee        = fmt.Errorf("%w: monthly_amount must be between 0 and 500000 minor units", ErrValidation)
	ErrInvalidEffectiveFrom  = fmt.Errorf("%w: effective_from must be after the current profile or before the earliest one", ErrValidation)

	ErrProfileNotFound = errors.New("compensation_profile_not_found")
	ErrProfileConflict = errors.New("compensation_profile_conflict")
)

var (
	ErrMissingEffectiveFrom = fmt.Errorf("%w: effective_from", ErrValidation)
	ErrInvalidCreatedBy     = fmt.Errorf("%w: created_by", ErrValidation)
)
