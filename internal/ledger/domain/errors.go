package domain

import (
	"errors"
	"fmt"
)

var ErrValidation = errors.New("validation_error")

var (
	ErrInvalidInstructor    = fmt.Errorf("%w: instructor_id", ErrValidation)
	ErrInvalidLesson        = fmt.Errorf("%w: lesson_id", ErrValidation)
	ErrInvalidAmount        = fmt.Errorf("%w: amount", ErrValidation)
	ErrInvalidPeriod        = fmt.Errorf("%w: period_month", ErrValidation)
	ErrInvalidDueDate       = fmt.Errorf("%w: due_date", ErrValidation)
	ErrInvalidStatus        = fmt.Errorf("%w: status", ErrValidation)
	ErrInvalidKind          = fmt.Errorf("%w: kind", ErrValidation)
	ErrInvalidPaymentMethod = fmt.Errorf("%w: payment_method", ErrValidation)
	ErrInvalidPaidAt        = fmt.Errorf("%w: paid_at", ErrValidation)
	ErrInvalidCollectedBy   = fmt.Errorf("%w: collected_by", ErrValidation)
	ErrInvalidSplits        = fmt.Errorf("%w: split_ids", ErrValidation)
	ErrInvalidTimeRange     = fmt.Errorf("%w: from must be before to", ErrValidation)
	ErrInvalidPageToken     = fmt.Errorf("%w: page_token", ErrValidation)
	ErrReasonRequired       = fmt.Errorf("%w: cancellation reason is required", ErrValidation)

	ErrDuplicateSplit      = errors.New("duplicate_revenue_split")
	ErrDuplicateObligation = errors.New("duplicate_obligation")
	ErrSplitAlreadyPaidOut = errors.New("split_already_paid_out")
	ErrSplitNotFound       = errors.New("revenue_split_not_found")
	ErrObligationNotFound  = errors.New("obligation_not_found")
	ErrInvalidTransition   = errors.New("invalid_status_transition")
	ErrConcurrencyConflict = errors.New("concurrency_conflict")
)
