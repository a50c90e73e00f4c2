package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrValidation         = errors.New("validation_error")
	ErrInvalidObligations = fmt.Errorf("%w: obligation_ids", ErrValidation)
	ErrInvalidMethod      = fmt.Errorf("%w: payment_method", ErrValidation)
	ErrInvalidPaymentDate = fmt.Errorf("%w: payment_date", ErrValidation)
	ErrInvalidNotes       = fmt.Errorf("%w: notes", ErrValidation)
	ErrInvalidCreatedBy   = fmt.Errorf("%w: created_by", ErrValidation)
	ErrInvalidTimeRange   = fmt.Errorf("%w: from must be before to", ErrValidation)
	ErrInvalidPageToken   = fmt.Errorf("%w: page_token", ErrValidation)

	ErrNotSettleable = errors.New("obligations_not_settleable")
	ErrBatchNotFound = errors.New("batch_payment_not_found")
)

// NotSettleableError names the obligations that blocked a batch.
type NotSettleableError struct {
	ObligationIDs []snowflake.ID
}

func (e *NotSettleableError) Error() string {
	ids := make([]string, 0, len(e.ObligationIDs))
	for _, id := range e.ObligationIDs {
		ids = append(ids, id.String())
	}
	return fmt.Sprintf("%s: %s", ErrNotSettleable.Error(), strings.Join(ids, ","))
}

func (e *NotSettleableError) Is(target error) bool {
	return target == ErrNotSettleable
}
