package domain

import "errors"

var (
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidAggregate = errors.New("invalid_aggregate")
)
