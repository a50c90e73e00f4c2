package domain

import "errors"

var (
	ErrInvalidObligation = errors.New("invalid_obligation_id")
)
