package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation    = errors.New("validation_error")
	ErrInvalidWindow = fmt.Errorf("%w: from must be before to", ErrValidation)
)

// Window is the half-open interval [From, To).
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type StatusTotals struct {
	Paid      int64 `json:"paid"`
	Unpaid    int64 `json:"unpaid"`
	Cancelled int64 `json:"cancelled"`
}

type Summary struct {
	Window           Window                  `json:"window"`
	Currency         string                  `json:"currency"`
	GrossRevenue     int64                   `json:"gross_revenue"`
	SchoolShare      int64                   `json:"school_share"`
	NetToInstructors int64                   `json:"net_to_instructors"`
	Lessons          int64                   `json:"lessons"`
	Obligations      StatusTotals            `json:"obligations"`
	ByKind           map[string]StatusTotals `json:"by_kind"`
}

type ExportRow struct {
	Period            string `json:"period"`
	InstructorID      string `json:"instructor_id"`
	GrossRevenue      int64  `json:"gross_revenue"`
	SchoolShare       int64  `json:"school_share"`
	Net               int64  `json:"net"`
	ObligationsPaid   int64  `json:"obligations_paid"`
	ObligationsUnpaid int64  `json:"obligations_unpaid"`
}

// SplitRow and ObligationRow are the raw facts a report is built from.
type SplitRow struct {
	InstructorID string
	CompletedAt  time.Time
	GrossAmount  int64
	SchoolShare  int64
}

type ObligationRow struct {
	InstructorID string
	Kind         string
	Status       string
	PeriodMonth  time.Time
	Amount       int64
}

type Totals struct {
	Lessons     int64
	GrossAmount int64
	SchoolShare int64
}

type GroupTotal struct {
	Kind   string
	Status string
	Amount int64
}
