package domain

import "time"

// GenerationResult summarizes one monthly fee generation run.
type GenerationResult struct {
	PeriodStart time.Time `json:"period_start"`
	Created     int       `json:"created"`
	Existing    int       `json:"existing"`
	Skipped     int       `json:"skipped"`
	Missing     int       `json:"missing"`
	Failed      int       `json:"failed"`
}

// PayoutResult summarizes one payout accumulation run.
type PayoutResult struct {
	PeriodStart time.Time `json:"period_start"`
	Created     int       `json:"created"`
	Existing    int       `json:"existing"`
	Failed      int       `json:"failed"`
	Amount      int64     `json:"amount"`
}

// PeriodStart returns the first instant of t's month in loc, in UTC.
func PeriodStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc).UTC()
}

// PeriodEnd returns the first instant of the month after periodStart.
func PeriodEnd(periodStart time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return periodStart.In(loc).AddDate(0, 1, 0).UTC()
}

// PreviousPeriodStart returns the start of the month before t's month.
func PreviousPeriodStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return PeriodStart(t, loc).In(loc).AddDate(0, -1, 0).UTC()
}

// AddDays adds calendar days in loc so DST shifts keep local midnight.
func AddDays(t time.Time, days int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).AddDate(0, 0, days).UTC()
}
