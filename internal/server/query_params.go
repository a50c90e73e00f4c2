package server

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const dateOnlyLayout = "2006-01-02"

func parseSnowflakeID(field, value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return parsed, nil
}

// parseOptionalTime accepts RFC 3339 or a calendar date. Dates are read in loc,
// at the start of the day, or at the start of the next day when endOfDay is set
// so the result can serve as an exclusive upper bound.
func parseOptionalTime(field, value string, loc *time.Location, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if parsed, err := time.ParseInLocation(dateOnlyLayout, trimmed, loc); err == nil {
		if endOfDay {
			parsed = parsed.AddDate(0, 0, 1)
		}
		parsed = parsed.UTC()
		return &parsed, nil
	}
	return nil, newValidationError(field, "invalid_"+field, "invalid "+field)
}

func parseRequiredTime(field, value string, loc *time.Location, endOfDay bool) (time.Time, error) {
	parsed, err := parseOptionalTime(field, value, loc, endOfDay)
	if err != nil {
		return time.Time{}, err
	}
	if parsed == nil {
		return time.Time{}, newValidationError(field, "required", field+" is required")
	}
	return *parsed, nil
}
