package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/cardreport/internal/calendar"
)

const dateOnlyLayout = "2006-01-02"

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parseOptionalTime accepts RFC 3339 or a bare date, read as a civil day of cal.
func parseOptionalTime(cal calendar.Calendar, value string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		if endOfDay {
			parsed = cal.EndOfDay(cal.Date(parsed.Year(), parsed.Month(), parsed.Day()))
		} else {
			parsed = cal.Date(parsed.Year(), parsed.Month(), parsed.Day())
		}
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}

// parsePathInt reads a positive integer route parameter.
func parsePathInt(value string) (int, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, ErrInvalidRequest
	}
	return parsed, nil
}

func parseOptionalInt32(value string) (int32, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(parsed), nil
}
