package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidPath = errors.New("invalid_detail_path")

// DetailKey identifies a raw usage record document.
type DetailKey struct {
	Year          int
	Month         time.Month
	Term          int
	Day           int
	CreatedMillis int64
}

// DetailPath builds the raw-record path. The suffix is the creation instant in
// epoch milliseconds; two records created in the same millisecond collide and
// the caller has to pick a new instant.
func DetailPath(occurredAt, createdAt time.Time) string {
	return Calendar{}.DetailPath(occurredAt, createdAt)
}

// DetailPath builds the raw-record path with occurredAt read in c's zone.
func (c Calendar) DetailPath(occurredAt, createdAt time.Time) string {
	info := c.Info(occurredAt)
	return fmt.Sprintf("details/%04d/%02d/term%d/%02d/%d",
		info.Year, int(info.Month), info.Term, info.Day, createdAt.UnixMilli())
}

// DailyPath is the daily report document for a civil day.
func DailyPath(year int, month time.Month, day int) string {
	return fmt.Sprintf("reports/daily/%04d-%02d/%02d", year, int(month), day)
}

// WeeklyPath is the weekly (term) report document.
func WeeklyPath(year int, month time.Month, term int) string {
	return fmt.Sprintf("reports/weekly/%04d-%02d/term%d", year, int(month), term)
}

// MonthlyPath is the monthly report document.
func MonthlyPath(year int, month time.Month) string {
	return fmt.Sprintf("reports/monthly/%04d/%02d", year, int(month))
}

// ParseDetailPath is the inverse of DetailPath.
func ParseDetailPath(path string) (DetailKey, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 6 || parts[0] != "details" || !strings.HasPrefix(parts[3], "term") {
		return DetailKey{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	nums := make([]int64, 0, 5)
	for _, raw := range []string{parts[1], parts[2], strings.TrimPrefix(parts[3], "term"), parts[4], parts[5]} {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return DetailKey{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
		nums = append(nums, n)
	}

	key := DetailKey{
		Year:          int(nums[0]),
		Month:         time.Month(nums[1]),
		Term:          int(nums[2]),
		Day:           int(nums[3]),
		CreatedMillis: nums[4],
	}
	if key.Month < time.January || key.Month > time.December ||
		key.Day < 1 || key.Day > DaysIn(key.Year, key.Month) ||
		InfoOf(key.Year, key.Month, key.Day).Term != key.Term {
		return DetailKey{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return key, nil
}

// Date returns the civil day the record belongs to, in the default zone.
func (k DetailKey) Date() time.Time {
	return Date(k.Year, k.Month, k.Day)
}
