// Package calendar maps civil dates onto the day / term / month buckets used by
// the usage reports. A term is a Sunday-to-Saturday week clamped to its month,
// so terms never span two months.
package calendar

import (
	"fmt"
	"strings"
	"time"
)

// DefaultZoneName is the civil zone reports are computed in unless overridden.
const DefaultZoneName = "Asia/Tokyo"

var jst = time.FixedZone("JST", 9*60*60)

// Calendar partitions instants in one civil zone. The zero value uses JST.
type Calendar struct {
	loc *time.Location
}

// New returns the calendar of the named IANA zone. An empty name selects JST.
func New(name string) (Calendar, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == DefaultZoneName {
		return Calendar{}, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Calendar{}, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return Calendar{loc: loc}, nil
}

// In returns the calendar of loc.
func In(loc *time.Location) Calendar { return Calendar{loc: loc} }

// Location is the civil zone of c.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return jst
	}
	return c.loc
}

// TermInfo describes where a date falls in the report calendar. TermStart and
// TermEnd are civil midnights in the calendar's zone.
type TermInfo struct {
	Year             int
	Month            time.Month
	Day              int
	Weekday          time.Weekday
	Term             int
	TermStart        time.Time
	TermEnd          time.Time
	IsLastDayOfTerm  bool
	IsLastDayOfMonth bool
}

// Term is one clamped week of a month.
type Term struct {
	Number int
	Start  time.Time
	End    time.Time
}

// Info partitions t in the default zone.
func Info(t time.Time) TermInfo { return Calendar{}.Info(t) }

// InfoOf partitions an explicit civil date in the default zone.
func InfoOf(year int, month time.Month, day int) TermInfo { return Calendar{}.InfoOf(year, month, day) }

// Info partitions t, interpreted in c's zone.
func (c Calendar) Info(t time.Time) TermInfo {
	y, m, d := t.In(c.Location()).Date()
	return c.InfoOf(y, m, d)
}

// InfoOf partitions an explicit civil date.
func (c Calendar) InfoOf(y int, m time.Month, d int) TermInfo {
	last := DaysIn(y, m)
	date := c.Date(y, m, d)
	weekday := date.Weekday()

	startDay := d - int(weekday)
	if startDay < 1 {
		startDay = 1
	}
	endDay := d + int(time.Saturday-weekday)
	if endDay > last {
		endDay = last
	}

	return TermInfo{
		Year:             y,
		Month:            m,
		Day:              d,
		Weekday:          weekday,
		Term:             termNumber(y, m, d),
		TermStart:        c.Date(y, m, startDay),
		TermEnd:          c.Date(y, m, endDay),
		IsLastDayOfTerm:  weekday == time.Saturday || d == endDay,
		IsLastDayOfMonth: d == last,
	}
}

// termNumber is ceil((day + weekday of the 1st) / 7), Sunday being 0.
func termNumber(y int, m time.Month, d int) int {
	offset := int(time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).Weekday())
	return (d + offset + 6) / 7
}

// Terms lists the clamped terms of a month in order. Together they cover
// days 1..DaysIn(year, month) exactly.
func Terms(year int, month time.Month) []Term { return Calendar{}.Terms(year, month) }

func (c Calendar) Terms(year int, month time.Month) []Term {
	last := DaysIn(year, month)
	terms := make([]Term, 0, 6)
	for day := 1; day <= last; {
		info := c.InfoOf(year, month, day)
		terms = append(terms, Term{
			Number: info.Term,
			Start:  info.TermStart,
			End:    info.TermEnd,
		})
		day = info.TermEnd.Day() + 1
	}
	return terms
}

// TermBounds resolves a term by number. ok is false when the month has no such term.
func TermBounds(year int, month time.Month, term int) (start, end time.Time, ok bool) {
	return Calendar{}.TermBounds(year, month, term)
}

func (c Calendar) TermBounds(year int, month time.Month, term int) (start, end time.Time, ok bool) {
	for _, t := range c.Terms(year, month) {
		if t.Number == term {
			return t.Start, t.End, true
		}
	}
	return time.Time{}, time.Time{}, false
}

// TermCount returns how many terms a month has (5, or 6 when a long month starts late in the week).
func TermCount(year int, month time.Month) int {
	return termNumber(year, month, DaysIn(year, month))
}

// DaysIn returns the number of days in a month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Date returns civil midnight of the given day in the default zone.
func Date(year int, month time.Month, day int) time.Time { return Calendar{}.Date(year, month, day) }

// Date returns civil midnight of the given day.
func (c Calendar) Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, c.Location())
}

// StartOfDay truncates t to civil midnight in the default zone.
func StartOfDay(t time.Time) time.Time { return Calendar{}.StartOfDay(t) }

func (c Calendar) StartOfDay(t time.Time) time.Time {
	y, m, d := t.In(c.Location()).Date()
	return c.Date(y, m, d)
}

// EndOfDay returns the last representable instant of the civil day containing t.
func EndOfDay(t time.Time) time.Time { return Calendar{}.EndOfDay(t) }

func (c Calendar) EndOfDay(t time.Time) time.Time {
	return c.StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// MonthBounds returns the first and last civil days of a month.
func MonthBounds(year int, month time.Month) (start, end time.Time) {
	return Calendar{}.MonthBounds(year, month)
}

func (c Calendar) MonthBounds(year int, month time.Month) (start, end time.Time) {
	return c.Date(year, month, 1), c.Date(year, month, DaysIn(year, month))
}

// Yesterday returns civil midnight of the day before now.
func Yesterday(now time.Time) time.Time { return Calendar{}.Yesterday(now) }

func (c Calendar) Yesterday(now time.Time) time.Time {
	return c.StartOfDay(now).AddDate(0, 0, -1)
}

// PreviousMonth returns the year and month preceding the month containing t.
func PreviousMonth(t time.Time) (int, time.Month) { return Calendar{}.PreviousMonth(t) }

func (c Calendar) PreviousMonth(t time.Time) (int, time.Month) {
	y, m, _ := t.In(c.Location()).Date()
	prev := c.Date(y, m, 1).AddDate(0, -1, 0)
	return prev.Year(), prev.Month()
}
