package aggregator

import (
	"fmt"
	"time"

	"github.com/smallbiznis/cardreport/internal/calendar"
	"github.com/smallbiznis/cardreport/internal/report/domain"
)

// Period identifies one aggregate document.
type Period interface {
	Granularity() domain.Granularity
	Path() string
	// Bounds returns the first and last civil days of the period in cal's zone.
	Bounds(cal calendar.Calendar) (start, end time.Time)
	Label() string
	Validate() error

	stamp(a *domain.Aggregate)
}

// Daily is one civil day.
type Daily struct {
	Year  int
	Month time.Month
	Day   int
}

// Weekly is one clamped term of a month.
type Weekly struct {
	Year  int
	Month time.Month
	Term  int
}

// Monthly is one calendar month.
type Monthly struct {
	Year  int
	Month time.Month
}

func DailyOf(t time.Time) Daily { return dailyOf(calendar.Info(t)) }

func WeeklyOf(t time.Time) Weekly { return weeklyOf(calendar.Info(t)) }

func MonthlyOf(t time.Time) Monthly { return monthlyOf(calendar.Info(t)) }

func dailyOf(info calendar.TermInfo) Daily {
	return Daily{Year: info.Year, Month: info.Month, Day: info.Day}
}

func weeklyOf(info calendar.TermInfo) Weekly {
	return Weekly{Year: info.Year, Month: info.Month, Term: info.Term}
}

func monthlyOf(info calendar.TermInfo) Monthly {
	return Monthly{Year: info.Year, Month: info.Month}
}

// PeriodOf returns the period of granularity g containing t, in the default zone.
func PeriodOf(g domain.Granularity, t time.Time) (Period, error) {
	return PeriodIn(calendar.Calendar{}, g, t)
}

// PeriodIn returns the period of granularity g containing t, read in cal's zone.
func PeriodIn(cal calendar.Calendar, g domain.Granularity, t time.Time) (Period, error) {
	info := cal.Info(t)
	switch g {
	case domain.GranularityDaily:
		return dailyOf(info), nil
	case domain.GranularityWeekly:
		return weeklyOf(info), nil
	case domain.GranularityMonthly:
		return monthlyOf(info), nil
	default:
		return nil, domain.ErrInvalidGranularity
	}
}

func (Daily) Granularity() domain.Granularity { return domain.GranularityDaily }

func (d Daily) Path() string { return calendar.DailyPath(d.Year, d.Month, d.Day) }

func (d Daily) Bounds(cal calendar.Calendar) (time.Time, time.Time) {
	day := cal.Date(d.Year, d.Month, d.Day)
	return day, day
}

func (d Daily) Label() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Daily) Validate() error {
	if !validMonth(d.Year, d.Month) || d.Day < 1 || d.Day > calendar.DaysIn(d.Year, d.Month) {
		return domain.ErrInvalidPeriod
	}
	return nil
}

func (d Daily) stamp(a *domain.Aggregate) {
	a.Year, a.Month, a.Day = d.Year, int(d.Month), d.Day
}

func (Weekly) Granularity() domain.Granularity { return domain.GranularityWeekly }

func (w Weekly) Path() string { return calendar.WeeklyPath(w.Year, w.Month, w.Term) }

func (w Weekly) Bounds(cal calendar.Calendar) (time.Time, time.Time) {
	start, end, _ := cal.TermBounds(w.Year, w.Month, w.Term)
	return start, end
}

func (w Weekly) Label() string {
	start, end, _ := calendar.TermBounds(w.Year, w.Month, w.Term)
	return fmt.Sprintf("%04d-%02d term%d (%02d/%02d-%02d/%02d)",
		w.Year, int(w.Month), w.Term,
		int(start.Month()), start.Day(), int(end.Month()), end.Day())
}

func (w Weekly) Validate() error {
	if !validMonth(w.Year, w.Month) {
		return domain.ErrInvalidPeriod
	}
	if _, _, ok := calendar.TermBounds(w.Year, w.Month, w.Term); !ok {
		return domain.ErrInvalidPeriod
	}
	return nil
}

func (w Weekly) stamp(a *domain.Aggregate) {
	a.Year, a.Month, a.Term = w.Year, int(w.Month), w.Term
}

func (Monthly) Granularity() domain.Granularity { return domain.GranularityMonthly }

func (m Monthly) Path() string { return calendar.MonthlyPath(m.Year, m.Month) }

func (m Monthly) Bounds(cal calendar.Calendar) (time.Time, time.Time) {
	return cal.MonthBounds(m.Year, m.Month)
}

func (m Monthly) Label() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m Monthly) Validate() error {
	if !validMonth(m.Year, m.Month) {
		return domain.ErrInvalidPeriod
	}
	return nil
}

func (m Monthly) stamp(a *domain.Aggregate) {
	a.Year, a.Month = m.Year, int(m.Month)
}

func validMonth(year int, month time.Month) bool {
	return year > 0 && month >= time.January && month <= time.December
}
