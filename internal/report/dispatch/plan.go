package dispatch

import (
	"time"

	"github.com/smallbiznis/cardreport/internal/calendar"
	"github.com/smallbiznis/cardreport/internal/report/aggregator"
	"github.com/smallbiznis/cardreport/internal/report/domain"
)

// target is one summary the run should deliver.
type target struct {
	step   domain.Granularity
	period aggregator.Period
}

// plan lists the summaries due on the civil day containing now. Everything is
// computed against yesterday: its day always, its term when yesterday closed
// the term, its month when yesterday closed the month. If yesterday did not
// close a month but today is the 1st, the previous month is sent instead.
func plan(cal calendar.Calendar, now time.Time) []target {
	yesterday := cal.Yesterday(now)
	info := cal.Info(yesterday)

	targets := []target{{
		step:   domain.GranularityDaily,
		period: aggregator.Daily{Year: info.Year, Month: info.Month, Day: info.Day},
	}}

	if info.IsLastDayOfTerm {
		targets = append(targets, target{
			step:   domain.GranularityWeekly,
			period: resolveWeeklyTarget(info),
		})
	}

	switch {
	case info.IsLastDayOfMonth:
		targets = append(targets, target{
			step:   domain.GranularityMonthly,
			period: aggregator.Monthly{Year: info.Year, Month: info.Month},
		})
	case cal.Info(now).Day == 1:
		y, m := cal.PreviousMonth(now)
		targets = append(targets, target{
			step:   domain.GranularityMonthly,
			period: aggregator.Monthly{Year: y, Month: m},
		})
	}
	return targets
}

// resolveWeeklyTarget returns the term that just ended: yesterday's own term,
// clamped to yesterday's month. When the natural week runs on into the next
// month, today's term is the new month's term 1, which has only started;
// dispatching it would flag it sent before it closes.
func resolveWeeklyTarget(yesterday calendar.TermInfo) aggregator.Weekly {
	return aggregator.Weekly{
		Year:  yesterday.Year,
		Month: yesterday.Month,
		Term:  yesterday.Term,
	}
}
