package aggregator

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/cardreport/internal/calendar"
	"github.com/smallbiznis/cardreport/internal/clock"
	"github.com/smallbiznis/cardreport/internal/observability/metrics"
	"github.com/smallbiznis/cardreport/internal/report/alert"
	"github.com/smallbiznis/cardreport/internal/report/domain"
)

type Params struct {
	fx.In

	Store   domain.Store
	Alerts  *alert.Evaluator `optional:"true"`
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.ReportMetrics `optional:"true"`
	// Calendar is the civil zone periods are computed in; the zero value is JST.
	Calendar calendar.Calendar `optional:"true"`
}

// Set bundles the three granularities fed by every usage event.
type Set struct {
	Daily   *Aggregator
	Weekly  *Aggregator
	Monthly *Aggregator

	cal calendar.Calendar
}

func NewSet(p Params) *Set {
	s := &Set{
		Daily:   New(domain.GranularityDaily, p.Store, nil, p.Clock, p.Log, p.Metrics),
		Weekly:  New(domain.GranularityWeekly, p.Store, p.Alerts, p.Clock, p.Log, p.Metrics),
		Monthly: New(domain.GranularityMonthly, p.Store, p.Alerts, p.Clock, p.Log, p.Metrics),
		cal:     p.Calendar,
	}
	for _, a := range s.All() {
		a.cal = p.Calendar
	}
	return s
}

// Calendar is the civil calendar every aggregator of the set uses.
func (s *Set) Calendar() calendar.Calendar { return s.cal }

// For returns the aggregator of g, or nil.
func (s *Set) For(g domain.Granularity) *Aggregator {
	switch g {
	case domain.GranularityDaily:
		return s.Daily
	case domain.GranularityWeekly:
		return s.Weekly
	case domain.GranularityMonthly:
		return s.Monthly
	default:
		return nil
	}
}

// All lists the aggregators from finest to coarsest.
func (s *Set) All() []*Aggregator {
	return []*Aggregator{s.Daily, s.Weekly, s.Monthly}
}

var Module = fx.Module("report.aggregator",
	fx.Provide(NewSet),
)
