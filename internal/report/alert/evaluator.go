// Package alert fires the one-shot threshold notifications of weekly and
// monthly aggregates.
package alert

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/cardreport/internal/observability/metrics"
	"github.com/smallbiznis/cardreport/internal/report/domain"
)

type Params struct {
	fx.In

	Store    domain.Store
	Notifier domain.Notifier `optional:"true"`
	Source   Source
	Log      *zap.Logger
	Metrics  *metrics.ReportMetrics `optional:"true"`
}

type Evaluator struct {
	store    domain.Store
	notifier domain.Notifier
	source   Source
	log      *zap.Logger
	metrics  *metrics.ReportMetrics
}

func New(p Params) *Evaluator {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{
		store:    p.Store,
		notifier: p.Notifier,
		source:   p.Source,
		log:      log.Named("report.alert"),
		metrics:  p.Metrics,
	}
}

// Evaluate checks agg against its thresholds and sends at most one alert.
// The level flag is raised only after the notifier confirms delivery; a failed
// send is logged and reported as LevelNone. Only a failure to persist the
// raised flag is returned. On success agg.Alerts is updated in place.
func (e *Evaluator) Evaluate(ctx context.Context, agg *domain.Aggregate) (Level, error) {
	if e == nil || agg == nil || e.notifier == nil || e.source == nil {
		return LevelNone, nil
	}
	if agg.Granularity != domain.GranularityWeekly && agg.Granularity != domain.GranularityMonthly {
		return LevelNone, nil
	}

	thresholds, ok := e.source.Thresholds(agg.Granularity)
	if !ok {
		return LevelNone, nil
	}
	level := Crossed(thresholds, agg)
	if level == LevelNone {
		return LevelNone, nil
	}

	granularity := string(agg.Granularity)
	payload := domain.Payload{
		Kind:        domain.PayloadAlert,
		Granularity: agg.Granularity,
		Path:        agg.Path,
		PeriodStart: agg.PeriodStart,
		PeriodEnd:   agg.PeriodEnd,
		TotalAmount: agg.TotalAmount,
		TotalCount:  agg.TotalCount,
		AlertLevel:  int(level),
		Threshold:   thresholds.For(level),
	}

	sent, err := domain.Send(ctx, e.notifier, payload)
	if err != nil || !sent {
		e.metrics.IncAlert(granularity, level.String(), "failed")
		e.log.Warn("alert notification not delivered",
			zap.String("path", agg.Path),
			zap.Int("level", int(level)),
			zap.Int64("total_amount", agg.TotalAmount),
			zap.Bool("sent", sent),
			zap.Error(err),
		)
		return LevelNone, nil
	}

	if err := e.store.Update(ctx, agg.Path, map[string]any{domain.AlertField(int(level)): true}); err != nil {
		e.metrics.IncAlert(granularity, level.String(), "flag_failed")
		if domain.KindOf(err) == domain.KindGeneral {
			err = domain.DataAccess("alert.flag", agg.Path, err)
		}
		return level, err
	}
	agg.Alerts.Set(int(level))

	e.metrics.IncAlert(granularity, level.String(), "sent")
	e.log.Info("alert sent",
		zap.String("path", agg.Path),
		zap.Int("level", int(level)),
		zap.Int64("threshold", thresholds.For(level)),
		zap.Int64("total_amount", agg.TotalAmount),
		zap.String("granularity", granularity),
	)
	return level, nil
}
