// Package dispatch sends the end-of-period summaries once per civil day.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/cardreport/internal/calendar"
	"github.com/smallbiznis/cardreport/internal/clock"
	"github.com/smallbiznis/cardreport/internal/lock"
	"github.com/smallbiznis/cardreport/internal/observability/metrics"
	"github.com/smallbiznis/cardreport/internal/observability/tracing"
	"github.com/smallbiznis/cardreport/internal/report/aggregator"
	"github.com/smallbiznis/cardreport/internal/report/domain"
)

type Params struct {
	fx.In

	Aggregators *aggregator.Set
	Notifier    domain.Notifier `optional:"true"`
	Locker      lock.Locker     `optional:"true"`
	Clock       clock.Clock
	Log         *zap.Logger
	GenID       *snowflake.Node        `optional:"true"`
	Metrics     *metrics.ReportMetrics `optional:"true"`
	Config      Config                 `optional:"true"`
}

type Dispatcher struct {
	aggregators *aggregator.Set
	notifier    domain.Notifier
	locker      lock.Locker
	clock       clock.Clock
	cal         calendar.Calendar
	log         *zap.Logger
	genID       *snowflake.Node
	metrics     *metrics.ReportMetrics
	cfg         Config
}

func New(p Params) (*Dispatcher, error) {
	if p.Aggregators == nil || p.Clock == nil || p.Log == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	if _, err := ParseAt(cfg.At); err != nil {
		return nil, err
	}
	return &Dispatcher{
		aggregators: p.Aggregators,
		notifier:    p.Notifier,
		locker:      p.Locker,
		clock:       p.Clock,
		cal:         p.Aggregators.Calendar(),
		log:         p.Log.Named("report.dispatch"),
		genID:       p.GenID,
		metrics:     p.Metrics,
		cfg:         cfg,
	}, nil
}

// RunOnce dispatches every summary due today. Steps run independently; the
// returned error is only set when the run could not start. Step failures are
// in Result.Err().
func (d *Dispatcher) RunOnce(ctx context.Context) (_ Result, err error) {
	start := time.Now()
	now := d.clock.Now()
	res := Result{
		RunID:  d.runID(),
		Now:    now,
		Target: d.cal.Yesterday(now),
	}
	ctx, span := tracing.Start(ctx, "report.dispatch.run",
		attribute.String("dispatch.run_id", res.RunID),
		attribute.String("dispatch.target", res.Target.Format("2006-01-02")),
	)
	defer func() {
		span.SetAttributes(attribute.Bool("dispatch.skipped", res.Skipped))
		if err == nil {
			tracing.End(span, res.Err())
			return
		}
		tracing.End(span, err)
	}()
	log := d.log.With(
		zap.String("run_id", res.RunID),
		zap.String("target", res.Target.Format("2006-01-02")),
	)
	ctx = aggregator.WithActor(ctx, "dispatcher")

	if d.locker != nil {
		token, ok, err := d.locker.TryLock(ctx, d.cfg.LockKey, d.cfg.LockTTL)
		if err != nil {
			return res, fmt.Errorf("acquire dispatch lock: %w", err)
		}
		if !ok {
			res.Skipped = true
			log.Info("dispatch already running elsewhere, skipping")
			return res, nil
		}
		defer func() {
			if err := d.locker.Release(context.WithoutCancel(ctx), d.cfg.LockKey, token); err != nil {
				log.Warn("failed to release dispatch lock", zap.Error(err))
			}
		}()
	}

	for _, t := range plan(d.cal, now) {
		step := d.runStep(ctx, log, t)
		d.metrics.IncDispatch(string(step.Step), string(step.Outcome))
		res.Steps = append(res.Steps, step)
	}
	d.metrics.ObserveDispatchDuration(time.Since(start))

	if err := res.Err(); err != nil {
		log.Warn("dispatch finished with failures", zap.Error(err))
	} else {
		log.Info("dispatch finished", zap.Int("steps", len(res.Steps)))
	}
	return res, nil
}

// runStep isolates one step: its own timeout, and a panic becomes a failed step.
func (d *Dispatcher) runStep(parent context.Context, log *zap.Logger, t target) (res StepResult) {
	res = StepResult{Step: t.step, Path: t.period.Path(), Label: t.period.Label()}
	log = log.With(zap.String("step", string(t.step)), zap.String("path", res.Path))

	ctx, span := tracing.Start(parent, "report.dispatch."+string(t.step),
		attribute.String("report.path", res.Path),
	)
	defer func() {
		span.SetAttributes(attribute.String("dispatch.outcome", string(res.Outcome)))
		tracing.End(span, res.Err)
	}()
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = domain.NewError(domain.KindGeneral, "dispatch."+string(t.step), res.Path, fmt.Errorf("panic: %v", r))
			log.Error("dispatch step panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.StepTimeout)
	defer cancel()

	res.Outcome, res.Err = d.dispatch(ctx, t)
	switch {
	case res.Err != nil:
		log.Warn("dispatch step failed", zap.String("outcome", string(res.Outcome)), zap.Error(res.Err))
	default:
		log.Info("dispatch step done", zap.String("outcome", string(res.Outcome)))
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, t target) (Outcome, error) {
	op := "dispatch." + string(t.step)
	agg := d.aggregators.For(t.step)
	if agg == nil {
		return OutcomeFailed, domain.Validation(op, t.period.Path(), domain.ErrInvalidGranularity)
	}

	doc, ok, err := agg.Get(ctx, t.period)
	if err != nil {
		return OutcomeFailed, err
	}
	if !ok {
		return OutcomeNoActivity, nil
	}
	if doc.Dispatched {
		return OutcomeAlreadyDispatched, nil
	}
	if d.notifier == nil {
		return OutcomeNoChannel, nil
	}

	sent, err := domain.Send(ctx, d.notifier, domain.SummaryPayload(doc, t.period.Label()))
	if err != nil {
		return OutcomeFailed, domain.NewError(domain.KindNotification, op, doc.Path, err)
	}
	if !sent {
		return OutcomeNotDelivered, domain.NewError(domain.KindNotification, op, doc.Path, domain.ErrNotDelivered)
	}

	if err := agg.MarkDispatched(ctx, t.period); err != nil {
		// delivered but not recorded; the next run sends it again
		return OutcomeFailed, err
	}
	return OutcomeSent, nil
}

func (d *Dispatcher) runID() string {
	if d.genID != nil {
		return d.genID.Generate().String()
	}
	return fmt.Sprintf("%d", d.clock.Now().UnixNano())
}

