// Package aggregator maintains the daily, weekly and monthly running totals.
package aggregator

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/cardreport/internal/calendar"
	"github.com/smallbiznis/cardreport/internal/clock"
	"github.com/smallbiznis/cardreport/internal/observability/metrics"
	"github.com/smallbiznis/cardreport/internal/observability/tracing"
	"github.com/smallbiznis/cardreport/internal/report/alert"
	"github.com/smallbiznis/cardreport/internal/report/domain"
)

const (
	opProcessReport  = "process_report"
	opAmountChange   = "amount_change"
	opDeletion       = "deletion"
	opReactivation   = "reactivation"
	opMarkDispatched = "mark_dispatched"
	opGet            = "get"
)

// Aggregator keeps the aggregates of one granularity. Every counter change is
// a single Store.Mutate call, so concurrent events never lose an increment.
type Aggregator struct {
	granularity domain.Granularity
	cal         calendar.Calendar
	store       domain.Store
	alerts      *alert.Evaluator
	clock       clock.Clock
	log         *zap.Logger
	metrics     *metrics.ReportMetrics
}

// New builds the aggregator of granularity g. alerts may be nil; daily
// aggregates never evaluate thresholds.
func New(g domain.Granularity, store domain.Store, alerts *alert.Evaluator, clk clock.Clock, log *zap.Logger, m *metrics.ReportMetrics) *Aggregator {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if g == domain.GranularityDaily {
		alerts = nil
	}
	return &Aggregator{
		granularity: g,
		store:       store,
		alerts:      alerts,
		clock:       clk,
		log:         log.Named("report." + string(g)),
		metrics:     m,
	}
}

func (a *Aggregator) Granularity() domain.Granularity { return a.granularity }

// PeriodOf returns the period of this granularity containing t.
func (a *Aggregator) PeriodOf(t time.Time) (Period, error) {
	return PeriodIn(a.cal, a.granularity, t)
}

// Ref returns the store's reference to the document at path.
func (a *Aggregator) Ref(path string) domain.DocumentRef { return a.store.Ref(path) }

// ProcessReport adds one record to its period: a missing aggregate is created
// as {amount, 1, [ref]}, an existing one gains amount, one count and ref.
func (a *Aggregator) ProcessReport(ctx context.Context, ref domain.DocumentRef, amount int64, period Period) (_ *domain.Aggregate, err error) {
	ctx, span := a.startSpan(ctx, opProcessReport, ref, period)
	defer func() { tracing.End(span, err) }()

	path, err := a.check(opProcessReport, ref, period)
	if err != nil {
		return nil, err
	}

	agg, err := a.store.Mutate(ctx, path, func(cur *domain.Aggregate, exists bool) (*domain.Aggregate, error) {
		if !exists {
			return a.fresh(ctx, ref, period, amount, 1), nil
		}
		cur.TotalAmount += amount
		cur.TotalCount++
		cur.RecordRefs = append(cur.RecordRefs, ref)
		a.touch(ctx, cur)
		return cur, nil
	})
	if err != nil {
		return nil, a.fail(opProcessReport, path, err)
	}
	a.metrics.IncMutation(string(a.granularity), opProcessReport)
	a.log.Debug("report processed",
		zap.String("path", path),
		zap.String("ref", string(ref)),
		zap.Int64("amount", amount),
		zap.Int64("total_amount", agg.TotalAmount),
		zap.Int64("total_count", agg.TotalCount),
	)

	a.evaluate(ctx, agg)
	return agg, nil
}

// UpdateForAmountChange shifts the total by delta after a record edit. A
// missing aggregate is logged and left alone.
func (a *Aggregator) UpdateForAmountChange(ctx context.Context, ref domain.DocumentRef, period Period, delta int64) (err error) {
	ctx, span := a.startSpan(ctx, opAmountChange, ref, period)
	defer func() { tracing.End(span, err) }()

	path, err := a.check(opAmountChange, ref, period)
	if err != nil {
		return err
	}

	agg, err := a.store.Mutate(ctx, path, func(cur *domain.Aggregate, exists bool) (*domain.Aggregate, error) {
		if !exists {
			return nil, nil
		}
		cur.TotalAmount += delta
		a.touch(ctx, cur)
		return cur, nil
	})
	if err != nil {
		return a.fail(opAmountChange, path, err)
	}
	if agg == nil {
		a.missing(opAmountChange, path, ref)
		return nil
	}
	a.metrics.IncMutation(string(a.granularity), opAmountChange)

	a.evaluate(ctx, agg)
	return nil
}

// UpdateForDeletion applies the (usually negative) deltas of a removed record
// and re-evaluates alerts. The record stays in RecordRefs. A missing aggregate
// is logged and left alone.
func (a *Aggregator) UpdateForDeletion(ctx context.Context, ref domain.DocumentRef, period Period, amountDelta, countDelta int64) (err error) {
	ctx, span := a.startSpan(ctx, opDeletion, ref, period)
	defer func() { tracing.End(span, err) }()

	path, err := a.check(opDeletion, ref, period)
	if err != nil {
		return err
	}

	agg, err := a.store.Mutate(ctx, path, func(cur *domain.Aggregate, exists bool) (*domain.Aggregate, error) {
		if !exists {
			return nil, nil
		}
		cur.TotalAmount += amountDelta
		cur.TotalCount += countDelta
		a.touch(ctx, cur)
		return cur, nil
	})
	if err != nil {
		return a.fail(opDeletion, path, err)
	}
	if agg == nil {
		a.missing(opDeletion, path, ref)
		return nil
	}
	a.metrics.IncMutation(string(a.granularity), opDeletion)
	if agg.TotalCount < 0 {
		a.log.Warn("aggregate count went negative",
			zap.String("path", path),
			zap.String("ref", string(ref)),
			zap.Int64("total_count", agg.TotalCount),
		)
	}

	a.evaluate(ctx, agg)
	return nil
}

// UpdateForReactivation adds a previously deleted record back. Counters are
// incremented unconditionally; ref is appended only when missing. An absent
// aggregate is created from this record alone.
func (a *Aggregator) UpdateForReactivation(ctx context.Context, ref domain.DocumentRef, period Period, amountToAdd, countToAdd int64) (err error) {
	ctx, span := a.startSpan(ctx, opReactivation, ref, period)
	defer func() { tracing.End(span, err) }()

	path, err := a.check(opReactivation, ref, period)
	if err != nil {
		return err
	}

	agg, err := a.store.Mutate(ctx, path, func(cur *domain.Aggregate, exists bool) (*domain.Aggregate, error) {
		if !exists {
			return a.fresh(ctx, ref, period, amountToAdd, countToAdd), nil
		}
		cur.TotalAmount += amountToAdd
		cur.TotalCount += countToAdd
		if !cur.HasRef(ref) {
			cur.RecordRefs = append(cur.RecordRefs, ref)
		}
		a.touch(ctx, cur)
		return cur, nil
	})
	if err != nil {
		return a.fail(opReactivation, path, err)
	}
	a.metrics.IncMutation(string(a.granularity), opReactivation)

	a.evaluate(ctx, agg)
	return nil
}

// Get reads the aggregate of period.
func (a *Aggregator) Get(ctx context.Context, period Period) (*domain.Aggregate, bool, error) {
	path, err := a.check(opGet, "", period)
	if err != nil {
		return nil, false, err
	}
	agg, ok, err := a.store.Get(ctx, path)
	if err != nil {
		return nil, false, a.fail(opGet, path, err)
	}
	return agg, ok, nil
}

// MarkDispatched records that the period summary was delivered.
func (a *Aggregator) MarkDispatched(ctx context.Context, period Period) (err error) {
	ctx, span := a.startSpan(ctx, opMarkDispatched, "", period)
	defer func() { tracing.End(span, err) }()

	path, err := a.check(opMarkDispatched, "", period)
	if err != nil {
		return err
	}
	if err := a.store.Update(ctx, path, map[string]any{"dispatched": true}); err != nil {
		return a.fail(opMarkDispatched, path, err)
	}
	a.metrics.IncMutation(string(a.granularity), opMarkDispatched)
	return nil
}

func (a *Aggregator) startSpan(ctx context.Context, op string, ref domain.DocumentRef, period Period) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("report.granularity", string(a.granularity))}
	if period != nil {
		attrs = append(attrs, attribute.String("report.path", period.Path()))
	}
	if ref != "" {
		attrs = append(attrs, attribute.String("report.ref", string(ref)))
	}
	return tracing.Start(ctx, "report.aggregate."+op, attrs...)
}

func (a *Aggregator) check(op string, ref domain.DocumentRef, period Period) (string, error) {
	if period == nil || period.Granularity() != a.granularity {
		return "", domain.Validation(op, "", domain.ErrInvalidGranularity)
	}
	path := period.Path()
	if err := period.Validate(); err != nil {
		return "", domain.Validation(op, path, err)
	}
	if op != opGet && op != opMarkDispatched && strings.TrimSpace(string(ref)) == "" {
		return "", domain.Validation(op, path, domain.ErrInvalidRef)
	}
	return path, nil
}

func (a *Aggregator) fresh(ctx context.Context, ref domain.DocumentRef, period Period, amount, count int64) *domain.Aggregate {
	start, end := period.Bounds(a.cal)
	agg := &domain.Aggregate{
		Path:        period.Path(),
		Granularity: a.granularity,
		TotalAmount: amount,
		TotalCount:  count,
		RecordRefs:  []domain.DocumentRef{ref},
		PeriodStart: start,
		PeriodEnd:   end,
	}
	period.stamp(agg)
	a.touch(ctx, agg)
	return agg
}

func (a *Aggregator) touch(ctx context.Context, agg *domain.Aggregate) {
	agg.LastUpdated = a.clock.Now().UTC()
	agg.LastUpdatedBy = ActorFromContext(ctx)
}

func (a *Aggregator) missing(op, path string, ref domain.DocumentRef) {
	a.metrics.IncMissing(string(a.granularity), op)
	a.log.Info("aggregate not found, skipping",
		zap.String("op", op),
		zap.String("path", path),
		zap.String("ref", string(ref)),
	)
}

func (a *Aggregator) fail(op, path string, err error) error {
	a.metrics.IncMutationError(string(a.granularity), op)
	if domain.KindOf(err) != domain.KindGeneral {
		return err
	}
	return domain.DataAccess(op, path, err)
}

// evaluate runs the threshold check. The aggregate is already persisted, so a
// failure to raise the alert flag is only logged.
func (a *Aggregator) evaluate(ctx context.Context, agg *domain.Aggregate) {
	if a.alerts == nil {
		return
	}
	if _, err := a.alerts.Evaluate(ctx, agg); err != nil {
		a.log.Warn("failed to persist alert flag",
			zap.String("path", agg.Path),
			zap.Error(err),
		)
	}
}
