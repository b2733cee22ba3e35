package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/smallbiznis/cardreport/internal/calendar"
	"github.com/smallbiznis/cardreport/internal/clock"
	"github.com/smallbiznis/cardreport/internal/lock"
	"github.com/smallbiznis/cardreport/internal/report/aggregator"
	"github.com/smallbiznis/cardreport/internal/report/domain"
	"github.com/smallbiznis/cardreport/internal/report/reporttest"
	"github.com/smallbiznis/cardreport/internal/report/store/memory"
)

// civil returns h:m on the given civil day.
func civil(y int, m time.Month, d, h, min int) time.Time {
	return calendar.Date(y, m, d).Add(time.Duration(h)*time.Hour + time.Duration(min)*time.Minute)
}

type harness struct {
	clock *clock.FakeClock
	set   *aggregator.Set
	store *memory.Store
}

func newHarness(now time.Time) harness {
	st := memory.New()
	clk := clock.NewFakeClock(now)
	set := aggregator.NewSet(aggregator.Params{Store: st, Clock: clk, Log: zap.NewNop()})
	return harness{clock: clk, set: set, store: st}
}

func (h harness) dispatcher(t *testing.T, n domain.Notifier, l lock.Locker) *Dispatcher {
	t.Helper()
	p := Params{Aggregators: h.set, Locker: l, Clock: h.clock, Log: zap.NewNop()}
	if n != nil {
		p.Notifier = n
	}
	d, err := New(p)
	require.NoError(t, err)
	return d
}

func (h harness) record(t *testing.T, day time.Time, ref domain.DocumentRef, amount int64) {
	t.Helper()
	ctx := context.Background()
	for _, a := range h.set.All() {
		p, err := aggregator.PeriodOf(a.Granularity(), day)
		require.NoError(t, err)
		_, err = a.ProcessReport(ctx, ref, amount, p)
		require.NoError(t, err)
	}
}

func steps(res Result) map[domain.Granularity]Outcome {
	out := map[domain.Granularity]Outcome{}
	for _, s := range res.Steps {
		out[s.Step] = s.Outcome
	}
	return out
}

func TestPlan(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want []string
	}{
		{"midweek", civil(2025, time.April, 9, 0, 5), []string{
			"reports/daily/2025-04/08",
		}},
		{"after saturday", civil(2025, time.April, 13, 0, 5), []string{
			"reports/daily/2025-04/12",
			"reports/weekly/2025-04/term2",
		}},
		{"after clamped first term", civil(2025, time.April, 6, 0, 5), []string{
			"reports/daily/2025-04/05",
			"reports/weekly/2025-04/term1",
		}},
		{"after month end", civil(2025, time.May, 1, 0, 5), []string{
			"reports/daily/2025-04/30",
			"reports/weekly/2025-04/term5",
			"reports/monthly/2025/04",
		}},
		{"term spanning into next month", civil(2025, time.February, 1, 0, 5), []string{
			"reports/daily/2025-01/31",
			"reports/weekly/2025-01/term5",
			"reports/monthly/2025/01",
		}},
		{"month end on saturday", civil(2025, time.June, 1, 0, 5), []string{
			"reports/daily/2025-05/31",
			"reports/weekly/2025-05/term5",
			"reports/monthly/2025/05",
		}},
		{"sixth term", civil(2025, time.April, 1, 0, 5), []string{
			"reports/daily/2025-03/31",
			"reports/weekly/2025-03/term6",
			"reports/monthly/2025/03",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got []string
			for _, tg := range plan(calendar.Calendar{}, tc.now) {
				got = append(got, tg.period.Path())
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPlanFollowsCalendarZone(t *testing.T) {
	now := time.Date(2025, time.April, 30, 15, 30, 0, 0, time.UTC) // May 1 00:30 JST

	var got []string
	for _, tg := range plan(calendar.Calendar{}, now) {
		got = append(got, tg.period.Path())
	}
	assert.Equal(t, []string{
		"reports/daily/2025-04/30",
		"reports/weekly/2025-04/term5",
		"reports/monthly/2025/04",
	}, got)

	got = nil
	for _, tg := range plan(calendar.In(time.UTC), now) {
		got = append(got, tg.period.Path())
	}
	assert.Equal(t, []string{"reports/daily/2025-04/29"}, got)
}

func TestResolveWeeklyTargetUsesYesterdaysTerm(t *testing.T) {
	// the natural week of Apr 27 continues into May; the April term is the one that closed
	info := calendar.InfoOf(2025, time.April, 30)
	assert.Equal(t, aggregator.Weekly{Year: 2025, Month: time.April, Term: 5}, resolveWeeklyTarget(info))

	info = calendar.InfoOf(2025, time.January, 31)
	assert.Equal(t, aggregator.Weekly{Year: 2025, Month: time.January, Term: 5}, resolveWeeklyTarget(info))
}

func TestRunOnceSendsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(civil(2025, time.May, 1, 0, 5))
	h.record(t, calendar.Date(2025, time.April, 30), "r1", 1200)
	h.record(t, calendar.Date(2025, time.April, 29), "r2", 800)
	rec := &reporttest.Recorder{}
	d := h.dispatcher(t, rec, lock.NewLocal())

	res, err := d.RunOnce(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.False(t, res.Skipped)
	assert.Equal(t, map[domain.Granularity]Outcome{
		domain.GranularityDaily:   OutcomeSent,
		domain.GranularityWeekly:  OutcomeSent,
		domain.GranularityMonthly: OutcomeSent,
	}, steps(res))

	sent := rec.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, int64(1200), sent[0].TotalAmount)
	assert.Equal(t, "2025-04-30", sent[0].Label)
	assert.Equal(t, int64(2000), sent[1].TotalAmount)
	assert.Equal(t, int64(2), sent[2].TotalCount)
	assert.Equal(t, domain.PayloadSummary, sent[2].Kind)

	daily, _, err := h.store.Get(ctx, "reports/daily/2025-04/30")
	require.NoError(t, err)
	assert.True(t, daily.Dispatched)

	res, err = d.RunOnce(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	for _, outcome := range steps(res) {
		assert.Equal(t, OutcomeAlreadyDispatched, outcome)
	}
	assert.Len(t, rec.Sent(), 3)
}

func TestRunOnceWithoutActivity(t *testing.T) {
	h := newHarness(civil(2025, time.April, 13, 0, 5))
	rec := &reporttest.Recorder{}
	d := h.dispatcher(t, rec, nil)

	res, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, OutcomeNoActivity, steps(res)[domain.GranularityDaily])
	assert.Equal(t, OutcomeNoActivity, steps(res)[domain.GranularityWeekly])
	assert.Empty(t, rec.Sent())
	assert.Empty(t, h.store.Paths("reports/"))
}

func TestRunOnceWithoutNotifierKeepsFlagDown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(civil(2025, time.April, 9, 0, 5))
	h.record(t, calendar.Date(2025, time.April, 8), "r1", 100)
	d := h.dispatcher(t, nil, nil)

	res, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoChannel, steps(res)[domain.GranularityDaily])

	daily, _, _ := h.store.Get(ctx, "reports/daily/2025-04/08")
	assert.False(t, daily.Dispatched)
}

func TestRunOnceIsolatesStepFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(civil(2025, time.April, 13, 0, 5))
	h.record(t, calendar.Date(2025, time.April, 12), "r1", 100)

	n := &reporttest.MockNotifier{}
	n.On("SendDaily", mock.Anything, mock.Anything).Return(false, errors.New("smtp down")).Once()
	n.On("SendWeekly", mock.Anything, mock.Anything).Return(true, nil).Once()
	d := h.dispatcher(t, n, nil)

	res, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, steps(res)[domain.GranularityDaily])
	assert.Equal(t, OutcomeSent, steps(res)[domain.GranularityWeekly])
	require.Error(t, res.Err())
	assert.True(t, domain.IsKind(res.Err(), domain.KindNotification))
	n.AssertExpectations(t)

	daily, _, _ := h.store.Get(ctx, "reports/daily/2025-04/12")
	assert.False(t, daily.Dispatched)
	weekly, _, _ := h.store.Get(ctx, "reports/weekly/2025-04/term2")
	assert.True(t, weekly.Dispatched)

	// the failed daily is retried on the next run, the weekly is not resent
	n.On("SendDaily", mock.Anything, mock.Anything).Return(true, nil).Once()
	res, err = d.RunOnce(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, OutcomeSent, steps(res)[domain.GranularityDaily])
	assert.Equal(t, OutcomeAlreadyDispatched, steps(res)[domain.GranularityWeekly])
	n.AssertExpectations(t)
}

func TestRunOnceRejectedDelivery(t *testing.T) {
	h := newHarness(civil(2025, time.April, 9, 0, 5))
	h.record(t, calendar.Date(2025, time.April, 8), "r1", 100)
	d := h.dispatcher(t, &reporttest.Recorder{Reject: true}, nil)

	res, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotDelivered, steps(res)[domain.GranularityDaily])
	assert.ErrorIs(t, res.Err(), domain.ErrNotDelivered)
}

type panickingNotifier struct {
	reporttest.Recorder
}

func (p *panickingNotifier) SendDaily(context.Context, domain.Payload) (bool, error) {
	panic("boom")
}

func TestRunOnceRecoversPanickingStep(t *testing.T) {
	h := newHarness(civil(2025, time.April, 13, 0, 5))
	h.record(t, calendar.Date(2025, time.April, 12), "r1", 100)
	n := &panickingNotifier{}
	d := h.dispatcher(t, n, nil)

	res, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, steps(res)[domain.GranularityDaily])
	assert.Equal(t, OutcomeSent, steps(res)[domain.GranularityWeekly])
	assert.Len(t, n.Sent(), 1)
}

func TestRunOnceRecordsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	h := newHarness(civil(2025, time.April, 13, 0, 5))
	h.record(t, calendar.Date(2025, time.April, 12), "r1", 100)
	d := h.dispatcher(t, &panickingNotifier{}, nil)

	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range sr.Ended() {
		byName[s.Name()] = s
	}
	require.Contains(t, byName, "report.dispatch.run")
	require.Contains(t, byName, "report.dispatch.daily")
	require.Contains(t, byName, "report.dispatch.weekly")

	run := byName["report.dispatch.run"]
	assert.Equal(t, codes.Error, run.Status().Code)

	daily := byName["report.dispatch.daily"]
	assert.Equal(t, codes.Error, daily.Status().Code)
	assert.Equal(t, run.SpanContext().SpanID(), daily.Parent().SpanID())
	assert.Contains(t, daily.Attributes(), attribute.String("dispatch.outcome", string(OutcomeFailed)))

	weekly := byName["report.dispatch.weekly"]
	assert.Equal(t, codes.Unset, weekly.Status().Code)
	assert.Contains(t, weekly.Attributes(), attribute.String("dispatch.outcome", string(OutcomeSent)))
}

func TestRunOnceSkipsWhenLocked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(civil(2025, time.April, 9, 0, 5))
	h.record(t, calendar.Date(2025, time.April, 8), "r1", 100)
	l := lock.NewLocal()
	rec := &reporttest.Recorder{}
	d := h.dispatcher(t, rec, l)

	_, ok, err := l.TryLock(ctx, DefaultConfig().LockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Steps)
	assert.Empty(t, rec.Sent())
}

func TestNextFire(t *testing.T) {
	at := 5 * time.Minute
	assert.Equal(t, civil(2025, time.April, 9, 0, 5), nextFire(calendar.Calendar{}, civil(2025, time.April, 9, 0, 0), at))
	assert.Equal(t, civil(2025, time.April, 10, 0, 5), nextFire(calendar.Calendar{}, civil(2025, time.April, 9, 0, 5), at))
	assert.Equal(t, civil(2025, time.May, 1, 0, 5), nextFire(calendar.Calendar{}, civil(2025, time.April, 30, 23, 59), at))
}

func TestConfig(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConfig(), cfg)

	d, err := ParseAt("23:30")
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour+30*time.Minute, d)

	_, err = ParseAt("25:00")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestResultErrJoinsSteps(t *testing.T) {
	e1, e2 := errors.New("a"), errors.New("b")
	res := Result{Steps: []StepResult{
		{Step: domain.GranularityDaily, Err: e1},
		{Step: domain.GranularityWeekly},
		{Step: domain.GranularityMonthly, Err: e2},
	}}
	assert.ErrorIs(t, res.Err(), e1)
	assert.ErrorIs(t, res.Err(), e2)

	step, ok := res.Step(domain.GranularityWeekly)
	assert.True(t, ok)
	assert.NoError(t, step.Err)
	assert.NoError(t, Result{}.Err())
}
