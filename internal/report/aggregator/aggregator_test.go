package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/smallbiznis/cardreport/internal/calendar"
	"github.com/smallbiznis/cardreport/internal/clock"
	"github.com/smallbiznis/cardreport/internal/report/alert"
	"github.com/smallbiznis/cardreport/internal/report/domain"
	"github.com/smallbiznis/cardreport/internal/report/reporttest"
	"github.com/smallbiznis/cardreport/internal/report/store/memory"
)

var (
	april8  = calendar.Date(2025, time.April, 8)
	fixedAt = time.Date(2025, time.April, 8, 3, 0, 0, 0, time.UTC)
)

type fixture struct {
	store *memory.Store
	rec   *reporttest.Recorder
	set   *Set
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := memory.New()
	rec := &reporttest.Recorder{}
	ev := alert.New(alert.Params{
		Store:    st,
		Notifier: rec,
		Source: alert.Static{
			domain.GranularityWeekly:  {Level1: 10000, Level2: 20000, Level3: 30000},
			domain.GranularityMonthly: {Level1: 50000, Level2: 100000, Level3: 200000},
		},
		Log: zap.NewNop(),
	})
	set := NewSet(Params{
		Store:  st,
		Alerts: ev,
		Clock:  clock.NewFakeClock(fixedAt),
		Log:    zap.NewNop(),
	})
	return fixture{store: st, rec: rec, set: set}
}

func TestProcessReportCreateThenIncrement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	period := DailyOf(april8)

	agg, err := f.set.Daily.ProcessReport(ctx, "details/r1", 1000, period)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), agg.TotalAmount)
	assert.Equal(t, int64(1), agg.TotalCount)
	assert.Equal(t, []domain.DocumentRef{"details/r1"}, agg.RecordRefs)
	assert.Equal(t, "reports/daily/2025-04/08", agg.Path)
	assert.Equal(t, int64(1), agg.Version)

	agg, err = f.set.Daily.ProcessReport(ctx, "details/r2", 500, period)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), agg.TotalAmount)
	assert.Equal(t, int64(2), agg.TotalCount)
	assert.Equal(t, []domain.DocumentRef{"details/r1", "details/r2"}, agg.RecordRefs)
	assert.Equal(t, int64(2), agg.Version)
	assert.Equal(t, fixedAt, agg.LastUpdated)
	assert.Equal(t, DefaultActor, agg.LastUpdatedBy)
}

func TestProcessReportStampsPeriod(t *testing.T) {
	ctx := WithActor(context.Background(), "usage:record")
	f := newFixture(t)

	weekly, err := f.set.Weekly.ProcessReport(ctx, "details/r1", 100, WeeklyOf(april8))
	require.NoError(t, err)
	assert.Equal(t, "reports/weekly/2025-04/term2", weekly.Path)
	assert.Equal(t, 2, weekly.Term)
	assert.Equal(t, 0, weekly.Day)
	assert.Equal(t, calendar.Date(2025, time.April, 6), weekly.PeriodStart)
	assert.Equal(t, calendar.Date(2025, time.April, 12), weekly.PeriodEnd)
	assert.Equal(t, "usage:record", weekly.LastUpdatedBy)

	monthly, err := f.set.Monthly.ProcessReport(ctx, "details/r1", 100, MonthlyOf(april8))
	require.NoError(t, err)
	assert.Equal(t, "reports/monthly/2025/04", monthly.Path)
	assert.Equal(t, calendar.Date(2025, time.April, 1), monthly.PeriodStart)
	assert.Equal(t, calendar.Date(2025, time.April, 30), monthly.PeriodEnd)
}

func TestUpdateForDeletionKeepsRefs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	period := WeeklyOf(april8)

	for _, r := range []struct {
		ref    domain.DocumentRef
		amount int64
	}{{"a", 1000}, {"b", 1500}, {"c", 1000}} {
		_, err := f.set.Weekly.ProcessReport(ctx, r.ref, r.amount, period)
		require.NoError(t, err)
	}

	require.NoError(t, f.set.Weekly.UpdateForDeletion(ctx, "b", period, -1500, -1))

	agg, ok, err := f.set.Weekly.Get(ctx, period)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2000), agg.TotalAmount)
	assert.Equal(t, int64(2), agg.TotalCount)
	assert.Equal(t, []domain.DocumentRef{"a", "b", "c"}, agg.RecordRefs)
}

func TestRefUsesStoreNormalization(t *testing.T) {
	f := newFixture(t)
	for _, a := range f.set.All() {
		assert.Equal(t, domain.DocumentRef("details/2025/04/term2/08/1"), a.Ref("/details/2025/04/term2/08/1/"))
	}
}

func TestDeltaOnMissingAggregateIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	period := MonthlyOf(april8)

	require.NoError(t, f.set.Monthly.UpdateForAmountChange(ctx, "x", period, 500))
	require.NoError(t, f.set.Monthly.UpdateForDeletion(ctx, "x", period, -500, -1))

	_, ok, err := f.set.Monthly.Get(ctx, period)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.store.Paths("reports/"))
}

func TestUpdateForAmountChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	period := DailyOf(april8)

	_, err := f.set.Daily.ProcessReport(ctx, "r1", 1000, period)
	require.NoError(t, err)
	require.NoError(t, f.set.Daily.UpdateForAmountChange(ctx, "r1", period, -250))

	agg, _, err := f.set.Daily.Get(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, int64(750), agg.TotalAmount)
	assert.Equal(t, int64(1), agg.TotalCount)
	assert.Len(t, agg.RecordRefs, 1)
}

func TestUpdateForReactivation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	period := WeeklyOf(april8)

	// absent: seeded from the record
	require.NoError(t, f.set.Weekly.UpdateForReactivation(ctx, "r1", period, 700, 1))
	agg, ok, err := f.set.Weekly.Get(ctx, period)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(700), agg.TotalAmount)
	assert.Equal(t, int64(1), agg.TotalCount)
	assert.Equal(t, []domain.DocumentRef{"r1"}, agg.RecordRefs)
	assert.Equal(t, 2, agg.Term)

	// present with the ref already listed: counters still move, ref not duplicated
	require.NoError(t, f.set.Weekly.UpdateForReactivation(ctx, "r1", period, 700, 1))
	require.NoError(t, f.set.Weekly.UpdateForReactivation(ctx, "r2", period, 300, 1))
	agg, _, err = f.set.Weekly.Get(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, int64(1700), agg.TotalAmount)
	assert.Equal(t, int64(3), agg.TotalCount)
	assert.Equal(t, []domain.DocumentRef{"r1", "r2"}, agg.RecordRefs)
}

func TestProcessReportFiresAlerts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	period := WeeklyOf(april8)

	_, err := f.set.Weekly.ProcessReport(ctx, "r1", 9000, period)
	require.NoError(t, err)
	assert.Empty(t, f.rec.Sent())

	agg, err := f.set.Weekly.ProcessReport(ctx, "r2", 2000, period)
	require.NoError(t, err)
	assert.True(t, agg.Alerts.Level1)

	_, err = f.set.Weekly.ProcessReport(ctx, "r3", 500, period)
	require.NoError(t, err)

	alerts := f.rec.SentOf(domain.PayloadAlert, domain.GranularityWeekly)
	require.Len(t, alerts, 1)
	assert.Equal(t, 1, alerts[0].AlertLevel)

	// daily never alerts, whatever the amount
	_, err = f.set.Daily.ProcessReport(ctx, "r4", 1<<40, DailyOf(april8))
	require.NoError(t, err)
	assert.Empty(t, f.rec.SentOf(domain.PayloadAlert, domain.GranularityDaily))
}

func TestAmountChangeCanCrossThreshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	period := MonthlyOf(april8)

	_, err := f.set.Monthly.ProcessReport(ctx, "r1", 40000, period)
	require.NoError(t, err)
	require.NoError(t, f.set.Monthly.UpdateForAmountChange(ctx, "r1", period, 250000))

	alerts := f.rec.SentOf(domain.PayloadAlert, domain.GranularityMonthly)
	require.Len(t, alerts, 1)
	assert.Equal(t, 3, alerts[0].AlertLevel)
}

func TestDeletionRetriesUndeliveredAlert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	period := WeeklyOf(april8)

	f.rec.Reject = true
	_, err := f.set.Weekly.ProcessReport(ctx, "r1", 15000, period)
	require.NoError(t, err)
	_, err = f.set.Weekly.ProcessReport(ctx, "r2", 100, period)
	require.NoError(t, err)
	assert.Empty(t, f.rec.Sent())

	f.rec.Reject = false
	require.NoError(t, f.set.Weekly.UpdateForDeletion(ctx, "r2", period, -100, -1))

	alerts := f.rec.SentOf(domain.PayloadAlert, domain.GranularityWeekly)
	require.Len(t, alerts, 1)
	assert.Equal(t, 1, alerts[0].AlertLevel)
	assert.Equal(t, int64(15000), alerts[0].TotalAmount)

	agg, _, err := f.set.Weekly.Get(ctx, period)
	require.NoError(t, err)
	assert.True(t, agg.Alerts.Level1)
}

func TestJumpPastThresholdsLeavesLowerLevelsUnsent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	period := WeeklyOf(april8)

	for i, amount := range []int64{35000, 10, 10} {
		_, err := f.set.Weekly.ProcessReport(ctx, domain.DocumentRef(fmt.Sprintf("r%d", i)), amount, period)
		require.NoError(t, err)
	}

	alerts := f.rec.SentOf(domain.PayloadAlert, domain.GranularityWeekly)
	require.Len(t, alerts, 1)
	assert.Equal(t, 3, alerts[0].AlertLevel)

	agg, _, err := f.set.Weekly.Get(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertFlags{Level3: true}, agg.Alerts)
}

func TestMarkDispatched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	period := DailyOf(april8)

	err := f.set.Daily.MarkDispatched(ctx, period)
	assert.True(t, domain.IsKind(err, domain.KindNotFound), "got %v", err)

	_, err = f.set.Daily.ProcessReport(ctx, "r1", 10, period)
	require.NoError(t, err)
	require.NoError(t, f.set.Daily.MarkDispatched(ctx, period))

	agg, _, err := f.set.Daily.Get(ctx, period)
	require.NoError(t, err)
	assert.True(t, agg.Dispatched)
	assert.Equal(t, int64(10), agg.TotalAmount)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.set.Daily.ProcessReport(ctx, "r1", 10, WeeklyOf(april8))
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	assert.ErrorIs(t, err, domain.ErrInvalidGranularity)

	_, err = f.set.Daily.ProcessReport(ctx, " ", 10, DailyOf(april8))
	assert.ErrorIs(t, err, domain.ErrInvalidRef)

	_, err = f.set.Weekly.ProcessReport(ctx, "r1", 10, Weekly{Year: 2025, Month: time.April, Term: 6})
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	_, err = f.set.Daily.ProcessReport(ctx, "r1", 10, Daily{Year: 2025, Month: time.February, Day: 29})
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	_, err = f.set.Monthly.ProcessReport(ctx, "r1", 10, Monthly{Year: 2025, Month: 13})
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	_, _, err = f.set.Monthly.Get(ctx, nil)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

type brokenStore struct {
	*memory.Store
}

var errStoreDown = errors.New("store down")

func (brokenStore) Mutate(context.Context, string, domain.MutateFunc) (*domain.Aggregate, error) {
	return nil, errStoreDown
}

func (brokenStore) Get(context.Context, string) (*domain.Aggregate, bool, error) {
	return nil, false, errStoreDown
}

func TestStoreFailuresAreDataAccess(t *testing.T) {
	ctx := context.Background()
	agg := New(domain.GranularityDaily, brokenStore{memory.New()}, nil, nil, nil, nil)
	period := DailyOf(april8)

	_, err := agg.ProcessReport(ctx, "r1", 10, period)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindDataAccess))
	assert.ErrorIs(t, err, errStoreDown)

	var typed *domain.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, opProcessReport, typed.Op)
	assert.Equal(t, period.Path(), typed.Path)

	for _, err := range []error{
		agg.UpdateForAmountChange(ctx, "r1", period, 1),
		agg.UpdateForDeletion(ctx, "r1", period, -1, -1),
		agg.UpdateForReactivation(ctx, "r1", period, 1, 1),
	} {
		assert.True(t, domain.IsKind(err, domain.KindDataAccess), "got %v", err)
	}
	_, _, err = agg.Get(ctx, period)
	assert.True(t, domain.IsKind(err, domain.KindDataAccess))
}

func TestConcurrentProcessReportLosesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	period := WeeklyOf(april8)

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.set.Weekly.ProcessReport(ctx, domain.DocumentRef(fmt.Sprintf("r%d", i)), 100, period)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	agg, _, err := f.set.Weekly.Get(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), agg.TotalCount)
	assert.Equal(t, int64(workers*100), agg.TotalAmount)
	assert.Len(t, agg.RecordRefs, workers)
	assert.Equal(t, int64(workers), agg.Version)
}

func TestSetFor(t *testing.T) {
	f := newFixture(t)
	for _, a := range f.set.All() {
		assert.Same(t, a, f.set.For(a.Granularity()))
	}
	assert.Nil(t, f.set.For("yearly"))
}

func TestMutationsRecordSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := context.Background()
	f := newFixture(t)
	period := DailyOf(april8)

	_, err := f.set.Daily.ProcessReport(ctx, "r1", 100, period)
	require.NoError(t, err)
	_, err = f.set.Daily.ProcessReport(ctx, "r1", 100, WeeklyOf(april8))
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "report.aggregate.process_report", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("report.path", period.Path()))
	assert.Contains(t, spans[0].Attributes(), attribute.String("report.ref", "r1"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
