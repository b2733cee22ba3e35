// Package storetest is a conformance suite run against every document store backend.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/cardreport/internal/report/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises the Store contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) domain.Store) {
	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		agg, ok, err := s.Get(context.Background(), "reports/daily/2025-04/01")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, agg)
	})

	t.Run("save then get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		path := "reports/daily/2025-04/01"
		start := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)

		err := s.Save(ctx, path, &domain.Aggregate{
			Granularity: domain.GranularityDaily,
			Year:        2025,
			Month:       4,
			Day:         1,
			TotalAmount: 1000,
			TotalCount:  1,
			RecordRefs:  []domain.DocumentRef{"details/2025/04/term1/01/1"},
			PeriodStart: start,
		})
		require.NoError(t, err)

		agg, ok, err := s.Get(ctx, "/"+path+"/")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, path, agg.Path)
		assert.Equal(t, int64(1000), agg.TotalAmount)
		assert.Equal(t, int64(1), agg.Version)
		assert.Equal(t, []domain.DocumentRef{"details/2025/04/term1/01/1"}, agg.RecordRefs)
		assert.True(t, agg.PeriodStart.Equal(start))

		require.NoError(t, s.Save(ctx, path, &domain.Aggregate{TotalAmount: 5}))
		agg, _, err = s.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, int64(5), agg.TotalAmount)
		assert.Empty(t, agg.RecordRefs)
		assert.Equal(t, int64(2), agg.Version)
	})

	t.Run("update merges", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		path := "reports/weekly/2025-04/term1"

		err := s.Update(ctx, path, map[string]any{"dispatched": true})
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindNotFound))

		require.NoError(t, s.Save(ctx, path, &domain.Aggregate{TotalAmount: 30000, TotalCount: 4}))
		require.NoError(t, s.Update(ctx, path, map[string]any{domain.AlertField(3): true}))

		agg, ok, err := s.Get(ctx, path)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, agg.Alerts.Level3)
		assert.False(t, agg.Alerts.Level1)
		assert.Equal(t, int64(30000), agg.TotalAmount)
		assert.Equal(t, int64(4), agg.TotalCount)
	})

	t.Run("mutate nil leaves document", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		out, err := s.Mutate(ctx, "reports/monthly/2025/04", func(cur *domain.Aggregate, exists bool) (*domain.Aggregate, error) {
			assert.False(t, exists)
			return nil, nil
		})
		require.NoError(t, err)
		assert.Nil(t, out)
		_, ok, err := s.Get(ctx, "reports/monthly/2025/04")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ref", func(t *testing.T) {
		s := newStore(t)
		assert.Equal(t, domain.DocumentRef("details/2025/04/term1/01/7"), s.Ref("/details/2025/04/term1/01/7"))
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		path := "reports/monthly/2025/04"
		const workers = 8

		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Mutate(ctx, path, func(cur *domain.Aggregate, exists bool) (*domain.Aggregate, error) {
					if !exists {
						cur = &domain.Aggregate{Granularity: domain.GranularityMonthly}
					}
					cur.TotalAmount += 100
					cur.TotalCount++
					return cur, nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		agg, ok, err := s.Get(ctx, path)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(workers), agg.TotalCount)
		assert.Equal(t, int64(workers*100), agg.TotalAmount)
		assert.Equal(t, int64(workers), agg.Version)
	})
}
