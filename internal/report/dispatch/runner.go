package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/cardreport/internal/calendar"
)

// RunForever fires RunOnce once per civil day at cfg.At until ctx ends.
func (d *Dispatcher) RunForever(ctx context.Context) {
	at, _ := ParseAt(d.cfg.At)

	if d.cfg.RunOnStart {
		d.runLogged(ctx)
	}

	for {
		now := d.clock.Now()
		next := nextFire(d.cal, now, at)
		d.log.Info("next dispatch scheduled", zap.Time("at", next))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		d.runLogged(ctx)
	}
}

func (d *Dispatcher) runLogged(ctx context.Context) {
	if _, err := d.RunOnce(ctx); err != nil {
		d.log.Warn("dispatch run failed", zap.Error(err))
	}
}

// nextFire returns the first instant strictly after now that is at past a
// civil midnight.
func nextFire(cal calendar.Calendar, now time.Time, at time.Duration) time.Time {
	next := cal.StartOfDay(now).Add(at)
	if !next.After(now) {
		day := cal.StartOfDay(now).AddDate(0, 0, 1)
		next = day.Add(at)
	}
	return next
}
