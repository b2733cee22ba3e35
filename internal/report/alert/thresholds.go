package alert

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/smallbiznis/cardreport/internal/report/domain"
)

// Level is an alert level. LevelNone means nothing fired.
type Level int

const (
	LevelNone Level = iota
	Level1
	Level2
	Level3
)

func (l Level) String() string {
	if l == LevelNone {
		return "none"
	}
	return strconv.Itoa(int(l))
}

var ErrInvalidThresholds = errors.New("invalid_thresholds")

// Thresholds are the three ordered amount limits of one granularity.
// A zero or negative limit disables its level.
type Thresholds struct {
	Level1 int64 `mapstructure:"level1" json:"level1"`
	Level2 int64 `mapstructure:"level2" json:"level2"`
	Level3 int64 `mapstructure:"level3" json:"level3"`
}

// For returns the limit of level l.
func (t Thresholds) For(l Level) int64 {
	switch l {
	case Level1:
		return t.Level1
	case Level2:
		return t.Level2
	case Level3:
		return t.Level3
	default:
		return 0
	}
}

// Validate checks that enabled levels are strictly ascending.
func (t Thresholds) Validate() error {
	var prev int64
	for _, l := range []Level{Level1, Level2, Level3} {
		v := t.For(l)
		if v <= 0 {
			continue
		}
		if v <= prev {
			return fmt.Errorf("%w: level%d=%d not above %d", ErrInvalidThresholds, l, v, prev)
		}
		prev = v
	}
	return nil
}

// Source supplies thresholds per granularity. ok is false when the
// granularity has no alerting configured.
type Source interface {
	Thresholds(g domain.Granularity) (Thresholds, bool)
}

// Static is a fixed Source.
type Static map[domain.Granularity]Thresholds

func (s Static) Thresholds(g domain.Granularity) (Thresholds, bool) {
	t, ok := s[g]
	return t, ok
}

// Crossed returns the highest level whose threshold agg has reached, or
// LevelNone when that level was already flagged. Lower levels are not
// considered once a higher one is reached, so a jump over several thresholds
// only ever reports the top one.
func Crossed(t Thresholds, agg *domain.Aggregate) Level {
	if agg == nil {
		return LevelNone
	}
	for _, l := range []Level{Level3, Level2, Level1} {
		limit := t.For(l)
		if limit <= 0 || agg.TotalAmount < limit {
			continue
		}
		if agg.Alerts.Get(int(l)) {
			return LevelNone
		}
		return l
	}
	return LevelNone
}
