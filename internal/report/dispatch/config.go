package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("invalid_dispatch_config")

// Config controls when and how the daily dispatch runs.
type Config struct {
	// At is the civil time of day ("HH:MM") the runner fires.
	At          string
	LockKey     string
	LockTTL     time.Duration
	StepTimeout time.Duration
	RunOnStart  bool
}

func DefaultConfig() Config {
	return Config{
		At:          "00:05",
		LockKey:     "cardreport:dispatch",
		LockTTL:     5 * time.Minute,
		StepTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.At) == "" {
		c.At = defaults.At
	}
	if strings.TrimSpace(c.LockKey) == "" {
		c.LockKey = defaults.LockKey
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = defaults.StepTimeout
	}
	return c
}

// ParseAt converts "HH:MM" into an offset from civil midnight.
func ParseAt(value string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: at %q", ErrInvalidConfig, value)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
