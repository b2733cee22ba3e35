package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cardreport/internal/config"
)

const keyRecordIngest = "cardreport:ratelimit:records:%s"

// RecordLimiter throttles usage record ingestion per caller.
type RecordLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewRecordLimiter returns nil when rate limiting is disabled.
func NewRecordLimiter(cfg config.Config, client *redis.Client) (*RecordLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit needs REDIS_ADDR")
	}
	if limitCfg.RecordRate <= 0 {
		return nil, ErrInvalidRate
	}
	if limitCfg.RecordBurst <= 0 {
		return nil, ErrInvalidBurst
	}
	return &RecordLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.RecordRate,
		burst:  limitCfg.RecordBurst,
	}, nil
}

func (l *RecordLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes one token from caller's bucket.
func (l *RecordLimiter) Allow(ctx context.Context, caller string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	caller = strings.TrimSpace(caller)
	if caller == "" {
		caller = "anonymous"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyRecordIngest, caller), l.rate, l.burst)
}
