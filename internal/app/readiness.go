package app

import (
	"context"
	"time"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// RedisPingResult is the minimal return type of a Redis client's Ping.
type RedisPingResult interface{ Err() error }

// RedisClient is the minimal interface for a Redis client needed for readiness.
type RedisClient interface{ Ping(ctx context.Context) RedisPingResult }

// ReadinessCheck is one dependency probe's outcome.
type ReadinessCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

// BuildReadinessChecks returns the control store probe and, when a Redis
// client is present, the throttle store probe. Redis is optional: the
// throttle fails open without it, so a nil client contributes no check
// rather than a permanently red one.
func BuildReadinessChecks(pool Pinger, rdb RedisClient) []func(ctx context.Context) ReadinessCheck {
	checks := []func(ctx context.Context) ReadinessCheck{
		func(ctx context.Context) ReadinessCheck {
			if pool == nil {
				return ReadinessCheck{Name: "control_store", Details: "not configured"}
			}
			if err := pool.Ping(ctx); err != nil {
				return ReadinessCheck{Name: "control_store", Details: err.Error()}
			}
			return ReadinessCheck{Name: "control_store", OK: true}
		},
	}
	if rdb != nil {
		checks = append(checks, func(ctx context.Context) ReadinessCheck {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return ReadinessCheck{Name: "throttle_store", Details: err.Error()}
			}
			return ReadinessCheck{Name: "throttle_store", OK: true}
		})
	}
	return checks
}

// RunReadinessChecks runs every probe under a shared timeout and reports
// whether all passed.
func RunReadinessChecks(ctx context.Context, checks []func(ctx context.Context) ReadinessCheck) ([]ReadinessCheck, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	results := make([]ReadinessCheck, 0, len(checks))
	allOK := true
	for _, check := range checks {
		res := check(ctx)
		if !res.OK {
			allOK = false
		}
		results = append(results, res)
	}
	return results, allOK
}
