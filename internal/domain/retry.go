package domain

import (
	"errors"
	"time"
)

// RetryPolicy governs how the processor reacts to a failed attempt. The
// delay is fixed; eligibility is re-checked by the poller, not a timer.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryPolicy is the production policy unless configuration says
// otherwise.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Delay: 5 * time.Minute}
}

// RetryDecision is what the processor does with a job after an attempt
// fails.
type RetryDecision int

const (
	// DecisionRetry reschedules the job for another attempt.
	DecisionRetry RetryDecision = iota
	// DecisionFail marks the job failed with no further action.
	DecisionFail
	// DecisionFallback marks the job failed and hands delivery to the
	// email fallback path.
	DecisionFallback
)

// Terminal reports whether err is a permanent failure class that no number
// of retries can fix: bad payloads, missing or rejected credentials, and
// provider rejections of the message itself.
func Terminal(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrMissingCredentials) ||
		errors.Is(err, ErrProviderRejected) ||
		errors.Is(err, ErrTenantUnknown) ||
		errors.Is(err, ErrTenantMisconfigured)
}

// Decide picks the next step for a job whose attempt just failed with err.
// attempts counts completed attempts including the one that just failed.
// canFallback is true when the job type has an email fallback and the
// payload carries enough to route one. Terminal failures skip both retries
// and fallback.
func (p RetryPolicy) Decide(err error, attempts int, canFallback bool) RetryDecision {
	if Terminal(err) {
		return DecisionFail
	}
	if attempts < p.MaxRetries {
		return DecisionRetry
	}
	if canFallback {
		return DecisionFallback
	}
	return DecisionFail
}

// NextAttemptAt returns the eligibility time for a retry decided at now.
func (p RetryPolicy) NextAttemptAt(now time.Time) time.Time {
	return now.Add(p.Delay)
}
