// Package retry decides what to do after a failed dispatch. The policy is
// a pure function of the error kind and the attempt count, returning a
// tagged outcome the orchestrator loop acts on; no exceptions-as-control
// flow, no hidden state.
package retry

import (
	"time"

	"github.com/yamakatsunamamugi/sheetflow/internal/classify"
)

// Outcome tags a policy decision
type Outcome int

const (
	// OutcomeRetry redispatches the task after Decision.Delay
	OutcomeRetry Outcome = iota
	// OutcomeSkip records the failure against the cell and moves on;
	// a skip is not a run-level failure
	OutcomeSkip
	// OutcomeAbortAll stops the whole run with the partial result
	OutcomeAbortAll
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetry:
		return "retry"
	case OutcomeSkip:
		return "skip"
	case OutcomeAbortAll:
		return "abort_all"
	}
	return "unknown"
}

// Decision is the policy's answer for one failed attempt
type Decision struct {
	Outcome Outcome
	Delay   time.Duration // meaningful for OutcomeRetry only
}

// Policy holds the configured limits and delays
type Policy struct {
	// MaxAttempts caps retries for Network and Timeout failures
	MaxAttempts int
	// UnknownMaxAttempts is the defensive lower cap for Unknown failures
	UnknownMaxAttempts int
	// RateLimitMaxAttempts caps retries for RateLimit failures
	RateLimitMaxAttempts int
	// BaseDelay seeds the exponential backoff: base * 2^(attempt-1)
	BaseDelay time.Duration
	// RateLimitDelay is the longer fixed (not exponential) delay after a
	// rate-limit response
	RateLimitDelay time.Duration
}

// Default returns the policy with the standard tuning
func Default() Policy {
	return Policy{
		MaxAttempts:          5,
		UnknownMaxAttempts:   2,
		RateLimitMaxAttempts: 5,
		BaseDelay:            time.Second,
		RateLimitDelay:       30 * time.Second,
	}
}

// Decide returns the outcome for a failure of the given kind on the given
// attempt. Attempts are 1-based: the initial dispatch is attempt 1, so
// decide(kind, 1) answers "the first attempt just failed".
//
// Authentication always aborts the run: stale credentials cannot
// self-heal, and hammering on them wastes quota and risks a lockout.
func (p Policy) Decide(kind classify.Kind, attempt int) Decision {
	if attempt < 1 {
		attempt = 1
	}

	switch kind {
	case classify.Authentication:
		return Decision{Outcome: OutcomeAbortAll}

	case classify.RateLimit:
		if attempt > p.RateLimitMaxAttempts {
			return Decision{Outcome: OutcomeSkip}
		}
		return Decision{Outcome: OutcomeRetry, Delay: p.RateLimitDelay}

	case classify.Network, classify.Timeout:
		if attempt > p.MaxAttempts {
			return Decision{Outcome: OutcomeSkip}
		}
		return Decision{Outcome: OutcomeRetry, Delay: p.backoff(attempt)}

	case classify.SelectorOrProtocol:
		// One immediate retry: the next attempt may use an alternate
		// strategy supplied by the worker.
		if attempt > 1 {
			return Decision{Outcome: OutcomeSkip}
		}
		return Decision{Outcome: OutcomeRetry}

	default: // classify.Unknown and anything unforeseen
		if attempt > p.UnknownMaxAttempts {
			return Decision{Outcome: OutcomeSkip}
		}
		return Decision{Outcome: OutcomeRetry, Delay: p.backoff(attempt)}
	}
}

func (p Policy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
