// Package resilience wraps dependency calls in retry with exponential
// backoff and a per-operation circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/dkorsak/docqa/internal/core/domain"
)

// Verdict tells the runner what a failure means: whether another attempt may
// succeed, and whether the breaker should count it against the dependency.
type Verdict struct {
	Retry       bool
	TripBreaker bool
}

// Classifier maps a dependency error to its verdict. A nil classifier treats
// every error as final and breaker-relevant.
type Classifier func(err error) Verdict

// Runner executes dependency calls under one shared policy. Breakers are
// keyed by operation name so a dead embedding endpoint does not open the
// breaker for chat completions.
type Runner struct {
	policy Policy

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewRunner(policy Policy) *Runner {
	return &Runner{
		policy:   policy.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Do runs fn under retry and the operation's breaker. An open breaker
// surfaces as a temporary error so callers can shed load instead of waiting.
func (r *Runner) Do(ctx context.Context, operation string, classify Classifier, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("resilience: nil operation for %q", operation)
	}
	if classify == nil {
		classify = func(error) Verdict { return Verdict{TripBreaker: true} }
	}

	if !r.policy.BreakerEnabled {
		return r.retry(ctx, operation, classify, fn)
	}

	_, err := r.breaker(operation, classify).Execute(func() (any, error) {
		return nil, r.retry(ctx, operation, classify, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func (r *Runner) retry(ctx context.Context, operation string, classify Classifier, fn func(context.Context) error) error {
	backoff := r.policy.InitialBackoff

	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !classify(err).Retry || attempt == r.policy.MaxAttempts {
			return err
		}

		// Half-width jitter keeps concurrent retries from synchronizing.
		wait := backoff/2 + rand.N(backoff/2+1)
		slog.Warn("dependency_retry",
			"operation", operation,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		backoff *= 2
		if backoff > r.policy.MaxBackoff {
			backoff = r.policy.MaxBackoff
		}
	}
}

func (r *Runner) breaker(operation string, classify Classifier) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[operation]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        operation,
		MaxRequests: r.policy.BreakerProbeCalls,
		Timeout:     r.policy.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < r.policy.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= r.policy.BreakerFailureRate
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).TripBreaker
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	})
	r.breakers[operation] = cb
	return cb
}
