package qobserve

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy defines retry behavior for RetryAsync.
type RetryPolicy struct {
	MaxAttempts int
	Strategy    RetryStrategy
	// Filter decides whether an evaluation failure is worth retrying.
	// A nil Filter retries every *EvaluationFailedError.
	Filter func(error) bool
}

// RetryStrategy defines the interface for retry behavior
type RetryStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements RetryStrategy
type ExponentialBackoff struct {
	Initial time.Duration
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	return eb.Initial * time.Duration(math.Pow(2, float64(attempt-1)))
}

/*
RetryAsync evaluates one parameter vector on one device, resubmitting through
EvaluateAsync when the backend fails. The core operations never retry; this is
the caller-side layer for those who want it. Validation and admission errors
are returned immediately without retrying.
*/
func RetryAsync(
	ctx context.Context, s *Scheduler, kernel *Kernel, obs *Observable, params []float64, device int,
	policy *RetryPolicy, opts ...UnitOption,
) (EvaluationResult, error) {
	if policy == nil || policy.MaxAttempts < 1 {
		policy = &RetryPolicy{MaxAttempts: 1}
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 && policy.Strategy != nil {
			delay := policy.Strategy.NextDelay(attempt)
			s.logger.Debug("retrying evaluation",
				zap.Int("device", device),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return EvaluationResult{}, ctx.Err()
			}
		}

		future, err := s.EvaluateAsync(ctx, kernel, obs, params, device, opts...)
		if err != nil {
			return EvaluationResult{}, err
		}

		result, err := future.ResolveContext(ctx)
		if err == nil {
			return result, nil
		}

		var failed *EvaluationFailedError
		if !errors.As(err, &failed) {
			return EvaluationResult{}, err
		}
		lastErr = err

		if policy.Filter != nil && !policy.Filter(err) {
			break
		}
	}

	return EvaluationResult{}, lastErr
}
