package monitor

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Policy controls retry behavior for a monitored operation.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (must be > 0).
	MaxAttempts int
	// BaseBackoff is the delay before the second attempt.
	BaseBackoff time.Duration
	// BackoffMultiplier scales the delay after each failed attempt.
	// Values below 1 are treated as 2.
	BackoffMultiplier float64
	// Jitter is the maximum random duration added to each delay.
	Jitter time.Duration
	// QuotaBackoffFloor is the minimum delay after a QuotaExceeded failure.
	QuotaBackoffFloor time.Duration
	// TimeoutPerAttempt bounds each individual attempt. Zero means no
	// per-attempt timeout.
	TimeoutPerAttempt time.Duration
	// Classifier decides whether a failure is retried. Nil means
	// DefaultClassifier.
	Classifier Classifier
}

// DefaultPolicy returns a policy suitable for remote service calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseBackoff:       1 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            250 * time.Millisecond,
		QuotaBackoffFloor: 10 * time.Second,
		TimeoutPerAttempt: 30 * time.Second,
		Classifier:        DefaultClassifier,
	}
}

// Status is the final outcome of a monitored run.
type Status int

const (
	// Succeeded means some attempt returned nil.
	Succeeded Status = iota + 1
	// Failed means retries were exhausted or a Permanent error occurred.
	Failed
)

// String returns the status name.
func (s Status) String() string {
	if s == Succeeded {
		return "succeeded"
	}
	return "failed"
}

// AttemptError records one failed attempt for the caller's observable record.
type AttemptError struct {
	Attempt int
	Class   ErrorClass
	Err     error
	At      time.Time
}

// Result carries the outcome of Run: final status, attempts consumed, and the
// ordered error history. Err is nil when Status is Succeeded.
type Result struct {
	Status   Status
	Attempts int
	History  []AttemptError
	Err      error
}

// LastError returns the most recent attempt error, or nil.
func (r *Result) LastError() error {
	if len(r.History) == 0 {
		return nil
	}
	return r.History[len(r.History)-1].Err
}

// Operation is any fallible, context-aware unit of work.
type Operation func(ctx context.Context) error

// Run invokes op under the policy: each attempt runs under the per-attempt
// timeout, failures are classified, Transient and QuotaExceeded failures are
// retried with exponential backoff plus jitter until MaxAttempts is exhausted,
// and Permanent failures abort immediately. The returned Result always carries
// the full ordered error history; errors are never silently dropped.
func Run(ctx context.Context, op Operation, policy Policy) *Result {
	return RunWithLogger(ctx, op, policy, slog.Default())
}

// RunWithLogger is Run with an explicit logger.
func RunWithLogger(ctx context.Context, op Operation, policy Policy, logger *slog.Logger) *Result {
	if logger == nil {
		logger = slog.Default()
	}
	classify := policy.Classifier
	if classify == nil {
		classify = DefaultClassifier
	}
	multiplier := policy.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 2
	}

	result := &Result{}
	if policy.MaxAttempts <= 0 {
		result.Status = Failed
		result.Err = ErrInvalidMaxAttempts
		return result
	}

	delay := policy.BaseBackoff
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			result.Status = Failed
			result.Err = ctx.Err()
			return result
		default:
		}

		result.Attempts = attempt
		err := runAttempt(ctx, op, policy.TimeoutPerAttempt)
		if err == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry", "attempt", attempt)
			}
			result.Status = Succeeded
			return result
		}

		class := classify(err)
		result.History = append(result.History, AttemptError{
			Attempt: attempt,
			Class:   class,
			Err:     err,
			At:      time.Now().UTC(),
		})

		if class == Permanent {
			logger.Debug("permanent failure, aborting", "attempt", attempt, "error", err)
			result.Status = Failed
			result.Err = err
			return result
		}

		logger.Debug("operation failed, will retry",
			"attempt", attempt, "maxAttempts", policy.MaxAttempts, "class", class.String(), "error", err)

		if attempt == policy.MaxAttempts {
			break
		}

		wait := delay
		if class == QuotaExceeded && wait < policy.QuotaBackoffFloor {
			wait = policy.QuotaBackoffFloor
		}
		if policy.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(policy.Jitter)))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.Status = Failed
			result.Err = ctx.Err()
			return result
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * multiplier)
	}

	result.Status = Failed
	result.Err = result.LastError()
	return result
}

// runAttempt executes op under the per-attempt timeout.
func runAttempt(ctx context.Context, op Operation, timeout time.Duration) error {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}
