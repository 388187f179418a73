package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastPolicy retries without meaningful delay so tests stay quick.
func fastPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:       maxAttempts,
		BaseBackoff:       time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result := Run(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, fastPolicy(3))

	assert.Equal(t, Succeeded, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, calls)
	assert.NoError(t, result.Err)
	assert.Empty(t, result.History)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	calls := 0
	result := Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, fastPolicy(5))

	assert.Equal(t, Succeeded, result.Status)
	assert.Equal(t, 3, result.Attempts)
	require.Len(t, result.History, 2, "both failed attempts must be recorded")
	assert.Equal(t, 1, result.History[0].Attempt)
	assert.Equal(t, 2, result.History[1].Attempt)
	assert.Equal(t, Transient, result.History[0].Class)
}

func TestRunExhaustsAttempts(t *testing.T) {
	opErr := errors.New("still down")
	calls := 0
	result := Run(context.Background(), func(ctx context.Context) error {
		calls++
		return opErr
	}, fastPolicy(3))

	assert.Equal(t, Failed, result.Status)
	assert.Equal(t, 3, result.Attempts, "attempts must equal MaxAttempts on exhaustion")
	assert.Equal(t, 3, calls)
	assert.Len(t, result.History, 3)
	assert.ErrorIs(t, result.Err, opErr)
	assert.Equal(t, result.Err, result.LastError())
}

func TestRunPermanentAbortsImmediately(t *testing.T) {
	calls := 0
	result := Run(context.Background(), func(ctx context.Context) error {
		calls++
		return AsPermanent(errors.New("404 not found"))
	}, fastPolicy(5))

	assert.Equal(t, Failed, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, calls, "permanent failures must not be retried")
	require.Len(t, result.History, 1)
	assert.Equal(t, Permanent, result.History[0].Class)
}

func TestRunQuotaBackoffFloor(t *testing.T) {
	policy := Policy{
		MaxAttempts:       2,
		BaseBackoff:       time.Millisecond,
		BackoffMultiplier: 2,
		QuotaBackoffFloor: 150 * time.Millisecond,
	}

	calls := 0
	start := time.Now()
	result := Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return AsQuota(errors.New("429"))
		}
		return nil
	}, policy)

	assert.Equal(t, Succeeded, result.Status)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond,
		"quota failures must wait at least the backoff floor")
	assert.Equal(t, QuotaExceeded, result.History[0].Class)
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 5, BaseBackoff: time.Minute}

	result := Run(ctx, func(ctx context.Context) error {
		cancel()
		return errors.New("failed")
	}, policy)

	assert.Equal(t, Failed, result.Status)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, 1, result.Attempts, "cancellation during backoff must stop retries")
}

func TestRunPerAttemptTimeout(t *testing.T) {
	policy := Policy{
		MaxAttempts:       2,
		BaseBackoff:       time.Millisecond,
		TimeoutPerAttempt: 20 * time.Millisecond,
	}

	calls := 0
	result := Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}, policy)

	assert.Equal(t, Succeeded, result.Status)
	assert.Equal(t, 2, calls, "a timed-out attempt is retried")
	assert.Equal(t, Transient, result.History[0].Class)
}

func TestRunInvalidMaxAttempts(t *testing.T) {
	result := Run(context.Background(), func(ctx context.Context) error {
		t.Fatal("operation must not run")
		return nil
	}, Policy{MaxAttempts: 0})

	assert.Equal(t, Failed, result.Status)
	assert.ErrorIs(t, result.Err, ErrInvalidMaxAttempts)
}

func TestRunCustomClassifier(t *testing.T) {
	sentinel := errors.New("fatal config error")
	policy := fastPolicy(5)
	policy.Classifier = func(err error) ErrorClass {
		if errors.Is(err, sentinel) {
			return Permanent
		}
		return Transient
	}

	calls := 0
	result := Run(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	}, policy)

	assert.Equal(t, Failed, result.Status)
	assert.Equal(t, 1, calls)
}

func TestDefaultClassifier(t *testing.T) {
	assert.Equal(t, Transient, DefaultClassifier(errors.New("anything")))
	assert.Equal(t, Transient, DefaultClassifier(AsTransient(errors.New("x"))))
	assert.Equal(t, Permanent, DefaultClassifier(AsPermanent(errors.New("x"))))
	assert.Equal(t, QuotaExceeded, DefaultClassifier(AsQuota(errors.New("x"))))
	assert.Equal(t, Permanent, DefaultClassifier(context.Canceled))
	assert.Equal(t, Transient, DefaultClassifier(context.DeadlineExceeded))

	// Wrapping must survive fmt.Errorf chains.
	wrapped := fmt.Errorf("submit: %w", AsPermanent(errors.New("bad request")))
	assert.Equal(t, Permanent, DefaultClassifier(wrapped))
}

func TestErrorWrappersUnwrap(t *testing.T) {
	inner := errors.New("inner")
	assert.ErrorIs(t, AsTransient(inner), inner)
	assert.ErrorIs(t, AsPermanent(inner), inner)
	assert.ErrorIs(t, AsQuota(inner), inner)
	assert.Nil(t, AsTransient(nil))
	assert.Nil(t, AsPermanent(nil))
	assert.Nil(t, AsQuota(nil))
}
