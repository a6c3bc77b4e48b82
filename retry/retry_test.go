package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(attempts int) Policy {
	return Policy{
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		MaxAttempts: attempts,
	}
}

func TestDo_Success(t *testing.T) {
	attempts := 0
	operation := func() error {
		attempts++
		return nil
	}

	err := testPolicy(3).Do(context.Background(), operation)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts, "should succeed on first try")
}

func TestDo_EventualSuccess(t *testing.T) {
	attempts := 0
	operation := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	err := testPolicy(5).Do(context.Background(), operation)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts, "should succeed on third attempt")
}

func TestDo_AllAttemptsFail(t *testing.T) {
	attempts := 0
	expectedErr := errors.New("persistent error")
	operation := func() error {
		attempts++
		return expectedErr
	}

	err := testPolicy(3).Do(context.Background(), operation)
	require.Error(t, err)
	assert.Equal(t, expectedErr, err, "should return the original error")
	assert.Equal(t, 3, attempts, "should attempt exactly MaxAttempts times")
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	attempts := 0
	cause := errors.New("404 not found")
	operation := func() error {
		attempts++
		return Permanent(cause)
	}

	err := testPolicy(5).Do(context.Background(), operation)
	require.Error(t, err)
	assert.Equal(t, cause, err, "should unwrap the permanent marker")
	assert.Equal(t, 1, attempts, "should not retry a permanent error")
}

func TestIsPermanent(t *testing.T) {
	assert.False(t, IsPermanent(errors.New("plain")))
	assert.True(t, IsPermanent(Permanent(errors.New("marked"))))
	assert.False(t, IsPermanent(nil))
	assert.Nil(t, Permanent(nil))
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	operation := func() error {
		attempts++
		if attempts == 2 {
			cancel() // Cancel after second attempt
		}
		return errors.New("error")
	}

	err := testPolicy(10).Do(ctx, operation)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, attempts, 2, "should stop when context is canceled")
}

func TestDo_MaxDelayCapsBackoff(t *testing.T) {
	p := Policy{
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
		MaxAttempts: 6,
	}

	assert.Equal(t, 10*time.Millisecond, p.delayFor(1))
	assert.Equal(t, 20*time.Millisecond, p.delayFor(2))
	assert.Equal(t, 20*time.Millisecond, p.delayFor(5))
}

func TestDo_InvalidMaxAttempts(t *testing.T) {
	attempts := 0
	operation := func() error {
		attempts++
		return errors.New("error")
	}

	err := Policy{BaseDelay: time.Millisecond}.Do(context.Background(), operation)
	require.ErrorIs(t, err, ErrInvalidMaxAttempts)
	assert.Equal(t, 0, attempts, "should not attempt with MaxAttempts=0")
}
