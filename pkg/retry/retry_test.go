package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterRetries(t *testing.T) {
	policy := Fixed(time.Millisecond, 5)

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	policy := Fixed(time.Millisecond, 3)

	calls := 0
	boom := errors.New("boom")
	err := policy.Do(context.Background(), func() error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	// Initial attempt plus MaxRetries retries.
	assert.Equal(t, 4, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	policy := Fixed(time.Millisecond, 10)

	calls := 0
	boom := errors.New("boom")
	err := policy.Do(context.Background(), func() error {
		calls++
		return Permanent(boom)
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestUntil_ConditionBecomesTrue(t *testing.T) {
	policy := Fixed(time.Millisecond, 10)

	calls := 0
	err := policy.Until(context.Background(), func(context.Context) bool {
		calls++
		return calls >= 4
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestUntil_BudgetExhausted(t *testing.T) {
	policy := Fixed(time.Millisecond, 2)

	err := policy.Until(context.Background(), func(context.Context) bool {
		return false
	})

	require.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestUntil_ContextCancelled(t *testing.T) {
	policy := Fixed(10*time.Millisecond, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := policy.Until(ctx, func(context.Context) bool {
		return false
	})

	require.ErrorIs(t, err, context.Canceled)
}

func TestBudget(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, Fixed(50*time.Millisecond, 10).Budget())
}
