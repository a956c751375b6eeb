package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), Policy{Attempts: 5}, "test", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errFlaky
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 5}, "create", func(context.Context) (string, error) {
		calls++
		return "", errFlaky
	})
	assert.Equal(t, 5, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errFlaky)
}

func TestDoPermanent(t *testing.T) {
	calls := 0
	p := Policy{
		Attempts:  5,
		Permanent: func(err error) bool { return errors.Is(err, errFlaky) },
	}
	_, err := Do(context.Background(), p, "create", func(context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errFlaky)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestDoZeroAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, "once", func(context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{Attempts: 5, Delay: time.Hour}, "status", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errFlaky
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
