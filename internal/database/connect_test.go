package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWaitFor_RetriesUntilReady tests that a service coming up late is awaited
func TestWaitFor_RetriesUntilReady(t *testing.T) {
	calls := 0
	ping := func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	err := waitFor(context.Background(), "postgres", ConnectOptions{Attempts: 5, Backoff: time.Millisecond}, ping)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

// TestWaitFor_GivesUp tests the error after the last attempt
func TestWaitFor_GivesUp(t *testing.T) {
	refused := errors.New("connection refused")
	calls := 0

	err := waitFor(context.Background(), "redis", ConnectOptions{Attempts: 2, Backoff: time.Millisecond}, func(context.Context) error {
		calls++
		return refused
	})

	assert.ErrorIs(t, err, refused)
	assert.Contains(t, err.Error(), "redis unreachable after 2 attempts")
	assert.Equal(t, 2, calls)
}

// TestWaitFor_StopsOnCancel tests that a cancelled startup does not keep waiting
func TestWaitFor_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitFor(ctx, "postgres", ConnectOptions{Attempts: 3, Backoff: time.Hour}, func(context.Context) error {
		return errors.New("connection refused")
	})

	assert.ErrorIs(t, err, context.Canceled)
}
