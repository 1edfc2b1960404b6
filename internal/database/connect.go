package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
)

// ConnectOptions controls how long startup waits for a backing service.
type ConnectOptions struct {
	Attempts int
	Backoff  time.Duration
}

// waitFor calls ping until it succeeds or the attempts run out. The wait
// starts at opts.Backoff and roughly doubles after every failure.
func waitFor(ctx context.Context, name string, opts ConnectOptions, ping func(context.Context) error) error {
	attempts := max(opts.Attempts, 1)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = opts.Backoff
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return ping(ctx)
	}, b, func(err error, wait time.Duration) {
		log.Warn("Waiting for "+name, "attempt", attempt, "retryIn", wait, "err", err)
	})
	if err != nil {
		return fmt.Errorf("%s unreachable after %d attempts: %w", name, attempt, err)
	}
	return nil
}
