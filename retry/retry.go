// Package retry runs platform calls under a bounded attempt budget with a
// fixed delay between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"go.ntppool.org/common/logger"
)

// ErrExhausted is wrapped into the error returned when every attempt
// failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy bounds how often an operation is tried.
type Policy struct {
	Attempts int
	Delay    time.Duration

	// Permanent, if set, marks errors that must not be retried.
	Permanent func(error) bool
}

func (p Policy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// Do calls op until it succeeds, the attempts run out, op fails with a
// permanent error or ctx is done. The name is used in log messages.
func Do[T any](ctx context.Context, p Policy, name string, op func(context.Context) (T, error)) (T, error) {
	log := logger.FromContext(ctx)

	tries := 0
	permanent := false
	res, err := backoff.Retry(ctx,
		func() (T, error) {
			tries++
			v, err := op(ctx)
			if err != nil && p.Permanent != nil && p.Permanent(err) {
				permanent = true
				return v, backoff.Permanent(err)
			}
			return v, err
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(p.attempts())),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.WarnContext(ctx, "retrying", "op", name, "attempt", tries, "wait", wait, "err", err)
		}),
	)
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if permanent {
		return res, fmt.Errorf("%s: %w", name, err)
	}
	return res, fmt.Errorf("%s: %w after %d attempts: %w", name, ErrExhausted, tries, err)
}
