// Package retry wraps flaky outbound calls, chiefly the AI scoring service
// and the payment gateway, in bounded attempts with exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError marks an error that retrying cannot fix, such as a declined
// card or a 4xx from the scoring service.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do stops immediately instead of retrying.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do calls fn up to maxAttempts times. Between attempts it sleeps baseDelay
// doubled per attempt with 25% jitter, so concurrent claim evaluations do
// not hammer a recovering backend in lockstep.
//
// Do returns nil on the first success, ctx.Err() if the context ends while
// waiting, and otherwise the last error fn produced. A *PermanentError is
// returned unwrapped: callers match the inner error with errors.Is.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}

		delay *= 2
	}

	return err
}

// jittered spreads delay across [0.75d, 1.25d].
func jittered(delay time.Duration) time.Duration {
	quarter := delay / 4
	return delay - quarter + time.Duration(randInt64n(int64(2*quarter+1)))
}

// randInt64n returns a random int64 in [0, n) from crypto/rand, matching the
// randomness source used everywhere else in the module.
func randInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n)) //nolint:gosec // n>0, v%n < n, safe
}
