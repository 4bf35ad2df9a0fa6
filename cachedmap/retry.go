package cachedmap

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

// maxAttempts bounds contention retries for a single store operation.
const maxAttempts = 5

// isBusy reports whether err is SQLite telling us the database is transiently
// locked by another connection. modernc.org/sqlite surfaces busy/locked states
// in the error text, so match on that.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// withRetry runs op, retrying with exponential backoff plus random jitter
// while the store reports lock contention. Any other error, and the final
// contention error after maxAttempts, propagate to the caller.
func withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = op()
		if !isBusy(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		delay := time.Duration(100*(1<<attempt))*time.Millisecond +
			time.Duration(rand.Int64N(int64(time.Second)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
