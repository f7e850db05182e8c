package terminal

import (
	"context"
	"time"

	"github.com/okulab/termgate/internal/shared"
)

// withBusyRetry runs fn, retrying with exponential backoff on SQLite
// concurrency errors (SQLITE_BUSY / database is locked). Other errors return
// immediately.
func withBusyRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(baseDelay * time.Duration(1<<i)):
		}
	}
	return err
}
