// Package ctxtime provides a context-aware Sleep, used for the delay
// between feed reconnect attempts so shutdown is not held up by it.
package ctxtime

import (
	"context"
	"time"
)

func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if ctx == nil {
		time.Sleep(d)
		return nil
	}

	t := time.NewTimer(d)
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-t.C:
	}
	return nil
}
