package db

import (
	"context"
	"time"
)

// Delay blocks for d or until ctx is done. The in-memory backends call it to
// stand in for a database round trip.
func Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
