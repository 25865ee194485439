package capture

import (
	"context"
	"time"
)

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PollUntil calls ready every interval until it returns true, the bound
// elapses, or ctx is done. It reports whether ready returned true.
func PollUntil(ctx context.Context, interval, bound time.Duration, ready func() bool) bool {
	if ready() {
		return true
	}
	for waited := time.Duration(0); waited < bound; waited += interval {
		if err := Sleep(ctx, interval); err != nil {
			return false
		}
		if ready() {
			return true
		}
	}
	return false
}
