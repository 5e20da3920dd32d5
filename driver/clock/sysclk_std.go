//go:build !linux

package clock

import (
	"time"

	"go.uber.org/zap"

	"example.com/synchroclock/base/timebase"
)

type SystemClock struct {
	Log *zap.Logger
}

var _ timebase.LocalClock = (*SystemClock)(nil)

var start = time.Now()

func (c *SystemClock) Now() time.Time {
	// Keep the monotonic reading by deriving every value from start.
	return time.Unix(0, 0).UTC().Add(time.Since(start))
}

func (c *SystemClock) Sleep(duration time.Duration) {
	if duration <= 0 {
		return
	}
	c.Log.Debug("SystemClock.Sleep", zap.Duration("duration", duration))
	time.Sleep(duration)
}
