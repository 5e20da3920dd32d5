package apply

import (
	"context"
	"time"

	"go.uber.org/zap"

	"example.com/synchroclock/base/timebase"
	"example.com/synchroclock/base/timemath"
)

// Sleeping hands back control this long before the target instant; the rest
// is spent polling the local clock.
const spinMargin = 2 * time.Millisecond

// Applier commits a correction to a whole-second reference clock. The
// fractional part is realised by timing the write: after the falling edge the
// applier waits until the corrected time reaches a whole second and writes
// that second.
type Applier struct {
	Log   *zap.Logger
	RTC   timebase.ReferenceClock
	Clock timebase.LocalClock
}

func (a *Applier) Apply(ctx context.Context, offset float64) error {
	whole, ms := timemath.SplitSeconds(offset)

	err := a.RTC.WaitForEdge(ctx, timebase.FallingEdge)
	if err != nil {
		return err
	}
	edge := a.Clock.Now()
	t, err := a.RTC.ReadTime(ctx)
	if err != nil {
		return err
	}

	if ms == 0 {
		a.Log.Debug("setting reference clock",
			zap.Int64("from", t), zap.Int64("to", t+whole))
		return a.RTC.WriteTime(ctx, t+whole)
	}

	wait := time.Second - time.Duration(ms)*time.Millisecond
	if d := wait - spinMargin - a.Clock.Now().Sub(edge); d > 0 {
		a.Clock.Sleep(d)
	}
	for a.Clock.Now().Sub(edge) < wait {
	}

	a.Log.Debug("setting reference clock",
		zap.Int64("from", t), zap.Int64("to", t+whole+1),
		zap.Duration("after edge", wait))
	return a.RTC.WriteTime(ctx, t+whole+1)
}
