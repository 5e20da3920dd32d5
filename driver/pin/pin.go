package pin

import (
	"context"
	"time"

	"periph.io/x/conn/v3/gpio"

	"example.com/synchroclock/base/timebase"
)

// PollInterval bounds how long a wait blocks before the context is checked
// again.
const PollInterval = 100 * time.Millisecond

// WaitForEdge blocks until the pin reports a transition to the level of the
// given edge. The pin must have been configured with gpio.BothEdges.
func WaitForEdge(ctx context.Context, p gpio.PinIn, edge timebase.Edge) error {
	want := gpio.Low
	if edge == timebase.RisingEdge {
		want = gpio.High
	}
	for {
		err := ctx.Err()
		if err != nil {
			return err
		}
		if p.WaitForEdge(PollInterval) && p.Read() == want {
			return nil
		}
	}
}
