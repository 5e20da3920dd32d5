package rtc

import (
	"context"
	"math"
	"sync"
	"time"

	"example.com/synchroclock/base/timebase"
	"example.com/synchroclock/base/timemath"
)

// SimRTC simulates a whole-second RTC whose oscillator runs fast or slow by
// a fixed rate relative to the local clock.
type SimRTC struct {
	clk  timebase.LocalClock
	rate float64

	mu          sync.Mutex
	anchorLocal time.Time
	anchorRef   float64
}

var _ timebase.ReferenceClock = (*SimRTC)(nil)

// NewSimRTC returns a simulated RTC reading start (Unix seconds) now and
// gaining driftPPM microseconds per second from then on.
func NewSimRTC(clk timebase.LocalClock, start float64, driftPPM float64) *SimRTC {
	return &SimRTC{
		clk:         clk,
		rate:        1 + driftPPM/1e6,
		anchorLocal: clk.Now(),
		anchorRef:   start,
	}
}

// Now returns the simulated time with its fractional part.
func (c *SimRTC) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func (c *SimRTC) now() float64 {
	return c.anchorRef + timemath.Seconds(c.clk.Now().Sub(c.anchorLocal))*c.rate
}

func (c *SimRTC) WaitForEdge(ctx context.Context, edge timebase.Edge) error {
	err := ctx.Err()
	if err != nil {
		return err
	}
	c.mu.Lock()
	r := c.now()
	next := math.Floor(r) + 1
	if edge == timebase.RisingEdge {
		next = math.Floor(r) + 0.5
		if next <= r {
			next++
		}
	}
	c.mu.Unlock()
	c.clk.Sleep(timemath.Duration((next - r) / c.rate))
	return nil
}

func (c *SimRTC) ReadTime(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(math.Floor(c.now())), nil
}

func (c *SimRTC) WriteTime(ctx context.Context, sec int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchorLocal = c.clk.Now()
	c.anchorRef = float64(sec)
	return nil
}
