package timebase

import (
	"context"
	"time"
)

// LocalClock is the node's free-running clock. It is used to time network
// exchanges and busy-waits, never as a time-of-day source.
type LocalClock interface {
	Now() time.Time
	Sleep(duration time.Duration)
}

type Edge int

const (
	FallingEdge Edge = iota
	RisingEdge
)

func (e Edge) String() string {
	switch e {
	case FallingEdge:
		return "falling"
	case RisingEdge:
		return "rising"
	default:
		return "unknown"
	}
}

// ReferenceClock is a whole-second time-of-day clock with a 1 Hz timing
// signal. Time values are Unix seconds.
type ReferenceClock interface {
	WaitForEdge(ctx context.Context, edge Edge) error
	ReadTime(ctx context.Context) (int64, error)
	WriteTime(ctx context.Context, sec int64) error
}

// TimeSource returns the reference time in Unix seconds, read immediately
// after a falling edge of the 1 Hz signal.
type TimeSource interface {
	AlignedTime(ctx context.Context) (int64, error)
}
