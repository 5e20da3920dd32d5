package hands

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"example.com/synchroclock/base/timebase"
)

// MaxPosition is the number of distinct hand positions, one per second of a
// 12 hour dial.
const MaxPosition = 12 * 60 * 60

var (
	ErrActuator  = errors.New("clock face actuator failed")
	ErrReference = errors.New("reference clock read failed")
)

// Actuator drives the hands of an analog clock face. Positions are seconds
// past 12:00 on the dial. An adjustment is a count of extra forward ticks the
// movement performs before resuming normal time keeping.
type Actuator interface {
	WaitForEdge(ctx context.Context, edge timebase.Edge) error
	ReadPosition(ctx context.Context) (int, error)
	WriteAdjustment(ctx context.Context, adj int) error
	Pause(ctx context.Context, seconds int) error
}

// StopPolicy selects stopping the hands over a near full turn. Hands that are
// ahead of the reference by at most Threshold seconds are held still until
// the reference catches up. Zero disables stopping.
type StopPolicy struct {
	Threshold int
}

type Correction struct {
	Position int
	Target   int
	Advance  int
	Pause    int
}

// Position maps Unix seconds plus a time zone offset onto the dial.
func Position(unix, tzOffset int64) int {
	p := (unix + tzOffset) % MaxPosition
	if p < 0 {
		p += MaxPosition
	}
	return int(p)
}

// Sync brings the hands in line with the reference clock. The position is
// read right after a falling edge of the movement, while the hands stand
// still, and the adjustment is written on the following rising edge so that
// it takes effect with the next tick.
func Sync(ctx context.Context, log *zap.Logger, rtc timebase.ReferenceClock, act Actuator,
	tzOffset int64, policy StopPolicy) (Correction, error) {
	var c Correction

	err := act.WriteAdjustment(ctx, 0)
	if err != nil {
		return c, fmt.Errorf("%w: clearing adjustment: %w", ErrActuator, err)
	}
	err = act.WaitForEdge(ctx, timebase.FallingEdge)
	if err != nil {
		return c, fmt.Errorf("%w: %w", ErrActuator, err)
	}
	c.Position, err = act.ReadPosition(ctx)
	if err != nil {
		return c, fmt.Errorf("%w: reading position: %w", ErrActuator, err)
	}
	if c.Position < 0 || c.Position >= MaxPosition {
		return c, fmt.Errorf("%w: position %d out of range", ErrActuator, c.Position)
	}
	t, err := rtc.ReadTime(ctx)
	if err != nil {
		return c, fmt.Errorf("%w: %w", ErrReference, err)
	}
	c.Target = Position(t, tzOffset)

	log.Debug("clock face",
		zap.Int("position", c.Position), zap.Int("target", c.Target))

	if c.Position == c.Target {
		return c, nil
	}
	adj := c.Target - c.Position
	if adj < 0 {
		adj += MaxPosition
	}

	ahead := MaxPosition - adj
	if policy.Threshold > 0 && ahead <= policy.Threshold {
		c.Pause = ahead
		log.Info("stopping hands", zap.Int("seconds", ahead))
		err = act.Pause(ctx, ahead)
		if err != nil {
			return c, fmt.Errorf("%w: pausing: %w", ErrActuator, err)
		}
		return c, nil
	}

	err = act.WaitForEdge(ctx, timebase.RisingEdge)
	if err != nil {
		return c, fmt.Errorf("%w: %w", ErrActuator, err)
	}
	c.Advance = adj
	log.Info("advancing hands", zap.Int("seconds", adj))
	err = act.WriteAdjustment(ctx, adj)
	if err != nil {
		return c, fmt.Errorf("%w: writing adjustment: %w", ErrActuator, err)
	}
	return c, nil
}
