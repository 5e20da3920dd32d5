package rtc

import (
	"context"

	"example.com/synchroclock/base/timebase"
)

// AlignedSource reads the reference clock right after a falling edge, when
// the seconds register has just incremented and the fraction is zero.
type AlignedSource struct {
	RTC timebase.ReferenceClock
}

var _ timebase.TimeSource = (*AlignedSource)(nil)

func (s *AlignedSource) AlignedTime(ctx context.Context) (int64, error) {
	err := s.RTC.WaitForEdge(ctx, timebase.FallingEdge)
	if err != nil {
		return 0, err
	}
	return s.RTC.ReadTime(ctx)
}
