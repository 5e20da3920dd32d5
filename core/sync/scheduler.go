package sync

import (
	"math"
	"time"

	"example.com/synchroclock/base/timemath"
)

// pollInterval derives the next poll delay from the drift estimate and the
// reachability register. An unfilled window or three consecutive failures
// force the minimum; a single failure selects the medium interval.
func pollInterval(p *Params, windowFull bool, reach uint8, driftPPM float64, hasDrift bool) time.Duration {
	switch {
	case !windowFull:
		return p.MinPoll
	case reach&0b111 == 0:
		return p.MinPoll
	case reach&0b1 == 0:
		return p.MediumPoll
	case !hasDrift:
		return p.MinPoll
	case driftPPM == 0:
		return p.MaxPoll
	}
	sec := p.OffsetThreshold / math.Abs(driftPPM/1e6)
	if sec >= p.MaxPoll.Seconds() {
		return p.MaxPoll
	}
	return timemath.Clamp(timemath.Duration(sec), p.MinPoll, p.MaxPoll)
}
