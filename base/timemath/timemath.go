package timemath

import (
	"math"
	"time"
)

func Duration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

func Clamp(d, lo, hi time.Duration) time.Duration {
	if lo > hi {
		panic("unexpected interval bounds")
	}
	switch {
	case d < lo:
		return lo
	case d > hi:
		return hi
	default:
		return d
	}
}

// SplitSeconds splits an offset into whole seconds (rounded toward negative
// infinity) and a non-negative millisecond remainder in [0, 1000).
func SplitSeconds(offset float64) (whole int64, ms int64) {
	f := math.Floor(offset)
	whole = int64(f)
	ms = int64(math.Round((offset - f) * 1000))
	if ms == 1000 {
		whole++
		ms = 0
	}
	return whole, ms
}
