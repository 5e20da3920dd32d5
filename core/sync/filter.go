package sync

import (
	"math"

	"example.com/synchroclock/base/floats"
	"example.com/synchroclock/base/ring"
	"example.com/synchroclock/core/measurements"
)

// addSample inserts s at the front of the window and reports whether it
// passes the single-sided delay filter. A rejected sample stays in the
// window and contributes to later statistics.
func addSample(w *ring.Ring[measurements.Sample], s measurements.Sample) (
	accepted bool, mean, stddev float64) {
	w.Push(s)
	delays := measurements.Delays(w.All())
	mean = floats.Mean(delays)
	stddev = floats.PopStdDev(delays, mean)
	accepted = !(math.Abs(s.Delay)-mean > stddev)
	return accepted, mean, stddev
}
