package sync

import (
	"example.com/synchroclock/base/floats"
	"example.com/synchroclock/core/measurements"
)

const minRegressionPoints = 4

// sessionDrift fits offset over time for the samples taken at or after
// timebase and returns the slope in ppm. A zero timebase selects the oldest
// sample.
func sessionDrift(samples []measurements.Sample, timebase int64) (ppm float64, ok bool) {
	if len(samples) == 0 {
		return 0, false
	}
	if timebase == 0 {
		timebase = samples[len(samples)-1].Timestamp
	}
	var xs, ys []float64
	for _, s := range samples {
		if s.Timestamp >= timebase {
			xs = append(xs, float64(s.Timestamp-timebase))
			ys = append(ys, s.Offset)
		}
	}
	slope, ok := floats.Slope(xs, ys, minRegressionPoints)
	if !ok {
		return 0, false
	}
	return slope * 1e6, true
}
