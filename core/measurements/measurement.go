package measurements

import (
	"example.com/synchroclock/base/floats"
)

// Sample is one accepted exchange. Timestamp is the reference clock time of
// the request in Unix seconds; Offset and Delay are in seconds.
type Sample struct {
	Timestamp int64
	Offset    float64
	Delay     float64
}

// Adjustment is one correction applied to the reference clock.
type Adjustment struct {
	Timestamp  int64
	Adjustment float64
}

func Delays(ss []Sample) []float64 {
	ds := make([]float64, len(ss))
	for i, s := range ss {
		ds[i] = s.Delay
	}
	return ds
}

func Offsets(ss []Sample) []float64 {
	os := make([]float64, len(ss))
	for i, s := range ss {
		os[i] = s.Offset
	}
	return os
}

// MedianOffset returns the median offset of ss without reordering ss.
func MedianOffset(ss []Sample) float64 {
	return floats.Median(Offsets(ss))
}
