package floats

import (
	"math"
	"slices"
)

func midpoint(x, y float64) float64 {
	return x + (y-x)/2.0
}

func Median(fs []float64) float64 {
	n := len(fs)
	if n == 0 {
		panic("unexpected number of values")
	}
	slices.Sort(fs)
	i := n / 2
	if n%2 != 0 {
		return fs[i]
	}
	return midpoint(fs[i-1], fs[i])
}

func Mean(fs []float64) float64 {
	n := len(fs)
	if n == 0 {
		panic("unexpected number of values")
	}
	var sum float64
	for _, f := range fs {
		sum += f
	}
	return sum / float64(n)
}

// PopStdDev returns the population standard deviation of fs around mean.
func PopStdDev(fs []float64, mean float64) float64 {
	n := len(fs)
	if n == 0 {
		panic("unexpected number of values")
	}
	var sum float64
	for _, f := range fs {
		d := f - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}

// Slope returns the ordinary least squares slope of y over x. ok is false if
// there are fewer than minPoints points or all x are equal.
func Slope(xs, ys []float64, minPoints int) (slope float64, ok bool) {
	n := len(xs)
	if n != len(ys) {
		panic("unexpected number of values")
	}
	if n < minPoints || n == 0 {
		return 0, false
	}
	mx, my := Mean(xs), Mean(ys)
	var sxy, sxx float64
	for i := range xs {
		dx := xs[i] - mx
		sxy += dx * (ys[i] - my)
		sxx += dx * dx
	}
	if sxx == 0 {
		return 0, false
	}
	return sxy / sxx, true
}
