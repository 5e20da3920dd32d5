package floats

// TheilSen returns the Theil-Sen estimate of the line through (xs, ys): the
// median of all pairwise slopes and the median intercept for that slope.
// ok is false if fewer than two points have distinct x coordinates.
func TheilSen(xs, ys []float64) (slope, intercept float64, ok bool) {
	n := len(xs)
	if n != len(ys) {
		panic("unexpected number of values")
	}

	var slopes []float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// Like in the original paper by Sen (1968), ignore pairs with the same x coordinate
			if xs[i] != xs[j] {
				slopes = append(slopes, (ys[i]-ys[j])/(xs[i]-xs[j]))
			}
		}
	}
	if len(slopes) == 0 {
		return 0, 0, false
	}
	slope = Median(slopes)

	intercepts := make([]float64, n)
	for i := range xs {
		intercepts[i] = ys[i] - slope*xs[i]
	}
	intercept = Median(intercepts)

	return slope, intercept, true
}
