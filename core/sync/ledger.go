package sync

import (
	"example.com/synchroclock/core/measurements"
)

const (
	minLedgerEntries = 4
	minLedgerPairs   = 2
)

// ledgerDrift returns the long-term drift in ppm: the sum of the adjustments
// divided by the sum of the intervals they cover, taken over adjacent pairs
// (newest first) whose timestamps are both valid. A zero timestamp marks an
// entry invalidated by a power cycle. At least minLedgerEntries entries and
// minLedgerPairs valid pairs are required.
func ledgerDrift(as []measurements.Adjustment) (ppm float64, ok bool) {
	if len(as) < minLedgerEntries {
		return 0, false
	}
	var sumAdj float64
	var sumDt int64
	var pairs int
	for i := 0; i+1 < len(as); i++ {
		if as[i].Timestamp == 0 || as[i+1].Timestamp == 0 {
			continue
		}
		sumAdj += as[i].Adjustment
		sumDt += as[i].Timestamp - as[i+1].Timestamp
		pairs++
	}
	if pairs < minLedgerPairs || sumDt <= 0 {
		return 0, false
	}
	return sumAdj / float64(sumDt) * 1e6, true
}
