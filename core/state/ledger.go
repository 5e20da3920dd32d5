package state

import (
	"fmt"

	"example.com/synchroclock/base/ring"
	"example.com/synchroclock/core/measurements"
)

// Ledger is the history of corrections applied to the reference clock and
// the long-term drift derived from it. It survives power loss.
type Ledger struct {
	Adjustments *ring.Ring[measurements.Adjustment]
	DriftPPM    float64
}

func NewLedger(capacity int) *Ledger {
	return &Ledger{Adjustments: ring.New[measurements.Adjustment](capacity)}
}

func (l *Ledger) Reset() {
	l.Adjustments.Reset()
	l.DriftPPM = 0
}

func (l *Ledger) MarshalBinary() ([]byte, error) {
	var e encoder
	e.f64(l.DriftPPM)
	n := l.Adjustments.Len()
	e.u8(uint8(n))
	for i := range n {
		a := l.Adjustments.At(i)
		e.i64(a.Timestamp)
		e.f64(a.Adjustment)
	}
	return seal(e.b), nil
}

// UnmarshalBinary restores l from img. Entries beyond the capacity of l are
// dropped, oldest first. On error l is left unchanged.
func (l *Ledger) UnmarshalBinary(img []byte) error {
	data, err := unseal(img)
	if err != nil {
		return err
	}
	d := decoder{b: data}
	drift := d.f64()
	n := int(d.u8())
	as := make([]measurements.Adjustment, 0, n)
	for range n {
		as = append(as, measurements.Adjustment{
			Timestamp:  d.i64(),
			Adjustment: d.f64(),
		})
	}
	if err := d.finish(); err != nil {
		return err
	}
	l.Reset()
	l.DriftPPM = drift
	if len(as) > l.Adjustments.Cap() {
		as = as[:l.Adjustments.Cap()]
	}
	for i := len(as) - 1; i >= 0; i-- {
		l.Adjustments.Push(as[i])
	}
	return nil
}

func (l *Ledger) String() string {
	return fmt.Sprintf("ledger{n: %d, drift: %.3fppm}", l.Adjustments.Len(), l.DriftPPM)
}
