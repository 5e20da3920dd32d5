package benchmark

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"go.uber.org/zap"

	"example.com/synchroclock/base/floats"

	"example.com/synchroclock/core/client"

	"example.com/synchroclock/net/ntp"
)

// Round trip delays are recorded in microseconds.
const (
	histoMin     = 1
	histoMax     = 5_000_000
	histoSigFigs = 3
)

// Benchmark runs a series of exchanges against one server, NumClients
// goroutines sending NumRequests requests each.
type Benchmark struct {
	Log         *zap.Logger
	Transport   client.Transport
	Now         func() time.Time
	NumClients  int
	NumRequests int
}

type point struct {
	t, offset float64
}

type Report struct {
	Histo    *hdrhistogram.Histogram
	Times    []float64
	Offsets  []float64
	Failures int
	Elapsed  time.Duration
}

func (b *Benchmark) Run(ctx context.Context, remote netip.AddrPort) *Report {
	now := b.Now
	if now == nil {
		now = time.Now
	}
	numClients := max(b.NumClients, 1)

	var mu sync.Mutex
	var wg sync.WaitGroup
	var points []point
	r := &Report{Histo: hdrhistogram.New(histoMin, histoMax, histoSigFigs)}

	sg := make(chan struct{})
	t0 := now()
	wg.Add(numClients)
	for i := numClients; i > 0; i-- {
		go func() {
			defer wg.Done()
			c := &client.Client{
				Transport: b.Transport,
				Histo:     hdrhistogram.New(histoMin, histoMax, histoSigFigs),
			}
			var ps []point
			failures := 0
			<-sg
			for j := b.NumRequests; j > 0 && ctx.Err() == nil; j-- {
				t1 := now()
				m, err := c.MeasureClockOffset(ctx, b.Log, remote, ntp.Time64FromTime(t1))
				if err != nil {
					b.Log.Info("failed to measure clock offset",
						zap.Stringer("to", remote), zap.Error(err))
					failures++
					continue
				}
				b.Log.Debug("measured clock offset",
					zap.Stringer("to", remote),
					zap.Time("server time", ntp.TimeFromTime64(m.T3, t1)),
					zap.Float64("offset", m.Offset),
				)
				ps = append(ps, point{t: t1.Sub(t0).Seconds(), offset: m.Offset})
			}
			mu.Lock()
			defer mu.Unlock()
			r.Histo.Merge(c.Histo)
			points = append(points, ps...)
			r.Failures += failures
		}()
	}
	close(sg)
	wg.Wait()
	r.Elapsed = now().Sub(t0)

	sort.Slice(points, func(i, j int) bool { return points[i].t < points[j].t })
	for _, p := range points {
		r.Times = append(r.Times, p.t)
		r.Offsets = append(r.Offsets, p.offset)
	}
	return r
}

// Print writes the round trip delay percentiles followed by the median
// offset and a robust estimate of the relative frequency error.
func (r *Report) Print(w io.Writer) error {
	_, err := r.Histo.PercentilesPrint(w, 1, 1.0)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "#[Samples = %d, Failures = %d, Elapsed = %v]\n",
		len(r.Offsets), r.Failures, r.Elapsed)
	if err != nil || len(r.Offsets) == 0 {
		return err
	}
	_, err = fmt.Fprintf(w, "#[Median offset = %.9f s]\n", floats.Median(r.Offsets))
	if err != nil {
		return err
	}
	slope, _, ok := floats.TheilSen(r.Times, r.Offsets)
	if ok {
		_, err = fmt.Fprintf(w, "#[Drift = %.3f ppm]\n", slope*1e6)
	}
	return err
}
