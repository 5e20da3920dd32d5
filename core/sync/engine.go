package sync

import (
	"context"
	"fmt"
	"math"
	"net/netip"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"example.com/synchroclock/base/timebase"

	"example.com/synchroclock/core/client"
	"example.com/synchroclock/core/measurements"
	"example.com/synchroclock/core/state"

	"example.com/synchroclock/net/ntp"
)

type Params struct {
	Server          string
	RemotePort      uint16
	OffsetThreshold float64
	MinPoll         time.Duration
	MediumPoll      time.Duration
	MaxPoll         time.Duration
}

func (p *Params) validate() {
	if p.Server == "" {
		panic("invalid server name")
	}
	if p.OffsetThreshold <= 0 {
		panic("invalid offset threshold")
	}
	if p.MinPoll <= 0 || p.MinPoll > p.MediumPoll || p.MediumPoll > p.MaxPoll {
		panic("invalid poll interval bounds")
	}
}

// Applier commits a correction in seconds to the reference clock.
type Applier interface {
	Apply(ctx context.Context, offset float64) error
}

// Result describes one poll. PersistLedger is set when the ledger changed
// and must be written back to non-volatile storage.
type Result struct {
	Sample        measurements.Sample
	Measurement   client.Measurement
	Accepted      bool
	Applied       bool
	PersistLedger bool
	Mean, StdDev  float64
	MedianOffset  float64
}

// Engine owns the session and ledger state and runs one poll or one drift
// projection at a time.
type Engine struct {
	log     *zap.Logger
	params  Params
	client  client.Client
	source  timebase.TimeSource
	clk     timebase.LocalClock
	applier Applier
	session *state.Session
	ledger  *state.Ledger

	numOpsInProgress uint32
}

func NewEngine(log *zap.Logger, params Params, transport client.Transport,
	source timebase.TimeSource, clk timebase.LocalClock, applier Applier,
	session *state.Session, ledger *state.Ledger) *Engine {
	params.validate()
	if session == nil || ledger == nil {
		panic("engine state must not be nil")
	}
	return &Engine{
		log:     log,
		params:  params,
		client:  client.Client{Transport: transport},
		source:  source,
		clk:     clk,
		applier: applier,
		session: session,
		ledger:  ledger,
	}
}

func (e *Engine) Session() *state.Session { return e.session }

func (e *Engine) Ledger() *state.Ledger { return e.ledger }

func (e *Engine) acquire() error {
	swapped := atomic.CompareAndSwapUint32(&e.numOpsInProgress, 0, 1)
	if !swapped {
		return ErrPollInProgress
	}
	return nil
}

func (e *Engine) release() {
	swapped := atomic.CompareAndSwapUint32(&e.numOpsInProgress, 1, 0)
	if !swapped {
		panic("inconsistent count of engine operations")
	}
}

func (e *Engine) resolve(ctx context.Context) error {
	s := e.session
	if s.Addr.IsValid() && s.Reach != 0 {
		return nil
	}
	addr, err := e.client.Transport.Resolve(ctx, e.params.Server)
	if err != nil {
		return err
	}
	if addr != s.Addr {
		e.log.Info("resolved server",
			zap.String("server", e.params.Server),
			zap.Stringer("address", addr),
		)
	}
	s.Addr = addr
	return nil
}

// Poll performs one exchange with the upstream server and folds the result
// into the session. An accepted offset of at least the threshold is applied
// to the reference clock.
func (e *Engine) Poll(ctx context.Context) (Result, error) {
	err := e.acquire()
	if err != nil {
		return Result{}, err
	}
	defer e.release()

	m := mtrcs.Load()
	m.polls.Inc()

	s := e.session
	if s.Server != e.params.Server {
		e.log.Info("server changed, resetting session",
			zap.String("from", s.Server),
			zap.String("to", e.params.Server),
		)
		s.Reset(e.params.Server)
	}
	s.Reach <<= 1
	defer func() {
		s.PollInterval = e.NextPoll().Seconds()
		m.reach.Set(float64(s.Reach))
		m.nextPoll.Set(s.PollInterval)
	}()

	sec, err := e.source.AlignedTime(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrReferenceClock, err)
	}
	edge := e.clk.Now()

	err = e.resolve(ctx)
	if err != nil {
		return Result{}, err
	}

	t1 := ntp.Time64FromUnix(sec).Add(e.clk.Now().Sub(edge))
	meas, err := e.client.MeasureClockOffset(ctx, e.log,
		netip.AddrPortFrom(s.Addr, e.params.RemotePort), t1)
	if err != nil {
		e.log.Info("failed to measure clock offset",
			zap.String("server", e.params.Server),
			zap.Error(err),
		)
		return Result{}, err
	}

	res := Result{
		Sample: measurements.Sample{
			Timestamp: sec,
			Offset:    meas.Offset,
			Delay:     meas.Delay,
		},
		Measurement: meas,
	}
	m.offset.Set(res.Sample.Offset)

	res.Accepted, res.Mean, res.StdDev = addSample(s.Samples, res.Sample)
	res.MedianOffset = measurements.MedianOffset(s.Samples.All())
	if res.Accepted {
		s.Reach |= 1
	}
	e.log.Debug("sample",
		zap.Int64("timestamp", res.Sample.Timestamp),
		zap.Float64("offset", res.Sample.Offset),
		zap.Float64("delay", res.Sample.Delay),
		zap.Float64("mean", res.Mean),
		zap.Float64("stddev", res.StdDev),
		zap.Float64("median offset", res.MedianOffset),
		zap.Bool("accepted", res.Accepted),
		zap.Int("samples", s.Samples.Len()),
	)

	if ppm, ok := sessionDrift(s.Samples.All(), s.LastApplied); ok {
		s.DriftPPM = ppm
		s.HasDrift = true
		m.sessionDrift.Set(ppm)
		e.log.Debug("session drift", zap.Float64("ppm", ppm))
	}

	if !res.Accepted {
		m.outliers.Inc()
		return res, fmt.Errorf("%w: delay %v, mean %v, stddev %v",
			ErrOutlier, res.Sample.Delay, res.Mean, res.StdDev)
	}

	if math.Abs(res.Sample.Offset) < e.params.OffsetThreshold {
		return res, nil
	}

	err = e.applier.Apply(ctx, res.Sample.Offset)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrReferenceClock, err)
	}
	res.Applied = true
	s.LastApplied = res.Sample.Timestamp
	// The applied sample is the zero point of the corrected clock and
	// anchors later drift fits at LastApplied.
	anchor := res.Sample
	anchor.Offset = 0
	s.Samples.Set(0, anchor)
	s.DriftCheckpoint = res.Sample.Timestamp
	m.netCorrections.Inc()
	e.log.Info("applied network correction",
		zap.Float64("offset", res.Sample.Offset),
		zap.Float64("drifted", s.Drifted),
	)

	if s.Samples.Full() {
		e.updateLedger(res.Sample)
		res.PersistLedger = true
	}

	return res, nil
}

func (e *Engine) updateLedger(latest measurements.Sample) {
	s, l := e.session, e.ledger
	adj := measurements.Adjustment{
		Timestamp:  latest.Timestamp,
		Adjustment: latest.Offset + s.Drifted,
	}
	l.Adjustments.Push(adj)
	s.Drifted = 0
	if ppm, ok := ledgerDrift(l.Adjustments.All()); ok {
		l.DriftPPM = ppm
		mtrcs.Load().ledgerDrift.Set(ppm)
	}
	e.log.Info("ledger updated",
		zap.Int64("timestamp", adj.Timestamp),
		zap.Float64("adjustment", adj.Adjustment),
		zap.Int("entries", l.Adjustments.Len()),
		zap.Float64("drift ppm", l.DriftPPM),
	)
}

// Project estimates the error accumulated since the drift checkpoint from the
// long-term drift alone and applies it once it reaches the threshold.
func (e *Engine) Project(ctx context.Context) (float64, error) {
	err := e.acquire()
	if err != nil {
		return 0, err
	}
	defer e.release()

	s, l := e.session, e.ledger
	if l.DriftPPM == 0 {
		return 0, fmt.Errorf("%w: no long-term drift", ErrInsufficientHistory)
	}
	now, err := e.source.AlignedTime(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrReferenceClock, err)
	}
	if s.DriftCheckpoint == 0 {
		s.DriftCheckpoint = now
		return 0, fmt.Errorf("%w: drift checkpoint set", ErrInsufficientHistory)
	}
	if s.DriftCheckpoint >= now {
		e.log.Info("reference clock moved backward, resetting drift checkpoint",
			zap.Int64("checkpoint", s.DriftCheckpoint),
			zap.Int64("now", now),
		)
		s.DriftCheckpoint = now
		return 0, ErrClockBackward
	}
	offset := float64(now-s.DriftCheckpoint) * l.DriftPPM / 1e6
	if math.Abs(offset) < e.params.OffsetThreshold {
		return offset, ErrBelowThreshold
	}

	err = e.applier.Apply(ctx, offset)
	if err != nil {
		return offset, fmt.Errorf("%w: %w", ErrReferenceClock, err)
	}
	s.DriftCheckpoint = now
	s.Drifted += offset
	mtrcs.Load().driftCorrections.Inc()
	e.log.Info("applied drift correction",
		zap.Float64("offset", offset),
		zap.Float64("drifted", s.Drifted),
		zap.Float64("drift ppm", l.DriftPPM),
	)
	return offset, nil
}

// NextPoll returns the delay until the next poll. Without a session estimate
// the long-term drift stands in.
func (e *Engine) NextPoll() time.Duration {
	s := e.session
	ppm, ok := s.DriftPPM, s.HasDrift
	if !ok && e.ledger.DriftPPM != 0 {
		ppm, ok = e.ledger.DriftPPM, true
	}
	return pollInterval(&e.params, s.Samples.Full(), s.Reach, ppm, ok)
}
