package sync

import (
	"context"
	"errors"
	"math"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"example.com/synchroclock/core/client"
	"example.com/synchroclock/core/measurements"
	"example.com/synchroclock/core/state"
	"example.com/synchroclock/net/ntp"
)

type exchange struct {
	offset time.Duration
	delay  time.Duration
	err    error
}

// scriptedTransport answers each exchange with the next scripted offset and
// delay. The server receives and transmits at T1 + offset + delay/2.
type scriptedTransport struct {
	script   []exchange
	resolved int
	dnsErr   error
}

func (s *scriptedTransport) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if s.dnsErr != nil {
		return netip.Addr{}, s.dnsErr
	}
	s.resolved++
	return netip.MustParseAddr("192.0.2.1"), nil
}

func (s *scriptedTransport) Exchange(ctx context.Context, remote netip.AddrPort, req []byte) (
	[]byte, time.Duration, error) {
	x := s.script[0]
	s.script = s.script[1:]
	if x.err != nil {
		return nil, 0, x.err
	}
	var pkt ntp.Packet
	if err := ntp.DecodePacket(&pkt, req); err != nil {
		return nil, 0, err
	}
	var resp ntp.Packet
	resp.SetVersion(ntp.VersionMax)
	resp.SetMode(ntp.ModeServer)
	resp.Stratum = 1
	resp.OriginTime = pkt.TransmitTime
	resp.ReceiveTime = pkt.TransmitTime.Add(x.offset + x.delay/2)
	resp.TransmitTime = resp.ReceiveTime
	var b []byte
	ntp.EncodePacket(&b, &resp)
	return b, x.delay, nil
}

type fakeSource struct {
	now int64
	err error
}

func (f *fakeSource) AlignedTime(ctx context.Context) (int64, error) {
	return f.now, f.err
}

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time { return f.t }

func (f *fakeClock) Sleep(d time.Duration) { f.t = f.t.Add(d) }

type fakeApplier struct {
	applied []float64
	err     error
}

func (f *fakeApplier) Apply(ctx context.Context, offset float64) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, offset)
	return nil
}

type fixture struct {
	eng     *Engine
	tr      *scriptedTransport
	src     *fakeSource
	applier *fakeApplier
}

func newFixture(t *testing.T, sampleCap int, script ...exchange) *fixture {
	f := &fixture{
		tr:      &scriptedTransport{script: script},
		src:     &fakeSource{now: 1700000000},
		applier: &fakeApplier{},
	}
	params := Params{
		Server:          "pool.ntp.org",
		RemotePort:      123,
		OffsetThreshold: 0.1,
		MinPoll:         15 * time.Minute,
		MediumPoll:      time.Hour,
		MaxPoll:         48 * time.Hour,
	}
	f.eng = NewEngine(zaptest.NewLogger(t), params, f.tr, f.src, &fakeClock{},
		f.applier, state.NewSession(sampleCap), state.NewLedger(10))
	return f
}

func ms(v float64) time.Duration {
	return time.Duration(v * float64(time.Millisecond))
}

func TestPollThresholdGating(t *testing.T) {
	const eps = 1e-6
	tests := []struct {
		name    string
		offset  float64
		applied bool
	}{
		{"below", 0.1 - eps, false},
		{"above", 0.1 + eps, true},
		{"negative below", -0.1 + eps, false},
		{"negative above", -0.1 - eps, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 8, exchange{offset: ms(tt.offset * 1000), delay: ms(20)})
			res, err := f.eng.Poll(context.Background())
			if err != nil {
				t.Fatalf("Poll failed: %v", err)
			}
			if !res.Accepted {
				t.Fatalf("sample must be accepted")
			}
			if math.Abs(res.Sample.Offset-tt.offset) > 1e-8 {
				t.Errorf("offset: got %v, want %v", res.Sample.Offset, tt.offset)
			}
			if res.Applied != tt.applied || (len(f.applier.applied) == 1) != tt.applied {
				t.Errorf("applied: got %v (%v), want %v", res.Applied, f.applier.applied, tt.applied)
			}
			s := f.eng.Session()
			if tt.applied && (s.LastApplied != f.src.now || s.DriftCheckpoint != f.src.now) {
				t.Errorf("applied correction must set last applied and checkpoint, got %+v", s)
			}
			if s.Reach != 1 {
				t.Errorf("reach: got %#b, want 1", s.Reach)
			}
		})
	}
}

func TestPollOutlier(t *testing.T) {
	f := newFixture(t, 8,
		exchange{delay: ms(20)},
		exchange{delay: ms(21)},
		exchange{delay: ms(19)},
		exchange{offset: ms(500), delay: ms(300)},
	)
	var res Result
	var err error
	for range 4 {
		f.src.now += 60
		res, err = f.eng.Poll(context.Background())
	}
	if !errors.Is(err, ErrOutlier) {
		t.Fatalf("got %v, want %v", err, ErrOutlier)
	}
	if res.Accepted || res.Applied || len(f.applier.applied) != 0 {
		t.Errorf("outlier must not be applied")
	}
	s := f.eng.Session()
	if s.Samples.Len() != 4 || math.Abs(s.Samples.At(0).Delay-0.3) > 1e-8 {
		t.Errorf("outlier must stay in the window, got %v", s.Samples.All())
	}
	if s.Reach&1 != 0 {
		t.Errorf("outlier must not mark the poll reachable, reach %#b", s.Reach)
	}
}

func TestPollLedgerUpdate(t *testing.T) {
	var script []exchange
	for range 4 {
		script = append(script, exchange{offset: ms(200), delay: ms(20)})
	}
	f := newFixture(t, 1, script...)
	f.eng.Session().Server = "pool.ntp.org"
	f.eng.Session().Drifted = 0.05

	for i := range 4 {
		f.src.now = 1000 + int64(i)*500
		res, err := f.eng.Poll(context.Background())
		if err != nil {
			t.Fatalf("Poll %d failed: %v", i, err)
		}
		if !res.Applied || !res.PersistLedger {
			t.Fatalf("Poll %d: got %+v, want applied and ledger persisted", i, res)
		}
	}

	l := f.eng.Ledger()
	if l.Adjustments.Len() != 4 {
		t.Fatalf("got %d ledger entries, want 4", l.Adjustments.Len())
	}
	oldest := l.Adjustments.At(3)
	if oldest.Timestamp != 1000 || math.Abs(oldest.Adjustment-0.25) > 1e-8 {
		t.Errorf("first entry must fold in drifted corrections, got %v", oldest)
	}
	if f.eng.Session().Drifted != 0 {
		t.Errorf("drifted must be zeroed")
	}
	// (0.2 + 0.2 + 0.2) / 1500 s
	if math.Abs(l.DriftPPM-400) > 1e-3 {
		t.Errorf("got %v ppm, want 400", l.DriftPPM)
	}
}

func TestPollNoLedgerUpdateBeforeWindowFull(t *testing.T) {
	f := newFixture(t, 8, exchange{offset: ms(200), delay: ms(20)})
	res, err := f.eng.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if !res.Applied || res.PersistLedger || f.eng.Ledger().Adjustments.Len() != 0 {
		t.Errorf("got %+v, want applied without ledger update", res)
	}
}

func TestPollFailures(t *testing.T) {
	f := newFixture(t, 8,
		exchange{delay: ms(20)},
		exchange{err: client.ErrTimeout},
		exchange{err: client.ErrTimeout},
		exchange{err: client.ErrTimeout},
	)
	_, err := f.eng.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	for range 3 {
		_, err = f.eng.Poll(context.Background())
		if !errors.Is(err, client.ErrTimeout) {
			t.Fatalf("got %v, want %v", err, client.ErrTimeout)
		}
	}
	s := f.eng.Session()
	if s.Reach != 0b1000 {
		t.Errorf("reach: got %#b, want 0b1000", s.Reach)
	}
	if f.tr.resolved != 1 {
		t.Errorf("resolved %d times, want 1 while reachable", f.tr.resolved)
	}

	f.tr.dnsErr = client.ErrDNS
	f.eng.session.Reach = 0
	_, err = f.eng.Poll(context.Background())
	if !errors.Is(err, client.ErrDNS) {
		t.Errorf("got %v, want %v", err, client.ErrDNS)
	}

	f.src.err = errors.New("i2c bus error")
	_, err = f.eng.Poll(context.Background())
	if !errors.Is(err, ErrReferenceClock) {
		t.Errorf("got %v, want %v", err, ErrReferenceClock)
	}
	if f.eng.NextPoll() != 15*time.Minute {
		t.Errorf("got %v, want minimum interval after failures", f.eng.NextPoll())
	}
}

func TestPollApplierFault(t *testing.T) {
	f := newFixture(t, 8, exchange{offset: ms(300), delay: ms(20)})
	f.applier.err = errors.New("rtc write failed")
	res, err := f.eng.Poll(context.Background())
	if !errors.Is(err, ErrReferenceClock) {
		t.Fatalf("got %v, want %v", err, ErrReferenceClock)
	}
	if res.Applied || f.eng.Session().LastApplied != 0 {
		t.Errorf("failed apply must not be recorded")
	}
}

func TestPollServerChange(t *testing.T) {
	f := newFixture(t, 8, exchange{delay: ms(20)})
	s := f.eng.Session()
	s.Server = "old.example.org"
	s.Addr = netip.MustParseAddr("198.51.100.1")
	s.Reach = 0xff
	s.Drifted = 0.4
	_, err := f.eng.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if s.Server != "pool.ntp.org" || s.Drifted != 0 || s.Reach != 1 || s.Samples.Len() != 1 {
		t.Errorf("session must be reset for the new server, got %+v", s)
	}
	if s.Addr != netip.MustParseAddr("192.0.2.1") {
		t.Errorf("address must be resolved again, got %v", s.Addr)
	}
}

func TestPollInProgress(t *testing.T) {
	f := newFixture(t, 8)
	f.eng.numOpsInProgress = 1
	if _, err := f.eng.Poll(context.Background()); !errors.Is(err, ErrPollInProgress) {
		t.Errorf("Poll: got %v, want %v", err, ErrPollInProgress)
	}
	if _, err := f.eng.Project(context.Background()); !errors.Is(err, ErrPollInProgress) {
		t.Errorf("Project: got %v, want %v", err, ErrPollInProgress)
	}
}

func TestNextPollUsesSessionDrift(t *testing.T) {
	var script []exchange
	for i := range 4 {
		// 10 ppm over 100 s steps
		script = append(script, exchange{offset: ms(float64(i)), delay: ms(20)})
	}
	f := newFixture(t, 4, script...)
	for range 4 {
		_, _ = f.eng.Poll(context.Background())
		f.src.now += 100
	}
	s := f.eng.Session()
	if !s.HasDrift || math.Abs(s.DriftPPM-10) > 1e-3 {
		t.Fatalf("got drift %v (%v), want 10 ppm", s.DriftPPM, s.HasDrift)
	}
	s.Reach = 0xff
	if got := f.eng.NextPoll(); math.Abs(got.Seconds()-10000) > 1 {
		t.Errorf("got %v, want about 10000s", got)
	}
}

func TestSessionDriftAfterCorrection(t *testing.T) {
	script := []exchange{{offset: ms(200), delay: ms(20)}}
	for i := 1; i <= 3; i++ {
		// 10 ppm over 100 s steps on the corrected clock
		script = append(script, exchange{offset: ms(float64(i)), delay: ms(20)})
	}
	f := newFixture(t, 8, script...)
	start := f.src.now
	res, err := f.eng.Poll(context.Background())
	if err != nil || !res.Applied {
		t.Fatalf("got (%+v, %v), want applied correction", res, err)
	}
	if math.Abs(res.Sample.Offset-0.2) > 1e-8 {
		t.Errorf("result must carry the measured offset, got %v", res.Sample.Offset)
	}
	for range 3 {
		f.src.now += 100
		res, err = f.eng.Poll(context.Background())
		if err != nil {
			t.Fatalf("Poll failed: %v", err)
		}
	}
	if math.Abs(res.MedianOffset-0.0015) > 1e-8 {
		t.Errorf("got median offset %v, want 0.0015", res.MedianOffset)
	}
	s := f.eng.Session()
	if a := s.Samples.At(3); a.Timestamp != start || a.Offset != 0 {
		t.Errorf("applied sample must be rebased to zero, got %+v", a)
	}
	if !s.HasDrift || math.Abs(s.DriftPPM-10) > 1e-3 {
		t.Errorf("got drift %v (%v), want 10 ppm", s.DriftPPM, s.HasDrift)
	}
}

func TestNextPollFallsBackToLedgerDrift(t *testing.T) {
	f := newFixture(t, 1)
	s := f.eng.Session()
	s.Samples.Push(measurements.Sample{Timestamp: 1700000000, Delay: 0.02})
	s.Reach = 0xff
	if got := f.eng.NextPoll(); got != 15*time.Minute {
		t.Errorf("got %v, want minimum without any drift", got)
	}
	f.eng.Ledger().DriftPPM = 2
	if got := f.eng.NextPoll(); math.Abs(got.Seconds()-50000) > 1e-3 {
		t.Errorf("got %v, want 50000s from ledger drift", got)
	}
}

func TestProject(t *testing.T) {
	f := newFixture(t, 8)
	ctx := context.Background()

	if _, err := f.eng.Project(ctx); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("got %v, want %v without drift", err, ErrInsufficientHistory)
	}

	f.eng.Ledger().DriftPPM = 100
	if _, err := f.eng.Project(ctx); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("got %v, want %v on first call", err, ErrInsufficientHistory)
	}
	s := f.eng.Session()
	if s.DriftCheckpoint != f.src.now {
		t.Fatalf("first call must set the checkpoint")
	}

	f.src.now -= 10
	if _, err := f.eng.Project(ctx); !errors.Is(err, ErrClockBackward) {
		t.Fatalf("got %v, want %v", err, ErrClockBackward)
	}
	if s.DriftCheckpoint != f.src.now {
		t.Fatalf("backward clock must reset the checkpoint")
	}
	if _, err := f.eng.Project(ctx); !errors.Is(err, ErrClockBackward) {
		t.Fatalf("equal time must be treated as backward, got %v", err)
	}

	cp := f.src.now
	f.src.now = cp + 999
	off, err := f.eng.Project(ctx)
	if !errors.Is(err, ErrBelowThreshold) {
		t.Fatalf("got (%v, %v), want %v", off, err, ErrBelowThreshold)
	}
	if s.DriftCheckpoint != cp || len(f.applier.applied) != 0 {
		t.Fatalf("below threshold must leave state unchanged")
	}

	f.src.now = cp + 1001
	off, err = f.eng.Project(ctx)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if math.Abs(off-0.1001) > 1e-12 || len(f.applier.applied) != 1 || f.applier.applied[0] != off {
		t.Errorf("got %v (%v), want 0.1001 applied", off, f.applier.applied)
	}
	if s.DriftCheckpoint != f.src.now || math.Abs(s.Drifted-off) > 1e-12 {
		t.Errorf("got checkpoint %v drifted %v", s.DriftCheckpoint, s.Drifted)
	}
}

func TestProjectNegativeDrift(t *testing.T) {
	f := newFixture(t, 8)
	ctx := context.Background()
	f.eng.Ledger().DriftPPM = -50
	f.eng.Session().DriftCheckpoint = f.src.now
	f.src.now += 4000
	off, err := f.eng.Project(ctx)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if math.Abs(off+0.2) > 1e-12 {
		t.Errorf("got %v, want -0.2", off)
	}
}

func TestProjectApplierFault(t *testing.T) {
	f := newFixture(t, 8)
	f.eng.Ledger().DriftPPM = 100
	f.eng.Session().DriftCheckpoint = f.src.now
	f.src.now += 2000
	f.applier.err = errors.New("rtc write failed")
	if _, err := f.eng.Project(context.Background()); !errors.Is(err, ErrReferenceClock) {
		t.Fatalf("got %v, want %v", err, ErrReferenceClock)
	}
	if f.eng.Session().Drifted != 0 || f.eng.Session().DriftCheckpoint != 1700000000 {
		t.Errorf("failed apply must leave state unchanged")
	}
}

func TestNewEnginePanicsOnInvalidParams(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic, got none")
		}
	}()
	_ = NewEngine(zaptest.NewLogger(t), Params{Server: "x"}, nil, nil, nil, nil,
		state.NewSession(1), state.NewLedger(1))
}
