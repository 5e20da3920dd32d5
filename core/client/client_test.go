package client_test

import (
	"context"
	"errors"
	"math"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"go.uber.org/zap/zaptest"

	"example.com/synchroclock/core/client"
	"example.com/synchroclock/core/server"
	"example.com/synchroclock/driver/clock"
	"example.com/synchroclock/net/ntp"
)

type fakeTransport struct {
	reply   func(req *ntp.Packet) []byte
	elapsed time.Duration
	err     error
}

func (f *fakeTransport) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	return netip.MustParseAddr("192.0.2.1"), nil
}

func (f *fakeTransport) Exchange(ctx context.Context, remote netip.AddrPort, req []byte) (
	[]byte, time.Duration, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	var pkt ntp.Packet
	if err := ntp.DecodePacket(&pkt, req); err != nil {
		return nil, 0, err
	}
	return f.reply(&pkt), f.elapsed, nil
}

func serverReply(stratum uint8, li uint8, off time.Duration, mutate func(*ntp.Packet)) func(*ntp.Packet) []byte {
	return func(req *ntp.Packet) []byte {
		var resp ntp.Packet
		resp.SetLeapIndicator(li)
		resp.SetVersion(ntp.VersionMax)
		resp.SetMode(ntp.ModeServer)
		resp.Stratum = stratum
		resp.OriginTime = req.TransmitTime
		resp.ReceiveTime = req.TransmitTime.Add(off + 10*time.Millisecond)
		resp.TransmitTime = req.TransmitTime.Add(off + 12*time.Millisecond)
		if mutate != nil {
			mutate(&resp)
		}
		var b []byte
		ntp.EncodePacket(&b, &resp)
		return b
	}
}

var remote = netip.MustParseAddrPort("192.0.2.1:123")

func TestMeasureClockOffset(t *testing.T) {
	log := zaptest.NewLogger(t)
	histo := hdrhistogram.New(1, 50000, 5)
	c := &client.Client{
		Transport: &fakeTransport{
			reply:   serverReply(2, ntp.LeapIndicatorNoWarning, 0, nil),
			elapsed: 20 * time.Millisecond,
		},
		Histo: histo,
	}
	t1 := ntp.Time64FromUnix(1700000000)
	m, err := c.MeasureClockOffset(context.Background(), log, remote, t1)
	if err != nil {
		t.Fatalf("MeasureClockOffset failed: %v", err)
	}
	if math.Abs(m.Offset-0.001) > 1e-6 {
		t.Errorf("offset: got %v, want 0.001", m.Offset)
	}
	if math.Abs(m.Delay-0.018) > 1e-6 {
		t.Errorf("delay: got %v, want 0.018", m.Delay)
	}
	if m.T1 != t1 || m.T4 != t1.Add(20*time.Millisecond) {
		t.Errorf("unexpected timestamps T1 %v T4 %v", m.T1, m.T4)
	}
	if histo.TotalCount() != 1 {
		t.Errorf("histogram: got %d values, want 1", histo.TotalCount())
	}
}

func TestMeasureClockOffsetErrors(t *testing.T) {
	log := zaptest.NewLogger(t)
	tests := []struct {
		name string
		tr   *fakeTransport
		want error
	}{
		{
			name: "timeout",
			tr:   &fakeTransport{err: client.ErrTimeout},
			want: client.ErrTimeout,
		},
		{
			name: "short reply",
			tr: &fakeTransport{reply: func(*ntp.Packet) []byte {
				return make([]byte, ntp.PacketLen-8)
			}},
			want: client.ErrBadReplySize,
		},
		{
			name: "stratum 0",
			tr:   &fakeTransport{reply: serverReply(0, ntp.LeapIndicatorNoWarning, 0, nil)},
			want: client.ErrUnsynchronized,
		},
		{
			name: "leap alarm",
			tr:   &fakeTransport{reply: serverReply(2, ntp.LeapIndicatorUnknown, 0, nil)},
			want: client.ErrUnsynchronized,
		},
		{
			name: "origin mismatch",
			tr: &fakeTransport{reply: serverReply(2, ntp.LeapIndicatorNoWarning, 0, func(p *ntp.Packet) {
				p.OriginTime = ntp.Time64{Seconds: 1}
			})},
			want: client.ErrUnexpectedReply,
		},
		{
			name: "zero transmit time",
			tr: &fakeTransport{reply: serverReply(2, ntp.LeapIndicatorNoWarning, 0, func(p *ntp.Packet) {
				p.TransmitTime = ntp.Time64{}
			})},
			want: client.ErrUnexpectedReply,
		},
		{
			name: "transmit before receive",
			tr: &fakeTransport{reply: serverReply(2, ntp.LeapIndicatorNoWarning, 0, func(p *ntp.Packet) {
				p.TransmitTime, p.ReceiveTime = p.ReceiveTime, p.TransmitTime
			})},
			want: client.ErrUnexpectedReply,
		},
		{
			name: "wrong mode",
			tr: &fakeTransport{reply: serverReply(2, ntp.LeapIndicatorNoWarning, 0, func(p *ntp.Packet) {
				p.SetMode(ntp.ModeBroadcast)
			})},
			want: client.ErrUnexpectedReply,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &client.Client{Transport: tt.tr}
			_, err := c.MeasureClockOffset(context.Background(), log, remote, ntp.Time64FromUnix(1700000000))
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoopbackExchange(t *testing.T) {
	log := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	srv := &server.Responder{Stratum: 1, Offset: 3 * time.Second}
	go srv.Serve(ctx, log, conn)

	addr := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	tr := &client.IPTransport{
		Log:     log,
		Clock:   &clock.SystemClock{Log: log},
		Timeout: time.Second,
	}
	ip, err := tr.Resolve(ctx, "127.0.0.1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ip != addr.Addr().Unmap() {
		t.Errorf("Resolve: got %v, want %v", ip, addr.Addr())
	}

	c := &client.Client{Transport: tr}
	m, err := c.MeasureClockOffset(ctx, log, addr, ntp.Time64FromTime(time.Now()))
	if err != nil {
		t.Fatalf("MeasureClockOffset failed: %v", err)
	}
	if math.Abs(m.Offset-3) > 0.5 {
		t.Errorf("offset: got %v, want about 3", m.Offset)
	}
	if m.Delay < 0 || m.Delay > 0.5 {
		t.Errorf("delay: got %v, want small positive", m.Delay)
	}
}

func TestLoopbackTimeout(t *testing.T) {
	log := zaptest.NewLogger(t)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer conn.Close()

	tr := &client.IPTransport{
		Log:     log,
		Clock:   &clock.SystemClock{Log: log},
		Timeout: 50 * time.Millisecond,
	}
	_, _, err = tr.Exchange(context.Background(), conn.LocalAddr().(*net.UDPAddr).AddrPort(),
		make([]byte, ntp.PacketLen))
	if !errors.Is(err, client.ErrTimeout) {
		t.Errorf("got %v, want %v", err, client.ErrTimeout)
	}
}
