package state

import (
	"fmt"
	"net/netip"

	"example.com/synchroclock/base/ring"
	"example.com/synchroclock/core/measurements"
)

const maxServerLen = 63

// Session is the engine state kept across sleep. It is lost on power loss
// and reset whenever the upstream server changes.
type Session struct {
	Server          string
	Addr            netip.Addr
	Reach           uint8
	Samples         *ring.Ring[measurements.Sample]
	DriftPPM        float64
	HasDrift        bool
	PollInterval    float64
	LastApplied     int64
	Drifted         float64
	DriftCheckpoint int64
}

func NewSession(capacity int) *Session {
	return &Session{Samples: ring.New[measurements.Sample](capacity)}
}

// Reset zeroes s and binds it to server.
func (s *Session) Reset(server string) {
	samples := s.Samples
	samples.Reset()
	*s = Session{Server: server, Samples: samples}
}

func (s *Session) MarshalBinary() ([]byte, error) {
	if len(s.Server) > maxServerLen {
		return nil, fmt.Errorf("server name too long: %q", s.Server)
	}
	var e encoder
	e.u8(uint8(len(s.Server)))
	e.raw([]byte(s.Server))
	addr := s.Addr.AsSlice()
	e.u8(uint8(len(addr)))
	e.raw(addr)
	e.u8(s.Reach)
	e.bool(s.HasDrift)
	e.f64(s.DriftPPM)
	e.f64(s.PollInterval)
	e.i64(s.LastApplied)
	e.f64(s.Drifted)
	e.i64(s.DriftCheckpoint)
	n := s.Samples.Len()
	e.u8(uint8(n))
	for i := range n {
		x := s.Samples.At(i)
		e.i64(x.Timestamp)
		e.f64(x.Offset)
		e.f64(x.Delay)
	}
	return seal(e.b), nil
}

// UnmarshalBinary restores s from img. Samples beyond the capacity of s are
// dropped, oldest first. On error s is left unchanged.
func (s *Session) UnmarshalBinary(img []byte) error {
	data, err := unseal(img)
	if err != nil {
		return err
	}
	d := decoder{b: data}
	server := string(d.raw(int(d.u8())))
	var addr netip.Addr
	switch n := int(d.u8()); n {
	case 0:
	case 4, 16:
		addr, _ = netip.AddrFromSlice(d.raw(n))
	default:
		return fmt.Errorf("%w: address length %d", ErrCorrupt, n)
	}
	v := Session{
		Server:          server,
		Addr:            addr,
		Reach:           d.u8(),
		HasDrift:        d.bool(),
		DriftPPM:        d.f64(),
		PollInterval:    d.f64(),
		LastApplied:     d.i64(),
		Drifted:         d.f64(),
		DriftCheckpoint: d.i64(),
	}
	n := int(d.u8())
	ss := make([]measurements.Sample, 0, n)
	for range n {
		ss = append(ss, measurements.Sample{
			Timestamp: d.i64(),
			Offset:    d.f64(),
			Delay:     d.f64(),
		})
	}
	if err := d.finish(); err != nil {
		return err
	}
	v.Samples = s.Samples
	v.Samples.Reset()
	if len(ss) > v.Samples.Cap() {
		ss = ss[:v.Samples.Cap()]
	}
	for i := len(ss) - 1; i >= 0; i-- {
		v.Samples.Push(ss[i])
	}
	*s = v
	return nil
}
