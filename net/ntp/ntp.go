package ntp

import (
	"errors"
	"time"

	"github.com/google/gopacket"
)

const (
	// Seconds from Unix epoch (1970) to NTP epoch (1900), including 17 leap days
	epoch int64 = -2208988800

	nanosecondsPerSecond int64 = 1e9
	secondsPerEra        int64 = 1 << 32

	ServerPort = 123

	PacketLen = 48

	LeapIndicatorNoWarning    = 0
	LeapIndicatorInsertSecond = 1
	LeapIndicatorDeleteSecond = 2
	LeapIndicatorUnknown      = 3

	VersionMin = 1
	VersionMax = 4

	ModeReserved0        = 0
	ModeSymmetricActive  = 1
	ModeSymmetricPassive = 2
	ModeClient           = 3
	ModeServer           = 4
	ModeBroadcast        = 5
	ModeControl          = 6
	ModeReserved7        = 7

	// Poll exponent sent in client requests
	ClientPoll = 4
)

type Time32 struct {
	Seconds  uint16
	Fraction uint16
}

type Time64 struct {
	Seconds  uint32
	Fraction uint32
}

type Packet struct {
	BaseLayer
	LVM            uint8
	Stratum        uint8
	Poll           int8
	Precision      int8
	RootDelay      Time32
	RootDispersion Time32
	ReferenceID    uint32
	ReferenceTime  Time64
	OriginTime     Time64
	ReceiveTime    Time64
	TransmitTime   Time64
}

var (
	ErrUnexpectedPacketSize = errors.New("unexpected packet size")
)

func Time64FromTime(t time.Time) Time64 {
	return Time64{
		Seconds: uint32(
			t.Unix() - epoch),
		Fraction: uint32(
			int64(t.Nanosecond()) << 32 / nanosecondsPerSecond),
	}
}

// Time64FromUnix converts whole Unix seconds, as read from a reference clock,
// to an NTP timestamp with a zero fraction.
func Time64FromUnix(sec int64) Time64 {
	return Time64{Seconds: uint32(sec - epoch)}
}

// TimeFromTime64 converts an NTP timestamp to a time.Time using a reference time t0
// to resolve the NTP timestamp era ambiguity.
func TimeFromTime64(t Time64, t0 time.Time) time.Time {
	tref := t0.Unix()

	sec := epoch + (tref-epoch)/secondsPerEra*secondsPerEra + int64(t.Seconds)

	// If the timestamp would be too far in the past relative to
	// the reference time, assume it's from the next era
	if sec < tref-secondsPerEra/2 {
		sec += secondsPerEra
	}

	nsec := int64(t.Fraction) * nanosecondsPerSecond >> 32

	return time.Unix(sec, nsec).UTC()
}

func Time64FromFixed(v uint64) Time64 {
	return Time64{Seconds: uint32(v >> 32), Fraction: uint32(v)}
}

// Fixed returns the timestamp as a 32.32 fixed-point value.
func (t Time64) Fixed() uint64 {
	return uint64(t.Seconds)<<32 | uint64(t.Fraction)
}

// Sub returns t-u as a signed 32.32 fixed-point value. The subtraction wraps
// in unsigned space first so that differences across an era boundary stay
// small.
func (t Time64) Sub(u Time64) int64 {
	return int64(t.Fixed() - u.Fixed())
}

func (t Time64) Add(d time.Duration) Time64 {
	return Time64FromFixed(t.Fixed() + uint64(FixedFromDuration(d)))
}

func (t Time64) Before(u Time64) bool {
	return t.Seconds < u.Seconds ||
		t.Seconds == u.Seconds && t.Fraction < u.Fraction
}

func (t Time64) After(u Time64) bool {
	return t.Seconds > u.Seconds ||
		t.Seconds == u.Seconds && t.Fraction > u.Fraction
}

func (t Time64) IsZero() bool {
	return t.Seconds == 0 && t.Fraction == 0
}

// FixedFromDuration converts d to a signed 32.32 fixed-point value.
func FixedFromDuration(d time.Duration) int64 {
	sec := int64(d / time.Second)
	nsec := int64(d % time.Second)
	return sec<<32 + nsec<<32/nanosecondsPerSecond
}

// FixedSeconds converts a signed 32.32 fixed-point value to seconds.
func FixedSeconds(x int64) float64 {
	return float64(x) / (1 << 32)
}

// ClockOffset computes ((t2-t1) + (t3-t4)) / 2 in fixed point and converts
// the result to seconds.
func ClockOffset(t1, t2, t3, t4 Time64) float64 {
	return FixedSeconds((t2.Sub(t1) + t3.Sub(t4)) / 2)
}

// RoundTripDelay computes (t4-t1) - (t3-t2) in fixed point and converts the
// result to seconds.
func RoundTripDelay(t1, t2, t3, t4 Time64) float64 {
	return FixedSeconds(t4.Sub(t1) - t3.Sub(t2))
}

func EncodePacket(b *[]byte, pkt *Packet) {
	buf := newSerializeBuffer()
	err := pkt.SerializeTo(buf, serializeOptions)
	if err != nil {
		panic(err)
	}
	*b = append((*b)[:0], buf.Bytes()...)
}

// DecodePacket decodes b as an NTP packet through gopacket. Bytes beyond the
// header are left in the packet's payload.
func DecodePacket(pkt *Packet, b []byte) error {
	p := gopacket.NewPacket(b, LayerTypeNTP, gopacket.DecodeOptions{NoCopy: true})
	if l, ok := p.Layer(LayerTypeNTP).(*Packet); ok {
		*pkt = *l
		return nil
	}
	if e := p.ErrorLayer(); e != nil {
		return e.Error()
	}
	return ErrUnexpectedPacketSize
}

func (p *Packet) LeapIndicator() uint8 {
	return (p.LVM >> 6) & 0b0000_0011
}

func (p *Packet) SetLeapIndicator(l uint8) {
	if l&0b0000_0011 != l {
		panic("unexpected NTP leap indicator value")
	}
	p.LVM = (p.LVM & 0b0011_1111) | (l << 6)
}

func (p *Packet) Version() uint8 {
	return (p.LVM >> 3) & 0b0000_0111
}

func (p *Packet) SetVersion(v uint8) {
	if v&0b0000_0111 != v {
		panic("unexpected NTP version value")
	}
	p.LVM = (p.LVM & 0b_1100_0111) | (v << 3)
}

func (p *Packet) Mode() uint8 {
	return p.LVM & 0b0000_0111
}

func (p *Packet) SetMode(m uint8) {
	if m&0b0000_0111 != m {
		panic("unexpected NTP mode value")
	}
	p.LVM = (p.LVM & 0b1111_1000) | m
}

// NewClientRequest returns a request as sent by a sleeping node: no leap
// warning, version 4, client mode, poll 4, and the local clock reading t1 in
// both the originate and the transmit timestamp. Servers echo the transmit
// timestamp back in the origin field of their reply.
func NewClientRequest(t1 Time64) Packet {
	var req Packet
	req.SetLeapIndicator(LeapIndicatorNoWarning)
	req.SetVersion(VersionMax)
	req.SetMode(ModeClient)
	req.Poll = ClientPoll
	req.OriginTime = t1
	req.TransmitTime = t1
	return req
}
