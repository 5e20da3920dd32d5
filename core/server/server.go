package server

import (
	"time"

	"example.com/synchroclock/net/ntp"
)

const (
	serverRefID = 0x53594e43 // "SYNC"
)

// Responder answers client requests in basic client/server mode. It serves
// as an upstream for simulations and loopback tests; Offset shifts the time
// it reports relative to its local clock.
type Responder struct {
	Stratum uint8
	Leap    uint8
	Offset  time.Duration
	Now     func() time.Time
}

func (r *Responder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Responder) handleRequest(req *ntp.Packet, rxt time.Time, resp *ntp.Packet) {
	*resp = ntp.Packet{}
	resp.SetLeapIndicator(r.Leap)
	resp.SetVersion(ntp.VersionMax)
	resp.SetMode(ntp.ModeServer)
	resp.Stratum = r.Stratum
	resp.Poll = req.Poll
	resp.Precision = -20
	resp.RootDispersion = ntp.Time32{Seconds: 0, Fraction: 10}
	resp.ReferenceID = serverRefID

	txt := r.now().Add(r.Offset)
	if txt.Before(rxt) {
		txt = rxt
	}
	rxt64 := ntp.Time64FromTime(rxt)
	txt64 := ntp.Time64FromTime(txt)

	resp.ReferenceTime = txt64
	resp.OriginTime = req.TransmitTime
	resp.ReceiveTime = rxt64
	resp.TransmitTime = txt64
}
