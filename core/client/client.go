package client

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.uber.org/zap"

	"example.com/synchroclock/base/metrics"

	"example.com/synchroclock/net/ntp"
)

// Transport carries a single NTP exchange. Exchange sends req and returns the
// first reply from remote together with the local time elapsed between send
// and receipt.
type Transport interface {
	Resolve(ctx context.Context, host string) (netip.Addr, error)
	Exchange(ctx context.Context, remote netip.AddrPort, req []byte) (
		resp []byte, elapsed time.Duration, err error)
}

// Measurement holds the four timestamps of one exchange and the offset and
// round trip delay derived from them, in seconds.
type Measurement struct {
	T1, T2, T3, T4 ntp.Time64
	Offset         float64
	Delay          float64
	Stratum        uint8
}

type clientMetrics struct {
	reqsSent      prometheus.Counter
	pktsReceived  prometheus.Counter
	respsAccepted prometheus.Counter
}

var mtrcs atomic.Pointer[clientMetrics]

func init() {
	mtrcs.Store(newClientMetrics())
}

func newClientMetrics() *clientMetrics {
	return &clientMetrics{
		reqsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientReqsSentN,
			Help: metrics.ClientReqsSentH,
		}),
		pktsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientPktsReceivedN,
			Help: metrics.ClientPktsReceivedH,
		}),
		respsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientRespsAcceptedN,
			Help: metrics.ClientRespsAcceptedH,
		}),
	}
}

// Client measures the offset of the reference clock against one upstream
// server. Histo, if set, records round trip delays in microseconds.
type Client struct {
	Transport Transport
	Histo     *hdrhistogram.Histogram
}

// MeasureClockOffset sends one client request stamped with t1 and evaluates
// the reply. T4 is derived as t1 plus the elapsed local time reported by the
// transport. There are no retries.
func (c *Client) MeasureClockOffset(ctx context.Context, log *zap.Logger,
	remote netip.AddrPort, t1 ntp.Time64) (Measurement, error) {
	m := mtrcs.Load()

	req := ntp.NewClientRequest(t1)
	buf := make([]byte, ntp.PacketLen)
	ntp.EncodePacket(&buf, &req)

	m.reqsSent.Inc()
	resp, elapsed, err := c.Transport.Exchange(ctx, remote, buf)
	if err != nil {
		return Measurement{}, err
	}
	m.pktsReceived.Inc()
	if len(resp) != ntp.PacketLen {
		return Measurement{}, fmt.Errorf("%w: %d bytes", ErrBadReplySize, len(resp))
	}

	var ntpresp ntp.Packet
	err = ntp.DecodePacket(&ntpresp, resp)
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: %w", ErrBadReplySize, err)
	}

	log.Debug("received response",
		zap.Stringer("from", remote),
		zap.Duration("after", elapsed),
		zap.Object("data", ntp.PacketMarshaler{Pkt: &ntpresp}),
	)

	if ntpresp.OriginTime != req.TransmitTime {
		return Measurement{}, fmt.Errorf("%w: origin does not match request", ErrUnexpectedReply)
	}
	err = ntp.ValidateResponseMetadata(&ntpresp)
	if err != nil {
		if errors.Is(err, ntp.ErrUnsynchronized) {
			return Measurement{}, fmt.Errorf("%w: stratum %d, leap indicator %d",
				ErrUnsynchronized, ntpresp.Stratum, ntpresp.LeapIndicator())
		}
		return Measurement{}, fmt.Errorf("%w: %w", ErrUnexpectedReply, err)
	}
	err = ntp.ValidateResponseTimestamps(&ntpresp)
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: %w", ErrUnexpectedReply, err)
	}

	t2 := ntpresp.ReceiveTime
	t3 := ntpresp.TransmitTime
	t4 := t1.Add(elapsed)
	res := Measurement{
		T1:      t1,
		T2:      t2,
		T3:      t3,
		T4:      t4,
		Offset:  ntp.ClockOffset(t1, t2, t3, t4),
		Delay:   ntp.RoundTripDelay(t1, t2, t3, t4),
		Stratum: ntpresp.Stratum,
	}

	m.respsAccepted.Inc()
	log.Debug("evaluated response",
		zap.Stringer("from", remote),
		zap.Float64("clock offset", res.Offset),
		zap.Float64("round trip delay", res.Delay),
	)

	if c.Histo != nil {
		err = c.Histo.RecordValue(elapsed.Microseconds())
		if err != nil {
			log.Info("failed to record round trip delay", zap.Error(err))
		}
	}

	return res, nil
}
