package server

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/libp2p/go-reuseport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.uber.org/zap"

	"example.com/synchroclock/base/metrics"

	"example.com/synchroclock/net/ntp"
)

const (
	ipServerNumGoroutine = 4
)

type ipServerMetrics struct {
	pktsReceived prometheus.Counter
	reqsAccepted prometheus.Counter
	reqsServed   prometheus.Counter
}

var mtrcs atomic.Pointer[ipServerMetrics]

func init() {
	mtrcs.Store(newIPServerMetrics())
}

func newIPServerMetrics() *ipServerMetrics {
	return &ipServerMetrics{
		pktsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ServerPktsReceivedN,
			Help: metrics.ServerPktsReceivedH,
		}),
		reqsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ServerReqsAcceptedN,
			Help: metrics.ServerReqsAcceptedH,
		}),
		reqsServed: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ServerReqsServedN,
			Help: metrics.ServerReqsServedH,
		}),
	}
}

// Serve answers requests on conn until ctx is done or conn is closed.
func (r *Responder) Serve(ctx context.Context, log *zap.Logger, conn *net.UDPConn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	m := mtrcs.Load()
	buf := make([]byte, 2048)
	parser := ntp.NewParser()
	for {
		buf = buf[:cap(buf)]
		n, srcAddr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to read packet", zap.Error(err))
			continue
		}
		rxt := r.now().Add(r.Offset)
		buf = buf[:n]
		m.pktsReceived.Inc()

		err = parser.Decode(buf)
		if err != nil {
			log.Info("failed to decode packet payload", zap.Error(err))
			continue
		}
		ntpreq := &parser.Packet
		err = ntp.ValidateRequest(ntpreq)
		if err != nil {
			log.Info("failed to validate packet payload", zap.Error(err))
			continue
		}

		m.reqsAccepted.Inc()
		log.Debug("received request",
			zap.Time("at", rxt),
			zap.Stringer("from", srcAddr),
			zap.Object("data", ntp.PacketMarshaler{Pkt: ntpreq}),
		)

		var ntpresp ntp.Packet
		r.handleRequest(ntpreq, rxt, &ntpresp)
		ntp.EncodePacket(&buf, &ntpresp)

		n, err = conn.WriteToUDPAddrPort(buf, srcAddr)
		if err != nil || n != len(buf) {
			log.Error("failed to write packet", zap.Error(err))
			continue
		}
		m.reqsServed.Inc()
	}
}

// ListenAndServe starts several listeners sharing localHost via
// SO_REUSEPORT and returns once all of them are bound.
func (r *Responder) ListenAndServe(ctx context.Context, log *zap.Logger, localHost *net.UDPAddr) error {
	log.Info("server listening via IP",
		zap.Stringer("local host", localHost),
		zap.Uint8("stratum", r.Stratum),
		zap.Duration("offset", r.Offset),
	)
	for range ipServerNumGoroutine {
		conn, err := reuseport.ListenPacket("udp",
			net.JoinHostPort(localHost.IP.String(), strconv.Itoa(localHost.Port)))
		if err != nil {
			return err
		}
		go r.Serve(ctx, log, conn.(*net.UDPConn))
	}
	return nil
}
