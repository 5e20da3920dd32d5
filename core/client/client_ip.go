package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/libp2p/go-reuseport"

	"go.uber.org/zap"

	"example.com/synchroclock/base/timebase"
)

const (
	DefaultTimeout = 1000 * time.Millisecond

	maxNumRetries = 1
	maxReplyLen   = 512
)

// IPTransport exchanges NTP packets over UDP. A non-zero LocalPort binds a
// fixed source port with SO_REUSEPORT so that a previous socket still in
// teardown does not block the next poll.
type IPTransport struct {
	Log       *zap.Logger
	Clock     timebase.LocalClock
	LocalPort int
	Timeout   time.Duration
	Resolver  *net.Resolver
}

func compareAddrs(x, y netip.Addr) int {
	return x.Unmap().Compare(y.Unmap())
}

func (t *IPTransport) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), nil
	}
	r := t.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %w", ErrDNS, host, err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: %s: no addresses", ErrDNS, host)
	}
	return addrs[0].Unmap(), nil
}

func (t *IPTransport) listen() (*net.UDPConn, error) {
	if t.LocalPort == 0 {
		return net.ListenUDP("udp", &net.UDPAddr{})
	}
	conn, err := reuseport.ListenPacket("udp", net.JoinHostPort("", strconv.Itoa(t.LocalPort)))
	if err != nil {
		return nil, err
	}
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		_ = conn.Close()
		return nil, errors.New("unexpected connection type")
	}
	return udpConn, nil
}

func (t *IPTransport) Exchange(ctx context.Context, remote netip.AddrPort, req []byte) (
	resp []byte, elapsed time.Duration, err error) {
	conn, err := t.listen()
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()

	timeout := t.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	err = conn.SetDeadline(deadline)
	if err != nil {
		return nil, 0, err
	}

	start := t.Clock.Now()
	n, err := conn.WriteToUDPAddrPort(req, remote)
	if err != nil {
		return nil, 0, err
	}
	if n != len(req) {
		return nil, 0, errWrite
	}

	numRetries := 0
	buf := make([]byte, maxReplyLen)
	for {
		n, srcAddr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, 0, fmt.Errorf("%w: %v", ErrTimeout, timeout)
			}
			return nil, 0, err
		}
		end := t.Clock.Now()
		if compareAddrs(srcAddr.Addr(), remote.Addr()) != 0 || srcAddr.Port() != remote.Port() {
			if numRetries != maxNumRetries {
				t.Log.Info("received packet from unexpected source",
					zap.Stringer("from", srcAddr))
				numRetries++
				continue
			}
			return nil, 0, fmt.Errorf("%w: unexpected source %v", ErrUnexpectedReply, srcAddr)
		}
		return buf[:n], end.Sub(start), nil
	}
}
