//go:build linux

package rtc

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"golang.org/x/sys/unix"

	"example.com/synchroclock/base/timebase"
	"example.com/synchroclock/driver/pin"
)

// DevRTC is a kernel RTC device such as /dev/rtc0. Update interrupts mark
// the second boundaries and stand in for the falling edge of the 1 Hz
// signal; the rising edge is taken half a second later.
type DevRTC struct {
	log *zap.Logger
	fd  int
}

var _ timebase.ReferenceClock = (*DevRTC)(nil)

func OpenDevRTC(log *zap.Logger, path string) (*DevRTC, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	if fd < 0 || math.MaxInt32 < fd {
		_ = unix.Close(fd)
		return nil, unix.EBADF
	}
	err = unix.IoctlSetInt(fd, unix.RTC_UIE_ON, 0)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &DevRTC{log: log, fd: fd}, nil
}

func (c *DevRTC) Close() error {
	_ = unix.IoctlSetInt(c.fd, unix.RTC_UIE_OFF, 0)
	return unix.Close(c.fd)
}

func (c *DevRTC) waitForUpdate(ctx context.Context) error {
	pollFds := []unix.PollFd{
		{Fd: int32(c.fd), Events: unix.POLLIN},
	}
	for {
		err := ctx.Err()
		if err != nil {
			return err
		}
		n, err := unix.Poll(pollFds, int(pin.PollInterval/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		var data [8]byte
		_, err = unix.Read(c.fd, data[:])
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		return err
	}
}

func (c *DevRTC) WaitForEdge(ctx context.Context, edge timebase.Edge) error {
	err := c.waitForUpdate(ctx)
	if err != nil || edge == timebase.FallingEdge {
		return err
	}
	t := time.NewTimer(500 * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *DevRTC) ReadTime(ctx context.Context) (int64, error) {
	rt, err := unix.IoctlGetRTCTime(c.fd)
	if err != nil {
		return 0, err
	}
	t := time.Date(int(rt.Year)+1900, time.Month(rt.Mon+1), int(rt.Mday),
		int(rt.Hour), int(rt.Min), int(rt.Sec), 0, time.UTC)
	return t.Unix(), nil
}

func (c *DevRTC) WriteTime(ctx context.Context, sec int64) error {
	t := time.Unix(sec, 0).UTC()
	rt := unix.RTCTime{
		Sec:  int32(t.Second()),
		Min:  int32(t.Minute()),
		Hour: int32(t.Hour()),
		Mday: int32(t.Day()),
		Mon:  int32(t.Month()) - 1,
		Year: int32(t.Year()) - 1900,
		Wday: int32(t.Weekday()),
		Yday: int32(t.YearDay()) - 1,
	}
	c.log.Debug("setting RTC", zap.Time("time", t))
	return unix.IoctlSetRTCTime(c.fd, &rt)
}
