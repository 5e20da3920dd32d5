//go:build !linux

package rtc

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"example.com/synchroclock/base/timebase"
)

var errUnsupported = errors.New("RTC devices are not supported on this platform")

type DevRTC struct{}

var _ timebase.ReferenceClock = (*DevRTC)(nil)

func OpenDevRTC(log *zap.Logger, path string) (*DevRTC, error) {
	return nil, errUnsupported
}

func (c *DevRTC) Close() error { return errUnsupported }

func (c *DevRTC) WaitForEdge(ctx context.Context, edge timebase.Edge) error {
	return errUnsupported
}

func (c *DevRTC) ReadTime(ctx context.Context) (int64, error) { return 0, errUnsupported }

func (c *DevRTC) WriteTime(ctx context.Context, sec int64) error { return errUnsupported }
