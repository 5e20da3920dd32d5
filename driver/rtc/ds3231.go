package rtc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"example.com/synchroclock/base/timebase"
	"example.com/synchroclock/driver/pin"
)

const (
	DS3231DefaultAddr = 0x68

	regSeconds = 0x00
	regControl = 0x0e

	// Oscillator enabled, square wave output selected at 1 Hz.
	controlSQW1Hz = 0x00
)

var (
	errNoPin    = errors.New("unknown GPIO pin")
	errBadClock = errors.New("invalid time in RTC registers")
)

// DS3231 is a battery backed I2C real time clock. Its square wave output,
// wired to a GPIO input, provides the 1 Hz timing signal; the seconds
// register increments on the falling edge.
type DS3231 struct {
	log *zap.Logger
	dev *i2c.Dev
	sqw gpio.PinIn
	bus i2c.BusCloser
}

var _ timebase.ReferenceClock = (*DS3231)(nil)

// OpenDS3231 initialises the host drivers, opens the named I2C bus and GPIO
// pin and enables the 1 Hz square wave.
func OpenDS3231(log *zap.Logger, busName string, addr uint16, pinName string) (*DS3231, error) {
	_, err := host.Init()
	if err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, err
	}
	sqw := gpioreg.ByName(pinName)
	if sqw == nil {
		_ = bus.Close()
		return nil, fmt.Errorf("%w: %q", errNoPin, pinName)
	}
	c, err := NewDS3231(log, &i2c.Dev{Addr: addr, Bus: bus}, sqw)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	c.bus = bus
	return c, nil
}

func NewDS3231(log *zap.Logger, dev *i2c.Dev, sqw gpio.PinIn) (*DS3231, error) {
	err := dev.Tx([]byte{regControl, controlSQW1Hz}, nil)
	if err != nil {
		return nil, err
	}
	err = sqw.In(gpio.PullUp, gpio.BothEdges)
	if err != nil {
		return nil, err
	}
	return &DS3231{log: log, dev: dev, sqw: sqw}, nil
}

func (c *DS3231) Close() error {
	if c.bus == nil {
		return nil
	}
	return c.bus.Close()
}

func (c *DS3231) WaitForEdge(ctx context.Context, edge timebase.Edge) error {
	return pin.WaitForEdge(ctx, c.sqw, edge)
}

func (c *DS3231) ReadTime(ctx context.Context) (int64, error) {
	var r [7]byte
	err := c.dev.Tx([]byte{regSeconds}, r[:])
	if err != nil {
		return 0, err
	}
	t, err := decodeDateTime(r)
	if err != nil {
		c.log.Info("failed to decode RTC registers", zap.Binary("regs", r[:]), zap.Error(err))
		return 0, err
	}
	return t.Unix(), nil
}

func (c *DS3231) WriteTime(ctx context.Context, sec int64) error {
	r := encodeDateTime(time.Unix(sec, 0).UTC())
	return c.dev.Tx(append([]byte{regSeconds}, r[:]...), nil)
}

func bcd(v int) byte { return byte(v/10<<4 | v%10) }

func unbcd(b byte) int { return int(b>>4)*10 + int(b&0x0f) }

func encodeDateTime(t time.Time) [7]byte {
	var r [7]byte
	r[0] = bcd(t.Second())
	r[1] = bcd(t.Minute())
	r[2] = bcd(t.Hour())
	r[3] = byte(t.Weekday()) + 1
	r[4] = bcd(t.Day())
	r[5] = bcd(int(t.Month()))
	y := t.Year() - 2000
	if y >= 100 {
		y -= 100
		r[5] |= 0x80
	}
	r[6] = bcd(y)
	return r
}

func decodeDateTime(r [7]byte) (time.Time, error) {
	sec := unbcd(r[0] & 0x7f)
	minute := unbcd(r[1] & 0x7f)
	var hour int
	if r[2]&0x40 != 0 {
		hour = unbcd(r[2]&0x1f) % 12
		if r[2]&0x20 != 0 {
			hour += 12
		}
	} else {
		hour = unbcd(r[2] & 0x3f)
	}
	day := unbcd(r[4] & 0x3f)
	month := unbcd(r[5] & 0x1f)
	year := 2000 + unbcd(r[6])
	if r[5]&0x80 != 0 {
		year += 100
	}
	if sec > 59 || minute > 59 || hour > 23 || day < 1 || day > 31 || month < 1 || month > 12 {
		return time.Time{}, errBadClock
	}
	return time.Date(year, time.Month(month), day, hour, minute, sec, 0, time.UTC), nil
}
