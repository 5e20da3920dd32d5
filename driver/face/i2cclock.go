package face

import (
	"context"
	"encoding/binary"
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
	"example.com/synchroclock/core/hands"
	"example.com/synchroclock/driver/pin"
)

const (
	DefaultAddr = 0x09

	cmdPosition   = 0x01
	cmdAdjustment = 0x02
	cmdControl    = 0x03

	bitEnable = 0x80
)

var errNoPin = errors.New("unknown GPIO pin")

// I2CClock is an analog clock movement controlled by a microcontroller on the
// I2C bus. The controller's tick output, wired to a GPIO input, goes low when
// a tick has completed and high when the next one starts.
type I2CClock struct {
	log  *zap.Logger
	dev  *i2c.Dev
	tick gpio.PinIn
	bus  i2c.BusCloser
}

var _ hands.Actuator = (*I2CClock)(nil)

func OpenI2CClock(log *zap.Logger, busName string, addr uint16, pinName string) (*I2CClock, error) {
	_, err := host.Init()
	if err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, err
	}
	tick := gpioreg.ByName(pinName)
	if tick == nil {
		_ = bus.Close()
		return nil, fmt.Errorf("%w: %q", errNoPin, pinName)
	}
	c, err := NewI2CClock(log, &i2c.Dev{Addr: addr, Bus: bus}, tick)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	c.bus = bus
	return c, nil
}

func NewI2CClock(log *zap.Logger, dev *i2c.Dev, tick gpio.PinIn) (*I2CClock, error) {
	err := tick.In(gpio.PullUp, gpio.BothEdges)
	if err != nil {
		return nil, err
	}
	return &I2CClock{log: log, dev: dev, tick: tick}, nil
}

func (c *I2CClock) Close() error {
	if c.bus == nil {
		return nil
	}
	return c.bus.Close()
}

func (c *I2CClock) WaitForEdge(ctx context.Context, edge timebase.Edge) error {
	return pin.WaitForEdge(ctx, c.tick, edge)
}

func (c *I2CClock) ReadPosition(ctx context.Context) (int, error) {
	var r [2]byte
	err := c.dev.Tx([]byte{cmdPosition}, r[:])
	if err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint16(r[:])), nil
}

func (c *I2CClock) WriteAdjustment(ctx context.Context, adj int) error {
	if adj < 0 || adj >= hands.MaxPosition {
		return fmt.Errorf("adjustment %d out of range", adj)
	}
	w := []byte{cmdAdjustment, 0, 0}
	binary.LittleEndian.PutUint16(w[1:], uint16(adj))
	return c.dev.Tx(w, nil)
}

func (c *I2CClock) control() (byte, error) {
	var r [1]byte
	err := c.dev.Tx([]byte{cmdControl}, r[:])
	return r[0], err
}

func (c *I2CClock) setControl(v byte) error {
	return c.dev.Tx([]byte{cmdControl, v}, nil)
}

// Pause stops the movement for the given number of seconds.
func (c *I2CClock) Pause(ctx context.Context, seconds int) error {
	ctl, err := c.control()
	if err != nil {
		return err
	}
	err = c.setControl(ctl &^ bitEnable)
	if err != nil {
		return err
	}
	c.log.Debug("movement stopped", zap.Int("seconds", seconds))
	t := time.NewTimer(time.Duration(seconds) * time.Second)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	err = c.setControl(ctl | bitEnable)
	if err != nil {
		return err
	}
	return ctx.Err()
}
