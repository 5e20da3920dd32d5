package pin_test

import (
	"context"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"example.com/synchroclock/base/timebase"
	"example.com/synchroclock/driver/pin"
)

func TestWaitForEdge(t *testing.T) {
	p := &gpiotest.Pin{N: "SQW", EdgesChan: make(chan gpio.Level, 4)}
	err := p.In(gpio.PullUp, gpio.BothEdges)
	if err != nil {
		t.Fatalf("In failed: %v", err)
	}

	p.EdgesChan <- gpio.Low
	p.EdgesChan <- gpio.High
	err = pin.WaitForEdge(context.Background(), p, timebase.RisingEdge)
	if err != nil {
		t.Fatalf("WaitForEdge failed: %v", err)
	}
	if p.Read() != gpio.High {
		t.Errorf("got level %v, want High", p.Read())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*pin.PollInterval/2)
	defer cancel()
	err = pin.WaitForEdge(ctx, p, timebase.FallingEdge)
	if err != context.DeadlineExceeded {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestWaitForEdgeCancelled(t *testing.T) {
	p := &gpiotest.Pin{N: "SQW", EdgesChan: make(chan gpio.Level, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := pin.WaitForEdge(ctx, p, timebase.FallingEdge)
	if err != context.Canceled {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if time.Since(start) >= pin.PollInterval {
		t.Errorf("cancelled wait blocked for %v", time.Since(start))
	}
}
