package hands

import (
	"context"
	"sync"

	"example.com/synchroclock/base/timebase"
)

// SimActuator is an in-memory clock face. Edges return immediately; the
// movement only advances when Tick is called.
type SimActuator struct {
	mu         sync.Mutex
	position   int
	adjustment int
	paused     int
	edges      []timebase.Edge
}

func NewSimActuator(position int) *SimActuator {
	return &SimActuator{position: position % MaxPosition}
}

func (a *SimActuator) WaitForEdge(ctx context.Context, edge timebase.Edge) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edges = append(a.edges, edge)
	return ctx.Err()
}

func (a *SimActuator) ReadPosition(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position, nil
}

func (a *SimActuator) WriteAdjustment(ctx context.Context, adj int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adjustment = adj
	return nil
}

func (a *SimActuator) Pause(ctx context.Context, seconds int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = seconds
	return nil
}

// Tick advances the movement by one second of reference time. A pending
// adjustment is consumed in full on the same tick.
func (a *SimActuator) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused > 0 {
		a.paused--
		return
	}
	a.position = (a.position + 1 + a.adjustment) % MaxPosition
	a.adjustment = 0
}

func (a *SimActuator) Position() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

func (a *SimActuator) Adjustment() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adjustment
}

func (a *SimActuator) Paused() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

func (a *SimActuator) Edges() []timebase.Edge {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]timebase.Edge(nil), a.edges...)
}
