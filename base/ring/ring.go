package ring

import (
	"github.com/gammazero/deque"
)

// Ring is a fixed-capacity history with the newest element at index 0.
// Pushing into a full ring evicts the oldest element.
type Ring[T any] struct {
	d   *deque.Deque[T]
	cap int
}

func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		panic("unexpected ring capacity")
	}
	return &Ring[T]{d: deque.New[T](capacity), cap: capacity}
}

func (r *Ring[T]) Push(v T) {
	if r.d.Len() == r.cap {
		r.d.PopBack()
	}
	r.d.PushFront(v)
}

func (r *Ring[T]) At(i int) T { return r.d.At(i) }

func (r *Ring[T]) Set(i int, v T) { r.d.Set(i, v) }

func (r *Ring[T]) Len() int { return r.d.Len() }

func (r *Ring[T]) Cap() int { return r.cap }

func (r *Ring[T]) Full() bool { return r.d.Len() == r.cap }

// All returns a copy of the elements, newest first.
func (r *Ring[T]) All() []T {
	vs := make([]T, r.d.Len())
	for i := range vs {
		vs[i] = r.d.At(i)
	}
	return vs
}

func (r *Ring[T]) Reset() { r.d.Clear() }
