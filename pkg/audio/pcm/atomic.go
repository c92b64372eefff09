package pcm

import (
	"math"
	"sync/atomic"
)

// AtomicFloat32 is a float32 that can be read and written concurrently,
// such as a gain or level adjusted while audio is flowing. The zero value
// holds 0.
type AtomicFloat32 struct {
	v atomic.Uint32
}

// Load returns the current value.
func (a *AtomicFloat32) Load() float32 {
	return math.Float32frombits(a.v.Load())
}

// Store sets the value.
func (a *AtomicFloat32) Store(val float32) {
	a.v.Store(math.Float32bits(val))
}

// Swap sets the value and returns the previous one.
func (a *AtomicFloat32) Swap(val float32) float32 {
	return math.Float32frombits(a.v.Swap(math.Float32bits(val)))
}
