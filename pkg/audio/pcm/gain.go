package pcm

import (
	"math"
	"sync/atomic"
)

// Gain is a float32 multiplier shared between a control surface and an
// audio write loop, stored as its bit pattern. The zero value is
// silence; Store 1 for unity.
type Gain struct {
	bits atomic.Uint32
}

// Load returns the current multiplier.
func (g *Gain) Load() float32 {
	return math.Float32frombits(g.bits.Load())
}

// Store replaces the multiplier.
func (g *Gain) Store(v float32) {
	g.bits.Store(math.Float32bits(v))
}
