package kernel

import (
	"math"

	"github.com/samcharles93/stratum/internal/status"
)

// Clamp bounds every stored value to [Min, Max]. It is how fused ReLU-style
// activations reach the leaf kernels.
type Clamp struct {
	Min float32
	Max float32
}

// NoClamp leaves values untouched.
var NoClamp = Clamp{Min: float32(math.Inf(-1)), Max: float32(math.Inf(1))}

// Apply returns min(max(v, Min), Max).
func (c Clamp) Apply(v float32) float32 {
	return min(max(v, c.Min), c.Max)
}

// IsZero reports whether c is the zero value, which callers treat as
// "no clamp requested".
func (c Clamp) IsZero() bool {
	return c.Min == 0 && c.Max == 0
}

// OrNone maps the zero value to NoClamp.
func (c Clamp) OrNone() Clamp {
	if c.IsZero() {
		return NoClamp
	}
	return c
}

// Valid reports Min <= Max with neither bound NaN.
func (c Clamp) Valid() bool {
	return c.Min <= c.Max
}

// Fuse narrows c by a clamp-family activation so the producing kernel
// applies it on store. Other activations are unsupported. The result may
// not be the zero value, which would read as no clamp at all.
func (c Clamp) Fuse(p ActivationParams) (Clamp, error) {
	if !p.IsClampFamily() {
		return Clamp{}, status.Unsupported("%s cannot be fused into a clamp", p.Func)
	}
	a, cur := p.Clamp(), c.OrNone()
	out := Clamp{Min: max(cur.Min, a.Min), Max: min(cur.Max, a.Max)}
	if !out.Valid() || out.IsZero() {
		return Clamp{}, status.Configuration("fusing %s into [%v, %v] leaves no range", p.Func, cur.Min, cur.Max)
	}
	return out, nil
}
