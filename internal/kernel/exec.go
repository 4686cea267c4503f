package kernel

import (
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

// Exec is a configured strategy bound to its tensors and prepared plan.
// It is read-only while running and shared by all workers.
type Exec struct {
	Strategy *Strategy
	Config   *Config
	Plan     any
}

// In returns input i.
func (e *Exec) In(i int) tensor.Tensor { return e.Config.Inputs[i] }

// Out returns the output tensor.
func (e *Exec) Out() tensor.Tensor { return e.Config.Output }

// Clamp returns the effective output clamp.
func (e *Exec) Clamp() Clamp { return e.Config.Clamp.OrNone() }

// Run executes the strategy over w.
func (e *Exec) Run(w window.Window) error {
	return e.Strategy.Run(e, w)
}

// Tile is one block of the output handed to a leaf routine: its origin and
// the extent actually covered, narrowed on the last block of a dimension.
type Tile struct {
	Origin window.Coordinates
	Extent window.Coordinates
	Rank   int
}

// Rows calls fn once per innermost run of the tile with the coordinate of
// its first element and the run length.
func (t Tile) Rows(fn func(coord window.Coordinates, n int)) {
	if t.Rank == 0 {
		return
	}
	last := t.Rank - 1
	coord := t.Origin
	n := t.Extent[last]
	for {
		fn(coord, n)
		i := last - 1
		for ; i >= 0; i-- {
			coord[i]++
			if coord[i] < t.Origin[i]+t.Extent[i] {
				break
			}
			coord[i] = t.Origin[i]
		}
		if i < 0 {
			return
		}
	}
}

// Tiled adapts a per-tile leaf routine into a Runner. Tile and oddment
// arithmetic is done once, by window.ForEachTile. The window is first
// re-stepped to the strategy tile, so a caller window with a wider or
// narrower step still hands the routine blocks it can hold.
func Tiled(routine func(e *Exec, t Tile)) Runner {
	return func(e *Exec, w window.Window) error {
		w, err := fitTile(w, e.Strategy.Tile)
		if err != nil {
			return err
		}
		rank := w.Rank()
		w.ForEachTile(func(origin, extent window.Coordinates) {
			routine(e, Tile{Origin: origin, Extent: extent, Rank: rank})
		})
		return nil
	}
}

// fitTile caps the step of each trailing dim at the matching tile entry,
// aligned the way window.FromShape aligns steps. Leading dims the tile does
// not name step by 1.
func fitTile(w window.Window, tile []int) (window.Window, error) {
	rank := w.Rank()
	if len(tile) > rank {
		tile = tile[len(tile)-rank:]
	}
	lead := rank - len(tile)
	for i := range rank {
		d := w.Dim(i)
		step := 1
		if i >= lead {
			step = min(d.Step, tile[i-lead])
		}
		if step == d.Step {
			continue
		}
		d.Step = step
		var err error
		if w, err = w.WithDim(i, d); err != nil {
			return window.Window{}, err
		}
	}
	return w, nil
}

// Offset returns the element offset of coord in a tensor with the given
// element strides and base offset.
func Offset(base int, strides []int, coord window.Coordinates) int {
	off := base
	for i, s := range strides {
		off += coord[i] * s
	}
	return off
}
