package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

// grid writes a value derived from each coordinate and counts the writes
// each element receives.
type grid struct {
	cols   int
	out    []float32
	writes []atomic.Int32
	calls  atomic.Int32
}

func newGrid(rows, cols int) *grid {
	return &grid{cols: cols, out: make([]float32, rows*cols), writes: make([]atomic.Int32, rows*cols)}
}

func (g *grid) Run(w window.Window) error {
	g.calls.Add(1)
	w.ForEachTile(func(origin, extent window.Coordinates) {
		for r := origin[0]; r < origin[0]+extent[0]; r++ {
			for c := origin[1]; c < origin[1]+extent[1]; c++ {
				i := r*g.cols + c
				g.out[i] = float32(r)*0.5 - float32(c)*0.25
				g.writes[i].Add(1)
			}
		}
	})
	return nil
}

func gridWindow(t *testing.T, rows, cols int) window.Window {
	t.Helper()
	w, err := window.FromShape(tensor.Shape{rows, cols}, []int{1, 4})
	require.NoError(t, err)
	return w
}

func TestScheduleMatchesSingleThread(t *testing.T) {
	t.Parallel()

	s := New(4)
	defer s.Close()
	w := gridWindow(t, 37, 45)

	one := newGrid(37, 45)
	require.NoError(t, s.Schedule(w, one, 1))
	assert.Equal(t, int32(1), one.calls.Load())

	many := newGrid(37, 45)
	require.NoError(t, s.Schedule(w, many, 8))
	assert.Equal(t, int32(4), many.calls.Load())

	assert.Equal(t, one.out, many.out)
	for i := range many.writes {
		require.Equal(t, int32(1), many.writes[i].Load(), "element %d", i)
	}
}

func TestScheduleBelowGranularityRunsInline(t *testing.T) {
	t.Parallel()

	s := New(4)
	defer s.Close()
	// 4x8 with tile 4 gives 8 iterations.
	g := newGrid(4, 8)
	require.NoError(t, s.Schedule(gridWindow(t, 4, 8), g, 4))
	assert.Equal(t, int32(1), g.calls.Load())

	s.SetMinGranularity(1)
	assert.Equal(t, 1, s.MinGranularity())
	g = newGrid(4, 8)
	require.NoError(t, s.Schedule(gridWindow(t, 4, 8), g, 4))
	assert.Equal(t, int32(4), g.calls.Load())
}

func TestSchedulePartsBoundedBySteps(t *testing.T) {
	t.Parallel()

	s := New(8)
	defer s.Close()
	s.SetMinGranularity(1)
	// Coarsest dim has three steps.
	w, err := window.New(window.Dimension{Start: 0, End: 3, Step: 1}, window.Dimension{Start: 0, End: 8, Step: 4})
	require.NoError(t, err)
	g := newGrid(3, 8)
	require.NoError(t, s.Schedule(w, g, 8))
	assert.Equal(t, int32(3), g.calls.Load())
}

type nested struct {
	s     *Scheduler
	inner *grid
	w     window.Window
}

func (n *nested) Run(w window.Window) error {
	return n.s.Schedule(n.w, n.inner, 4)
}

func TestNestedScheduleFallsBack(t *testing.T) {
	t.Parallel()

	s := New(4)
	defer s.Close()
	s.SetMinGranularity(1)

	outer := &nested{s: s, w: gridWindow(t, 8, 8)}
	inners := make([]*grid, 0)
	var mu sync.Mutex
	k := runFunc(func(w window.Window) error {
		g := newGrid(8, 8)
		mu.Lock()
		inners = append(inners, g)
		mu.Unlock()
		n := *outer
		n.inner = g
		return n.Run(w)
	})
	require.NoError(t, s.Schedule(gridWindow(t, 16, 16), k, 4))
	require.Len(t, inners, 4)
	for _, g := range inners {
		// Each nested call ran synchronously as one piece.
		assert.Equal(t, int32(1), g.calls.Load())
	}
}

type runFunc func(w window.Window) error

func (f runFunc) Run(w window.Window) error { return f(w) }

func TestConcurrentSchedules(t *testing.T) {
	t.Parallel()

	s := New(4)
	defer s.Close()
	s.SetMinGranularity(1)

	w := gridWindow(t, 20, 20)
	var wg sync.WaitGroup
	grids := make([]*grid, 8)
	for i := range grids {
		grids[i] = newGrid(20, 20)
		wg.Go(func() {
			assert.NoError(t, s.Schedule(w, grids[i], 4))
		})
	}
	wg.Wait()
	ref := newGrid(20, 20)
	require.NoError(t, Sequential{}.Schedule(w, ref, 4))
	for _, g := range grids {
		assert.Equal(t, ref.out, g.out)
	}
}

func TestScheduleJoinsErrors(t *testing.T) {
	t.Parallel()

	s := New(4)
	defer s.Close()
	s.SetMinGranularity(1)
	boom := errors.New("boom")
	var calls atomic.Int32
	k := runFunc(func(w window.Window) error {
		if calls.Add(1) == 2 {
			return boom
		}
		return nil
	})
	err := s.Schedule(gridWindow(t, 16, 16), k, 4)
	require.ErrorIs(t, err, boom)
}

func TestSchedulePanicReachesCaller(t *testing.T) {
	t.Parallel()

	s := New(4)
	defer s.Close()
	s.SetMinGranularity(1)
	w := gridWindow(t, 16, 16)
	k := runFunc(func(sub window.Window) error {
		if sub.Dim(0).Start != 0 {
			panic("worker fault")
		}
		return nil
	})
	assert.PanicsWithValue(t, "worker fault", func() { _ = s.Schedule(w, k, 4) })

	// The pool is usable afterwards.
	g := newGrid(16, 16)
	require.NoError(t, s.Schedule(w, g, 4))
	assert.Equal(t, int32(4), g.calls.Load())
}

func TestSetNumThreads(t *testing.T) {
	t.Parallel()

	s := New(2)
	defer s.Close()
	assert.Equal(t, 2, s.NumThreads())
	s.SetNumThreads(6)
	assert.Equal(t, 6, s.NumThreads())
	s.SetNumThreads(0)
	assert.Equal(t, 1, s.NumThreads())

	s.SetMinGranularity(1)
	g := newGrid(16, 16)
	require.NoError(t, s.Schedule(gridWindow(t, 16, 16), g, 4))
	assert.Equal(t, int32(1), g.calls.Load())
}

func TestPoolSubmit(t *testing.T) {
	t.Parallel()

	p := NewPool(3)
	defer p.Close()
	var seen [40]atomic.Int32
	p.Submit(len(seen), func(part int) { seen[part].Add(1) })
	for i := range seen {
		assert.Equal(t, int32(1), seen[i].Load(), "part %d", i)
	}

	empty := NewPool(0)
	defer empty.Close()
	var n int
	empty.Submit(3, func(int) { n++ })
	assert.Equal(t, 3, n)
}

func TestScheduleDoesNotAllocate(t *testing.T) {
	if raceEnabled {
		t.Skip("race detector allocates")
	}
	s := New(4)
	defer s.Close()
	s.SetMinGranularity(1)
	w := gridWindow(t, 64, 64)
	k := runFunc(func(window.Window) error { return nil })

	allocs := testing.AllocsPerRun(100, func() {
		_ = s.Schedule(w, k, 4)
	})
	assert.Zero(t, allocs)
}

func TestSequential(t *testing.T) {
	t.Parallel()

	var seq Interface = Sequential{}
	g := newGrid(16, 16)
	require.NoError(t, seq.Schedule(gridWindow(t, 16, 16), g, 8))
	assert.Equal(t, int32(1), g.calls.Load())
	assert.Equal(t, 1, seq.NumThreads())
}
