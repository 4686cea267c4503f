// Package scheduler splits an execution window across a worker pool and
// joins on completion.
package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/window"
)

// MinGranularity is the default iteration count below which a window is
// run on the caller without splitting.
const MinGranularity = 64

// Runnable executes over one window of its output.
type Runnable interface {
	Run(w window.Window) error
}

// Interface is what operators schedule through.
type Interface interface {
	// Schedule runs k over w using at most hint workers and returns once
	// every part has finished.
	Schedule(w window.Window, k Runnable, hint int) error
	NumThreads() int
}

// Scheduler distributes windows over a Pool.
type Scheduler struct {
	// mu is held by the Schedule that owns the pool and the split
	// buffers, and by SetNumThreads while it swaps pools.
	mu          sync.Mutex
	pool        atomic.Pointer[Pool]
	granularity atomic.Int64

	k     Runnable
	parts []window.Window
	errs  []error
	part  func(int)
}

// New returns a scheduler running on threads goroutines, the caller
// included.
func New(threads int) *Scheduler {
	s := &Scheduler{}
	s.pool.Store(NewPool(max(threads, 1) - 1))
	s.granularity.Store(MinGranularity)
	s.part = s.runPart
	return s
}

func (s *Scheduler) runPart(i int) {
	s.errs[i] = s.k.Run(s.parts[i])
}

// Schedule runs k over w. Windows with fewer than the minimum granularity
// of iterations, a hint of one or less, and calls made while another
// Schedule holds the pool all run synchronously on the caller.
func (s *Scheduler) Schedule(w window.Window, k Runnable, hint int) error {
	iters, err := w.NumIterations()
	if err != nil {
		return err
	}
	if hint <= 1 || iters == 0 || iters < uint64(s.granularity.Load()) {
		return k.Run(w)
	}
	if !s.mu.TryLock() {
		return k.Run(w)
	}
	defer s.mu.Unlock()

	pool := s.pool.Load()
	dim := w.CoarsestDimension()
	parts := min(hint, pool.Size()+1, w.Dim(dim).Steps())
	if parts <= 1 {
		return k.Run(w)
	}
	s.parts = w.SplitInto(s.parts[:0], dim, parts)
	if cap(s.errs) < parts {
		s.errs = make([]error, parts)
	}
	s.errs = s.errs[:parts]
	s.k = k
	defer func() {
		s.k = nil
		clear(s.errs)
	}()

	pool.Submit(parts, s.part)
	return errors.Join(s.errs...)
}

// NumThreads reports how many goroutines a Schedule may use.
func (s *Scheduler) NumThreads() int {
	return s.pool.Load().Size() + 1
}

// SetNumThreads replaces the pool. It takes effect on the next Schedule;
// one in flight finishes on the old pool first.
func (s *Scheduler) SetNumThreads(n int) {
	s.mu.Lock()
	old := s.pool.Swap(NewPool(max(n, 1) - 1))
	s.mu.Unlock()
	old.Close()
}

// SetMinGranularity changes the split threshold.
func (s *Scheduler) SetMinGranularity(n int) {
	s.granularity.Store(int64(max(n, 1)))
}

// MinGranularity reports the split threshold.
func (s *Scheduler) MinGranularity() int {
	return int(s.granularity.Load())
}

// Close stops the workers.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool.Load().Close()
}

// Sequential runs every window on the caller.
type Sequential struct{}

// Schedule runs k over w directly.
func (Sequential) Schedule(w window.Window, k Runnable, _ int) error {
	return k.Run(w)
}

// NumThreads is always one.
func (Sequential) NumThreads() int { return 1 }

var defaultScheduler = sync.OnceValue(func() *Scheduler {
	return New(cpuinfo.ThreadsHint())
})

// Default returns the process-wide scheduler.
func Default() *Scheduler { return defaultScheduler() }

// SetNumThreads resizes the process-wide scheduler.
func SetNumThreads(n int) { Default().SetNumThreads(n) }

// NumThreads reports the size of the process-wide scheduler.
func NumThreads() int { return Default().NumThreads() }
