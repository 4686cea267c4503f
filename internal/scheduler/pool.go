package scheduler

type task struct {
	fn   func(part int)
	part int
	done chan any
}

// Pool is a fixed set of persistent worker goroutines fed through a task
// queue. The calling goroutine takes part in every submission, so a pool of
// size n runs up to n+1 parts at once.
type Pool struct {
	size      int
	tasks     chan task
	doneSlots chan chan any
}

// NewPool starts size workers. A size below one gives a pool that runs
// every submission on the caller.
func NewPool(size int) *Pool {
	size = max(size, 0)
	p := &Pool{
		size:  size,
		tasks: make(chan task, max(size*2, 1)),
		// One submission owns the workers at a time; others run inline.
		doneSlots: make(chan chan any, 1),
	}
	p.doneSlots <- make(chan any, max(size, 1))
	for range size {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	for t := range p.tasks {
		t.done <- call(t.fn, t.part)
	}
}

// call runs fn and returns the value of a panic it raised, or nil.
func call(fn func(int), part int) (r any) {
	defer func() { r = recover() }()
	fn(part)
	return nil
}

// Size reports the number of worker goroutines.
func (p *Pool) Size() int { return p.size }

// Submit runs fn(0) .. fn(n-1) and returns when all of them have. Part 0
// runs on the caller. When the workers are already owned by another
// submission, including one further up the caller's own stack, every part
// runs inline instead of waiting. A panic in any part is re-raised on the
// caller after the join.
func (p *Pool) Submit(n int, fn func(part int)) {
	if n <= 0 {
		return
	}
	var done chan any
	if n > 1 && p.size > 0 {
		select {
		case done = <-p.doneSlots:
		default:
		}
	}
	if done == nil {
		for i := range n {
			fn(i)
		}
		return
	}
	if cap(done) < n-1 {
		// Workers never block reporting back, so the queue always drains.
		done = make(chan any, n-1)
	}

	for i := 1; i < n; i++ {
		p.tasks <- task{fn: fn, part: i, done: done}
	}
	first := call(fn, 0)
	for range n - 1 {
		if r := <-done; r != nil && first == nil {
			first = r
		}
	}
	p.doneSlots <- done
	if first != nil {
		panic(first)
	}
}

// Close stops the workers once queued tasks drain. Submit must not be
// called afterwards.
func (p *Pool) Close() {
	close(p.tasks)
}
