// Package evloop implements a single-goroutine event loop.
//
// All pipe state lives on the loop goroutine. Code running elsewhere enters
// the loop by posting a task; tasks execute one at a time in posting order.
// This replaces mutex-protected state with cooperative single-threaded
// reasoning: a task observes every invariant on entry and restores every
// invariant on exit.
package evloop

import "sync"

// Loop is a FIFO task queue drained by a single goroutine.
//
// The zero value is not usable; construct with New and call Start before
// posting tasks.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	started bool
	closed  bool
	done    chan struct{}
}

// New creates a stopped loop. Call Start to begin draining tasks.
func New() *Loop {
	l := &Loop{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Start launches the loop goroutine. Calling Start twice panics.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		panic("evloop: Start called twice")
	}
	l.started = true
	l.mu.Unlock()
	go l.drain()
}

// Post enqueues fn for execution on the loop goroutine. Safe to call from
// any goroutine, including from a task already running on the loop.
// Posting to a stopped loop drops fn silently.
func (l *Loop) Post(fn func()) {
	l.post(fn)
}

func (l *Loop) post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	l.mu.Unlock()
	return true
}

// Run posts fn and blocks until it has executed. Used by code on other
// goroutines that needs a synchronous answer from loop-owned state.
//
// Run must not be called from the loop goroutine itself: the task would
// wait for its own completion. Returns false without executing fn when the
// loop is already stopped.
func (l *Loop) Run(fn func()) bool {
	ch := make(chan struct{})
	if !l.post(func() {
		fn()
		close(ch)
	}) {
		return false
	}
	<-ch
	return true
}

// Stop drains every task posted before the call, then terminates the loop
// goroutine. Blocks until the drain completes. Idempotent. On a loop that
// was never started, queued tasks are dropped without running.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	started := l.started
	l.cond.Signal()
	l.mu.Unlock()
	if !started {
		close(l.done)
		return
	}
	<-l.done
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			close(l.done)
			return
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		fn()
	}
}
