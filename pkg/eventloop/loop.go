// Package eventloop provides the single cooperative "main thread" every map
// mutation runs on. Network work happens in goroutines and resumes on the loop
// through Post, so component state never needs its own locking.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rubiojr/wayplan/pkg/logger"
)

// ErrClosed is returned when posting to a loop that has stopped.
var ErrClosed = errors.New("event loop closed")

// Loop runs posted tasks strictly in arrival order on one goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	running bool

	wake chan struct{}
	done chan struct{}
	log  *logger.Logger
}

// New creates a loop. Call Run to start processing.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		log:  logger.New("loop"),
	}
}

// Run processes tasks until ctx is cancelled or Close is called. It must be
// called exactly once.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("event loop already running")
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.done)

	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.exec(fn)
		}

		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

// exec runs one task; a panicking task must not take the map surface down.
func (l *Loop) exec(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			l.log.Error("task panic: %v", rec)
		}
	}()
	fn()
}

// Close stops accepting tasks; already queued tasks still run.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Post queues fn for execution on the loop and never blocks. It returns false
// if the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
	return true
}

// Call runs fn on the loop and waits for it to finish. It must not be called
// from inside a loop task.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Go runs work in its own goroutine and posts the result back to the loop via
// resume. This is the only way components suspend.
func Go[T any](l *Loop, work func() (T, error), resume func(T, error)) {
	go func() {
		v, err := work()
		if !l.Post(func() { resume(v, err) }) {
			l.log.Debug("dropping completion, loop closed")
		}
	}()
}

// After posts fn to the loop once d has elapsed, unless the returned stop
// function is called first.
func (l *Loop) After(d time.Duration, fn func()) (stop func() bool) {
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return t.Stop
}
