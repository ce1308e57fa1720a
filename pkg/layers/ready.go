package layers

import (
	"context"
	"sync"
)

// Future resolves once: with nil when the map became ready, or with a
// LayerInitializationTimeout error when the bounded wait ran out.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func (f *Future) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the resolution error. It is only meaningful after Done.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the future resolves or ctx ends. Never call it on the
// loop.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
