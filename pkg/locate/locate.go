// Package locate provides the device position used to center the map on
// first load.
package locate

import (
	"context"
	"sync"
	"time"

	"github.com/rubiojr/wayplan/pkg/geo"
)

// Fix is a position reading.
type Fix struct {
	Point     geo.Point `json:"coordinates"`
	Accuracy  float64   `json:"accuracy_m,omitempty"`
	Altitude  float64   `json:"altitude_m,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Locator reports the device position.
type Locator interface {
	// Current returns the last fix, if any.
	Current() (Fix, bool)
	// Wait blocks until a fix is known or ctx ends.
	Wait(ctx context.Context) (Fix, bool)
}

// holder stores the last fix and wakes waiters on the first one.
type holder struct {
	mu    sync.RWMutex
	fix   Fix
	valid bool
	once  sync.Once
	first chan struct{}
}

func newHolder() *holder { return &holder{first: make(chan struct{})} }

func (h *holder) set(f Fix) {
	h.mu.Lock()
	h.fix = f
	h.valid = true
	h.mu.Unlock()
	h.once.Do(func() { close(h.first) })
}

func (h *holder) Current() (Fix, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fix, h.valid
}

func (h *holder) Wait(ctx context.Context) (Fix, bool) {
	select {
	case <-h.first:
		return h.Current()
	case <-ctx.Done():
		return Fix{}, false
	}
}

// Static is a Locator with a fixed position, e.g. from configuration.
type Static struct{ *holder }

// NewStatic returns a locator that always reports p.
func NewStatic(p geo.Point) Static {
	h := newHolder()
	h.set(Fix{Point: p, Timestamp: time.Now().UTC()})
	return Static{h}
}

// None never knows where the device is.
type None struct{}

func (None) Current() (Fix, bool) { return Fix{}, false }

func (None) Wait(ctx context.Context) (Fix, bool) {
	<-ctx.Done()
	return Fix{}, false
}
