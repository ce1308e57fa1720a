package planerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		kind       error
		userFacing bool
	}{
		{"network", Network("directions", errors.New("dial tcp: refused")), ErrNetwork, true},
		{"validation", Validation("save", "route needs at least 2 waypoints"), ErrValidation, true},
		{"configuration", Configuration("map", errors.New("missing token")), ErrConfiguration, true},
		{"discard", Discarded("directions", 1, 2), ErrDiscarded, false},
		{"layer timeout", LayerTimeout(5), ErrLayerTimeout, false},
		{"aborted", Aborted("geocode", context.Canceled), ErrAborted, false},
		{"not found", NotFound("geocode", "Atlantis"), ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.kind)
			}
			if got := UserFacing(wrapped); got != tt.userFacing {
				t.Errorf("UserFacing = %v, want %v", got, tt.userFacing)
			}
		})
	}
}

func TestAbortedKeepsCause(t *testing.T) {
	err := Aborted("geocode", context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Error("aborted error should unwrap to context.Canceled")
	}
	if errors.Is(err, ErrNetwork) {
		t.Error("aborted error must not match ErrNetwork")
	}
}

func TestMessage(t *testing.T) {
	err := Validation("save", "route name is required")
	if got := Message(err); got != "route name is required" {
		t.Errorf("Message = %q", got)
	}
}
