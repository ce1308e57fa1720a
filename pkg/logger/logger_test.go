package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}) })

	New("route").Info("applied generation %d", 3)

	if got := buf.String(); !strings.Contains(got, "route: applied generation 3") {
		t.Errorf("output = %q, want component prefix and message", got)
	}
}

func TestDebugToggle(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetDebug(false)
		SetOutput(&bytes.Buffer{})
	})

	SetDebug(false)
	New("layers").Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug output written while disabled: %q", buf.String())
	}

	SetDebug(true)
	New("layers").Debug("shown")
	if !strings.Contains(buf.String(), "[DEBUG] layers: shown") {
		t.Errorf("output = %q, want debug line", buf.String())
	}
}
