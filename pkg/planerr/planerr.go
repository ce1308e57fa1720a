// Package planerr defines the error taxonomy shared by the planning engine.
//
// User-facing kinds (Configuration, Network, Validation) are surfaced where the
// failed action happened. Internal kinds (ConcurrencyDiscard,
// LayerInitializationTimeout) are logged and absorbed.
package planerr

import (
	"errors"
	"fmt"
)

// Kind sentinels. Match with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrNetwork       = errors.New("network error")
	ErrValidation    = errors.New("validation error")
	ErrDiscarded     = errors.New("stale result discarded")
	ErrLayerTimeout  = errors.New("layer initialization timeout")

	// ErrAborted is returned when a request was cancelled by its caller or
	// superseded by a newer request on the same cancel source.
	ErrAborted = errors.New("aborted")
	// ErrNotFound is returned when a lookup completed but matched nothing.
	ErrNotFound = errors.New("not found")
)

// Error carries the operation that failed alongside its kind.
type Error struct {
	Kind error  // one of the sentinels above
	Op   string // e.g. "directions", "geocode"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

// Is matches the kind sentinel so callers can write errors.Is(err, ErrNetwork).
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Network wraps err as a NetworkError for op.
func Network(op string, err error) error { return newErr(ErrNetwork, op, err) }

// Configuration wraps err as a ConfigurationError for op.
func Configuration(op string, err error) error { return newErr(ErrConfiguration, op, err) }

// Validation builds a ValidationError with a user-readable message.
func Validation(op, msg string) error { return newErr(ErrValidation, op, errors.New(msg)) }

// Discarded reports a result superseded by newer state.
func Discarded(op string, generation, current uint64) error {
	return newErr(ErrDiscarded, op, fmt.Errorf("generation %d superseded by %d", generation, current))
}

// LayerTimeout reports that the map did not become ready after attempts.
func LayerTimeout(attempts int) error {
	return newErr(ErrLayerTimeout, "layers", fmt.Errorf("map not loaded after %d attempts", attempts))
}

// Aborted wraps a cancellation cause.
func Aborted(op string, err error) error { return newErr(ErrAborted, op, err) }

// NotFound reports an empty lookup for query.
func NotFound(op, query string) error {
	return newErr(ErrNotFound, op, fmt.Errorf("no match for %q", query))
}

// UserFacing reports whether err should be shown to the user.
func UserFacing(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrNetwork) || errors.Is(err, ErrValidation)
}

// Message returns the innermost human readable message of a planerr.Error,
// falling back to err.Error().
func Message(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err.Error()
	}
	return err.Error()
}
