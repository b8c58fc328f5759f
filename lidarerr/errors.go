// Package lidarerr defines the error taxonomy shared by every component of
// the processing core. Errors are distinguished by kind, not by Go type,
// so callers can branch with errors.Is against the sentinel Kind values
// while the wrapped message still names the offending component and input.
package lidarerr

import "fmt"

// Kind is one entry in the error taxonomy (spec §7). Kind itself implements
// error so it can be used directly as an errors.Is target.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// RawParsing: a file cannot be interpreted.
	RawParsing Kind = "raw parsing error"
	// NoData: the selection phase found no records meeting a product's requirements.
	NoData Kind = "no data error"
	// Shape: two inputs disagree on a structural axis.
	Shape Kind = "shape error"
	// Contract: a caller-provided invariant was violated.
	Contract Kind = "contract violation"
	// Numerical: a fitting step produced a non-finite result after optimiser exhaustion.
	Numerical Kind = "numerical error"
)

// Error is the concrete error value returned at component boundaries.
// Component names the subsystem (e.g. "raw/halo", "noise", "wind") and
// Input names the offending file, site, or date when available.
type Error struct {
	Kind      Kind
	Component string
	Input     string
	Err       error
}

func (e *Error) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s): %v", e.Component, e.Kind, e.Input, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, lidarerr.RawParsing) succeed by comparing kinds
// whenever the target is itself a Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind == k
}

// New constructs a tagged Error.
func New(kind Kind, component, input string, err error) *Error {
	return &Error{Kind: kind, Component: component, Input: input, Err: err}
}

// Newf constructs a tagged Error from a format string.
func Newf(kind Kind, component, input, format string, args ...any) *Error {
	return &Error{Kind: kind, Component: component, Input: input, Err: fmt.Errorf(format, args...)}
}
