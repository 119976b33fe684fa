package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind represents different categories of engine errors.
type ErrorKind string

const (
	// KindNotRegistered: a mount point names a widget absent from the registry.
	KindNotRegistered ErrorKind = "not_registered"
	// KindBadProps: a mount point's data-props attribute is not valid JSON.
	KindBadProps ErrorKind = "bad_props"
	// KindResolve: a registered factory failed to produce a renderable.
	KindResolve ErrorKind = "resolve"
	// KindRender: a mounted instance failed (error or panic) during render.
	KindRender ErrorKind = "render"
	// KindObserver: a single mutation record could not be classified.
	KindObserver ErrorKind = "observer"
	// KindConfig: configuration loading or validation failed.
	KindConfig ErrorKind = "config"
	// KindInternal: anything that indicates a bug in the engine itself.
	KindInternal ErrorKind = "internal"
)

// EngineError is a structured error carrying the widget and mount point it
// concerns. All instance-scoped kinds are recoverable: the engine skips the
// one mount point and continues.
type EngineError struct {
	Kind       ErrorKind
	Widget     string
	MountPoint string
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Kind)}

	if e.Widget != "" {
		parts = append(parts, "widget:"+e.Widget)
	}
	if e.MountPoint != "" {
		parts = append(parts, "at:"+e.MountPoint)
	}

	parts = append(parts, e.Message)
	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}
	return result
}

// Unwrap returns the underlying cause error.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is matches two EngineErrors by kind, so errors.Is can be used with
// kind-only sentinels.
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Recoverable reports whether the engine may continue after this error.
// There is no fatal class: only internal errors are treated as
// non-recoverable, and those indicate engine bugs rather than host input.
func (e *EngineError) Recoverable() bool {
	return e.Kind != KindInternal
}

// New creates an EngineError without a cause.
func New(kind ErrorKind, widget, message string) *EngineError {
	return &EngineError{Kind: kind, Widget: widget, Message: message}
}

// Wrap creates an EngineError wrapping a cause.
func Wrap(kind ErrorKind, widget, message string, cause error) *EngineError {
	return &EngineError{Kind: kind, Widget: widget, Message: message, Cause: cause}
}

// WithMountPoint returns a copy of the error annotated with the mount point
// identity it occurred at.
func (e *EngineError) WithMountPoint(id string) *EngineError {
	clone := *e
	clone.MountPoint = id
	return &clone
}

// IsKind reports whether err is an EngineError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsNotRegistered reports whether err signals an unknown widget name.
func IsNotRegistered(err error) bool { return IsKind(err, KindNotRegistered) }

// IsBadProps reports whether err signals malformed instance configuration.
func IsBadProps(err error) bool { return IsKind(err, KindBadProps) }
