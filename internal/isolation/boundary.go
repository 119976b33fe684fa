// Package isolation contains rendering failures inside the one widget
// instance that raised them. Each mounted instance renders through its own
// Boundary; a panic or error during render flips that boundary to Failed and
// produces a fallback fragment, leaving sibling instances untouched.
package isolation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/a-h/templ"
	"github.com/anchor-ui/anchor/internal/diagnostics"
	enginerr "github.com/anchor-ui/anchor/internal/errors"
)

// State represents the boundary lifecycle state.
type State int

const (
	// StateHealthy: children render normally.
	StateHealthy State = iota
	// StateFailed: a child failure was intercepted; the fallback renders
	// instead. Terminal until remount or an explicit Retry.
	StateFailed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Boundary wraps a single mounted instance's render subtree. It implements
// templ.Component so the runtime can render it like any other component.
type Boundary struct {
	mutex      sync.Mutex
	widget     string
	mountPoint string
	child      templ.Component
	state      State
	failure    error
	reporter   diagnostics.Reporter
}

// NewBoundary creates a healthy boundary with no child yet; rendering before
// SetChild produces the loading placeholder.
func NewBoundary(widget, mountPoint string, reporter diagnostics.Reporter) *Boundary {
	if reporter == nil {
		reporter = diagnostics.Discard
	}
	return &Boundary{
		widget:     widget,
		mountPoint: mountPoint,
		reporter:   reporter,
	}
}

// SetChild installs the resolved component. It does not reset a failed
// boundary; recovery goes through Retry or remount.
func (b *Boundary) SetChild(child templ.Component) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.child = child
}

// Render implements templ.Component. Failures raised by the child (returned
// errors and panics alike) are intercepted here: the boundary transitions to
// Failed, emits a diagnostic, and writes the fallback fragment. Render only
// returns an error when the writer itself fails.
func (b *Boundary) Render(ctx context.Context, w io.Writer) error {
	b.mutex.Lock()
	state := b.state
	failure := b.failure
	child := b.child
	b.mutex.Unlock()

	if state == StateFailed {
		_, err := io.WriteString(w, diagnostics.FallbackHTML(b.widget, failure))
		return err
	}
	if child == nil {
		_, err := io.WriteString(w, diagnostics.PlaceholderHTML(b.widget))
		return err
	}

	// Render into a buffer first so a mid-render failure cannot leave a
	// truncated fragment in the container.
	var buf bytes.Buffer
	if renderErr := b.renderChild(ctx, child, &buf); renderErr != nil {
		b.fail(renderErr)
		_, err := io.WriteString(w, diagnostics.FallbackHTML(b.widget, renderErr))
		return err
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func (b *Boundary) renderChild(ctx context.Context, child templ.Component, w io.Writer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = enginerr.Wrap(enginerr.KindRender, b.widget, "panic during render",
				fmt.Errorf("%v", r))
		}
	}()
	if renderErr := child.Render(ctx, w); renderErr != nil {
		return enginerr.Wrap(enginerr.KindRender, b.widget, "render failed", renderErr)
	}
	return nil
}

// Fail forces the boundary into the failed state, recording the failure.
// Used by the runtime when the widget's factory fails to resolve.
func (b *Boundary) Fail(err error) {
	b.fail(err)
}

func (b *Boundary) fail(err error) {
	b.mutex.Lock()
	already := b.state == StateFailed
	b.state = StateFailed
	b.failure = err
	b.mutex.Unlock()

	if already {
		return
	}
	b.reporter.Report(diagnostics.Record{
		Severity:   diagnostics.SeverityError,
		MountPoint: b.mountPoint,
		Widget:     b.widget,
		Message:    "widget failure contained",
		Err:        err,
	})
}

// Retry resets a failed boundary to healthy so the next render re-attempts
// the original child. Returns false if the boundary was not failed.
func (b *Boundary) Retry() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.state != StateFailed {
		return false
	}
	b.state = StateHealthy
	b.failure = nil
	return true
}

// State returns the current boundary state.
func (b *Boundary) State() State {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.state
}

// Failure returns the intercepted failure, if any.
func (b *Boundary) Failure() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.failure
}
