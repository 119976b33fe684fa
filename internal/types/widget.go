// Package types provides common type definitions shared across the Anchor
// engine. This package contains shared types to avoid circular dependencies
// between packages.
package types

import (
	"context"
	"time"

	"github.com/a-h/templ"
)

// Props is the per-instance configuration of a mounted widget, decoded from
// the mount point's data-props attribute. An absent or empty attribute yields
// an empty (non-nil) Props.
type Props map[string]interface{}

// Renderable produces the templ component for one widget instance given its
// decoded props. A Renderable is what a Factory resolves to; it may be invoked
// many times (once per mounted instance).
type Renderable func(props Props) templ.Component

// Factory lazily resolves a widget implementation. It is invoked at most once
// per mount attempt and may do slow work (loading code, fetching templates);
// the runtime shows a placeholder while it runs. A Factory must honor ctx
// cancellation for long loads.
type Factory func(ctx context.Context) (Renderable, error)

// EventType represents the type of registry change event.
type EventType string

const (
	EventTypeRegistered EventType = "registered"
	EventTypeReplaced   EventType = "replaced"
	EventTypeRemoved    EventType = "removed"
)

// RegistryEvent represents a change in the widget registry, delivered to
// subscribers such as the dev server UI.
type RegistryEvent struct {
	// Type indicates the kind of change (registered, replaced, removed)
	Type EventType
	// Name is the widget name the event concerns
	Name string
	// Timestamp records when the event occurred
	Timestamp time.Time
}
