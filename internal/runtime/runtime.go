// Package runtime orchestrates widget mounting: it discovers mount points in
// the host document, resolves widgets through the registry, parses instance
// configuration, renders each instance into an isolated root, and tears roots
// down again as the host removes their containers. The tracking table is the
// only shared mutable state and is owned exclusively by the Runtime.
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/anchor-ui/anchor/internal/diagnostics"
	"github.com/anchor-ui/anchor/internal/dom"
	enginerr "github.com/anchor-ui/anchor/internal/errors"
	"github.com/anchor-ui/anchor/internal/isolation"
	"github.com/anchor-ui/anchor/internal/logging"
	"github.com/anchor-ui/anchor/internal/registry"
	"github.com/anchor-ui/anchor/internal/types"
	"golang.org/x/net/html"
)

// RootEntry ties one mount point to its active render root. Entries are
// keyed by container pointer identity: two mount points naming the same
// widget are independent entries.
type RootEntry struct {
	// Container is the mount point element. The entry never owns it; the
	// host does.
	Container *html.Node
	// Widget is the registry key, kept for diagnostics.
	Widget string
	// ID is the diagnostic identity of the mount point.
	ID string
	// Props is the decoded instance configuration.
	Props types.Props
	// Boundary is the instance's fault isolation wrapper.
	Boundary *isolation.Boundary

	// ctx is canceled on unmount so an in-flight factory resolution stops
	// loading; the entry-identity check discards its result either way.
	ctx      context.Context
	cancel   context.CancelFunc
	cleanups []func()
}

// Runtime mounts and unmounts widget instances in one host document.
type Runtime struct {
	doc      *dom.Document
	registry *registry.Registry
	reporter diagnostics.Reporter
	logger   logging.Logger

	// mutex serializes every tracking-table mutation, so a scan and an
	// observer callback can never double-mount or double-free a container.
	mutex   sync.Mutex
	entries map[*html.Node]*RootEntry
	pending sync.WaitGroup
}

// New creates a runtime bound to one document and registry.
func New(doc *dom.Document, reg *registry.Registry, reporter diagnostics.Reporter, logger logging.Logger) *Runtime {
	if reporter == nil {
		reporter = diagnostics.Discard
	}
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	return &Runtime{
		doc:      doc,
		registry: reg,
		reporter: reporter,
		logger:   logger.WithComponent("runtime"),
		entries:  make(map[*html.Node]*RootEntry),
	}
}

// Document returns the host document the runtime is bound to.
func (r *Runtime) Document() *dom.Document { return r.doc }

// Scan discovers mount points under root (the whole document when root is
// nil) and mounts every untracked one. Mount points are claimed in document
// order; factory resolution then proceeds per instance without blocking the
// others. Scan never fails: every per-instance error becomes a diagnostic
// and that instance is skipped.
func (r *Runtime) Scan(ctx context.Context, root *html.Node) {
	if root == nil {
		root = r.doc.Root()
	}

	for _, node := range r.doc.MountPoints(root) {
		r.mount(ctx, node)
	}
}

func (r *Runtime) mount(ctx context.Context, node *html.Node) {
	name := r.doc.WidgetName(node)
	id := r.doc.MountPointID(node)

	r.mutex.Lock()
	if _, tracked := r.entries[node]; tracked {
		// Re-discovery of a mounted point is a no-op.
		r.mutex.Unlock()
		return
	}

	if !dom.Contains(r.doc.Root(), node) {
		// The host removed this node after discovery snapshotted it. Its
		// removal record is already spent, so claiming it now would create
		// an entry nothing can unmount.
		r.mutex.Unlock()
		r.logger.Debug(ctx, "skipping detached mount point",
			"widget", name, "mount_point", id)
		return
	}

	if name == "" {
		r.mutex.Unlock()
		r.reporter.Report(diagnostics.Record{
			Severity:   diagnostics.SeverityWarning,
			MountPoint: id,
			Message:    "mount point has an empty widget name, skipping",
		})
		return
	}

	if !r.registry.Has(name) {
		r.mutex.Unlock()
		r.reporter.Report(diagnostics.Record{
			Severity:   diagnostics.SeverityWarning,
			MountPoint: id,
			Widget:     name,
			Message:    "widget not registered, skipping",
			Err:        enginerr.New(enginerr.KindNotRegistered, name, "no factory registered").WithMountPoint(id),
		})
		return
	}

	props, err := ParseProps(r.doc.PropsJSON(node))
	if err != nil {
		r.mutex.Unlock()
		var ee *enginerr.EngineError
		if errors.As(err, &ee) {
			err = ee.WithMountPoint(id)
		}
		r.reporter.Report(diagnostics.Record{
			Severity:   diagnostics.SeverityWarning,
			MountPoint: id,
			Widget:     name,
			Message:    "malformed configuration, skipping",
			Err:        err,
		})
		return
	}

	entryCtx, cancel := context.WithCancel(ctx)
	entry := &RootEntry{
		Container: node,
		Widget:    name,
		ID:        id,
		Props:     props,
		Boundary:  isolation.NewBoundary(name, id, r.reporter),
		ctx:       entryCtx,
		cancel:    cancel,
	}
	r.entries[node] = entry
	r.pending.Add(1)
	// Claimed: show the loading placeholder while the factory resolves.
	r.renderLocked(entry)
	r.mutex.Unlock()

	go r.resolveAndRender(entry)
}

// resolveAndRender completes a mount after the (possibly slow) factory
// resolution. A resolution that outlives its entry is discarded, never
// rendered into a torn-down or reused container.
func (r *Runtime) resolveAndRender(entry *RootEntry) {
	defer r.pending.Done()

	renderable, err := r.registry.Resolve(entry.ctx, entry.Widget)

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.entries[entry.Container] != entry {
		r.logger.Debug(entry.ctx, "discarding stale resolution",
			"widget", entry.Widget, "mount_point", entry.ID)
		return
	}

	if err != nil {
		// Resolution load failure renders the fallback, like a render
		// failure would; Fail emits the diagnostic.
		entry.Boundary.Fail(err)
	} else {
		entry.Boundary.SetChild(renderable(entry.Props))
	}
	r.renderLocked(entry)

	if err == nil && entry.Boundary.State() == isolation.StateHealthy {
		r.logger.Debug(entry.ctx, "widget mounted",
			"widget", entry.Widget, "mount_point", entry.ID)
	}
}

// renderLocked renders the entry's boundary into its container. Callers hold
// r.mutex, which keeps the render atomic with respect to unmounts.
func (r *Runtime) renderLocked(entry *RootEntry) {
	var buf bytes.Buffer
	if err := entry.Boundary.Render(entry.ctx, &buf); err != nil {
		r.reporter.Report(diagnostics.Record{
			Severity:   diagnostics.SeverityError,
			MountPoint: entry.ID,
			Widget:     entry.Widget,
			Message:    "writing render output",
			Err:        err,
		})
		return
	}
	if err := r.doc.SetChildren(entry.Container, buf.String()); err != nil {
		r.reporter.Report(diagnostics.Record{
			Severity:   diagnostics.SeverityError,
			MountPoint: entry.ID,
			Widget:     entry.Widget,
			Message:    "splicing render output into container",
			Err:        err,
		})
	}
}

// Wait blocks until all in-flight factory resolutions have settled. The CLI
// uses it for one-shot rendering; tests use it for determinism.
func (r *Runtime) Wait() {
	r.pending.Wait()
}

// Unmount destroys the root mounted at node, running its release logic and
// dropping the tracking entry. Unmounting an untracked node is a no-op.
func (r *Runtime) Unmount(node *html.Node) {
	r.mutex.Lock()
	entry, ok := r.entries[node]
	if !ok {
		r.mutex.Unlock()
		return
	}
	delete(r.entries, node)
	cleanups := entry.cleanups
	entry.cleanups = nil
	r.mutex.Unlock()

	r.teardown(entry, cleanups)
}

// teardown releases one entry outside the table lock. Cleanup panics are
// contained and reported; teardown always completes.
func (r *Runtime) teardown(entry *RootEntry, cleanups []func()) {
	entry.cancel()

	for i := len(cleanups) - 1; i >= 0; i-- {
		r.runCleanup(entry, cleanups[i])
	}

	r.doc.ClearChildren(entry.Container)
	r.logger.Debug(context.Background(), "widget unmounted",
		"widget", entry.Widget, "mount_point", entry.ID)
}

func (r *Runtime) runCleanup(entry *RootEntry, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.reporter.Report(diagnostics.Record{
				Severity:   diagnostics.SeverityError,
				MountPoint: entry.ID,
				Widget:     entry.Widget,
				Message:    "cleanup panicked during teardown",
				Err:        enginerr.Wrap(enginerr.KindInternal, entry.Widget, "cleanup panic", fmt.Errorf("%v", rec)),
			})
		}
	}()
	fn()
}

// UnmountAll tears down every tracked root. Teardown is best-effort and
// exhaustive: a failing entry never stops the rest, and the tracking table
// is empty afterwards regardless.
func (r *Runtime) UnmountAll() {
	r.mutex.Lock()
	snapshot := make([]*RootEntry, 0, len(r.entries))
	cleanupSets := make([][]func(), 0, len(r.entries))
	for _, entry := range r.entries {
		snapshot = append(snapshot, entry)
		cleanupSets = append(cleanupSets, entry.cleanups)
		entry.cleanups = nil
	}
	r.entries = make(map[*html.Node]*RootEntry)
	r.mutex.Unlock()

	for i, entry := range snapshot {
		r.teardown(entry, cleanupSets[i])
	}
}

// OnCleanup registers release logic for the instance mounted at node, run
// exactly once on teardown in LIFO order. Returns false if node is not
// tracked.
func (r *Runtime) OnCleanup(node *html.Node, fn func()) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	entry, ok := r.entries[node]
	if !ok {
		return false
	}
	entry.cleanups = append(entry.cleanups, fn)
	return true
}

// Retry re-attempts a failed instance: the boundary is reset to healthy and
// resolution plus rendering runs again. Returns false if node is untracked
// or its boundary was not failed.
func (r *Runtime) Retry(node *html.Node) bool {
	r.mutex.Lock()
	entry, ok := r.entries[node]
	if !ok || !entry.Boundary.Retry() {
		r.mutex.Unlock()
		return false
	}
	r.pending.Add(1)
	r.renderLocked(entry) // placeholder again while re-resolving
	r.mutex.Unlock()

	go r.resolveAndRender(entry)
	return true
}

// Mounted reports whether node currently has a tracked root.
func (r *Runtime) Mounted(node *html.Node) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	_, ok := r.entries[node]
	return ok
}

// Entry returns the tracking entry for node, if any.
func (r *Runtime) Entry(node *html.Node) (*RootEntry, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	entry, ok := r.entries[node]
	return entry, ok
}

// Entries returns a snapshot of all tracked entries.
func (r *Runtime) Entries() []*RootEntry {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]*RootEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	return out
}

// Len returns the number of tracked roots.
func (r *Runtime) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.entries)
}
