// Package observer watches the host document for structural changes and
// keeps the mount runtime's tracking table consistent with them: removed
// subtrees get their mounted roots torn down, added subtrees get scanned.
// The observer consumes the document's mutation records over a channel, so
// the runtime never couples to how the host mutates the tree.
package observer

import (
	"context"
	"fmt"
	"sync"

	"github.com/anchor-ui/anchor/internal/diagnostics"
	"github.com/anchor-ui/anchor/internal/dom"
	enginerr "github.com/anchor-ui/anchor/internal/errors"
	"github.com/anchor-ui/anchor/internal/logging"
	"github.com/anchor-ui/anchor/internal/runtime"
	"golang.org/x/net/html"
)

// MountRuntime is the slice of the runtime the observer needs. It is an
// interface so tests can stub the runtime out.
type MountRuntime interface {
	Entries() []*runtime.RootEntry
	Unmount(node *html.Node)
	Scan(ctx context.Context, root *html.Node)
}

// Observer reacts to host document mutations.
type Observer struct {
	runtime  MountRuntime
	reporter diagnostics.Reporter
	logger   logging.Logger
	scanAdds bool
}

// Option configures an Observer.
type Option func(*Observer)

// WithoutAddedScan disables scanning of added subtrees; removals are still
// processed. Hosts that never inject markup after load can opt out.
func WithoutAddedScan() Option {
	return func(o *Observer) { o.scanAdds = false }
}

// New creates an observer feeding the given runtime.
func New(rt MountRuntime, reporter diagnostics.Reporter, logger logging.Logger, opts ...Option) *Observer {
	if reporter == nil {
		reporter = diagnostics.Discard
	}
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	o := &Observer{
		runtime:  rt,
		reporter: reporter,
		logger:   logger.WithComponent("observer"),
		scanAdds: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle controls a running watch.
type Handle struct {
	stop sync.Once
	off  func()
	done chan struct{}
}

// Stop ends observation and waits for the watch goroutine to drain.
func (h *Handle) Stop() {
	h.stop.Do(h.off)
	<-h.done
}

// Watch begins monitoring structural mutations of doc until Stop is called
// or ctx is canceled.
func (o *Observer) Watch(ctx context.Context, doc *dom.Document) *Handle {
	ch := doc.Subscribe()
	watchCtx, cancel := context.WithCancel(ctx)

	h := &Handle{
		off:  func() { cancel(); doc.Unsubscribe(ch) },
		done: make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		for {
			select {
			case <-watchCtx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				o.handle(watchCtx, m)
			}
		}
	}()

	return h
}

// handle processes one mutation record. A failure while classifying or
// acting on a single record is contained and reported; observation
// continues with the next record.
func (o *Observer) handle(ctx context.Context, m dom.Mutation) {
	defer func() {
		if rec := recover(); rec != nil {
			o.reporter.Report(diagnostics.Record{
				Severity: diagnostics.SeverityError,
				Message:  "mutation record processing failed",
				Err:      enginerr.Wrap(enginerr.KindObserver, "", "record panic", fmt.Errorf("%v", rec)),
			})
		}
	}()

	switch m.Kind {
	case dom.NodesRemoved:
		o.handleRemoved(m.Node)
	case dom.NodesAdded:
		if o.scanAdds {
			o.runtime.Scan(ctx, m.Node)
		}
	default:
		o.logger.Debug(ctx, "ignoring unknown mutation kind", "kind", int(m.Kind))
	}
}

// handleRemoved tears down every tracked root whose container is, or is
// inside, the removed subtree.
func (o *Observer) handleRemoved(removed *html.Node) {
	if removed == nil {
		return
	}
	for _, entry := range o.runtime.Entries() {
		if dom.Contains(removed, entry.Container) {
			o.runtime.Unmount(entry.Container)
		}
	}
}
