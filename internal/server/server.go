// Package server is the development server of the demo: it hydrates a host
// page with the widget engine, serves the result, and pushes live-reload
// messages to connected browsers when the page changes on disk.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anchor-ui/anchor/internal/config"
	"github.com/anchor-ui/anchor/internal/diagnostics"
	"github.com/anchor-ui/anchor/internal/dom"
	"github.com/anchor-ui/anchor/internal/isolation"
	"github.com/anchor-ui/anchor/internal/logging"
	"github.com/anchor-ui/anchor/internal/observer"
	"github.com/anchor-ui/anchor/internal/registry"
	"github.com/anchor-ui/anchor/internal/runtime"
	"github.com/anchor-ui/anchor/internal/types"
	"github.com/anchor-ui/anchor/internal/watcher"
)

// session is one loaded page with its runtime and observer. Replacing the
// page replaces the whole session; the old one is torn down completely.
type session struct {
	doc    *dom.Document
	rt     *runtime.Runtime
	handle *observer.Handle
}

// Server serves one hydrated host page with live reload.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	reporter diagnostics.Reporter
	logger   logging.Logger

	pagePath string

	mutex   sync.RWMutex
	session *session

	hub *reloadHub
}

// New creates a server for the given page file.
func New(cfg *config.Config, reg *registry.Registry, reporter diagnostics.Reporter, logger logging.Logger, pagePath string) *Server {
	if reporter == nil {
		reporter = diagnostics.Discard
	}
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	return &Server{
		cfg:      cfg,
		registry: reg,
		reporter: reporter,
		logger:   logger.WithComponent("server"),
		pagePath: pagePath,
		hub:      newReloadHub(logger),
	}
}

// LoadPage (re)loads the host page from disk: the previous session is torn
// down completely, then the new document is watched and scanned. Watching
// starts before the initial scan so no removal can slip between them.
func (s *Server) LoadPage(ctx context.Context) error {
	data, err := os.ReadFile(s.pagePath)
	if err != nil {
		return fmt.Errorf("reading page %s: %w", s.pagePath, err)
	}

	doc, err := dom.Parse(bytes.NewReader(data),
		dom.WithWidgetAttr(s.cfg.Engine.WidgetAttr),
		dom.WithPropsAttr(s.cfg.Engine.PropsAttr),
	)
	if err != nil {
		return fmt.Errorf("parsing page %s: %w", s.pagePath, err)
	}

	rt := runtime.New(doc, s.registry, s.reporter, s.logger)

	var opts []observer.Option
	if !s.cfg.Engine.ScanOnAdd {
		opts = append(opts, observer.WithoutAddedScan())
	}
	handle := observer.New(rt, s.reporter, s.logger, opts...).Watch(ctx, doc)

	rt.Scan(ctx, nil)
	rt.Wait()

	s.mutex.Lock()
	old := s.session
	s.session = &session{doc: doc, rt: rt, handle: handle}
	s.mutex.Unlock()

	if old != nil {
		old.handle.Stop()
		old.rt.UnmountAll()
	}

	s.logger.Info(ctx, "page loaded", "page", s.pagePath, "mounted", rt.Len())
	return nil
}

// Close tears the current session down; every mounted root is released.
func (s *Server) Close() {
	s.mutex.Lock()
	sess := s.session
	s.session = nil
	s.mutex.Unlock()

	if sess != nil {
		sess.handle.Stop()
		sess.rt.UnmountAll()
	}
	s.hub.closeAll()
}

func (s *Server) current() *session {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.session
}

// Handler returns the HTTP handler tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.hub.handleWS)
	mux.HandleFunc("/api/widgets", s.handleWidgets)
	mux.HandleFunc("/api/retry", s.handleRetry)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)
	return mux
}

const reloadScript = `<script>
(function() {
  var ws = new WebSocket('ws://' + window.location.host + '/ws');
  ws.onmessage = function(event) {
    var message = JSON.parse(event.data);
    if (message.type === 'full_reload') {
      window.location.reload();
    }
  };
})();
</script>`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	sess := s.current()
	if sess == nil {
		http.Error(w, "no page loaded", http.StatusServiceUnavailable)
		return
	}

	page, err := sess.doc.HTML()
	if err != nil {
		http.Error(w, "rendering page: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if idx := strings.LastIndex(page, "</body>"); idx >= 0 {
		page = page[:idx] + reloadScript + page[idx:]
	} else {
		page += reloadScript
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

type widgetStatus struct {
	Widget     string `json:"widget"`
	MountPoint string `json:"mount_point"`
	State      string `json:"state"`
}

func (s *Server) handleWidgets(w http.ResponseWriter, r *http.Request) {
	sess := s.current()

	out := struct {
		Registered []string       `json:"registered"`
		Mounted    []widgetStatus `json:"mounted"`
	}{
		Registered: s.registry.Names(),
		Mounted:    []widgetStatus{},
	}
	if sess != nil {
		for _, entry := range sess.rt.Entries() {
			out.Mounted = append(out.Mounted, widgetStatus{
				Widget:     entry.Widget,
				MountPoint: entry.ID,
				State:      entry.Boundary.State().String(),
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// handleRetry backs the fallback UI's "Try again" button: it resets a failed
// instance and re-attempts resolution and mounting.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("mount")
	if id == "" {
		http.Error(w, "missing mount parameter", http.StatusBadRequest)
		return
	}
	sess := s.current()
	if sess == nil {
		http.Error(w, "no page loaded", http.StatusServiceUnavailable)
		return
	}

	for _, entry := range sess.rt.Entries() {
		if entry.ID == id {
			if !sess.rt.Retry(entry.Container) {
				http.Error(w, "instance is not in a failed state", http.StatusConflict)
				return
			}
			sess.rt.Wait()
			s.hub.broadcast("full_reload")
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.NotFound(w, r)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	collector, ok := s.reporter.(*diagnostics.Collector)
	if !ok {
		http.Error(w, "diagnostics collection disabled", http.StatusNotFound)
		return
	}

	type rec struct {
		Severity   string    `json:"severity"`
		MountPoint string    `json:"mount_point"`
		Widget     string    `json:"widget"`
		Message    string    `json:"message"`
		Error      string    `json:"error,omitempty"`
		Timestamp  time.Time `json:"timestamp"`
	}
	out := make([]rec, 0)
	for _, record := range collector.Records() {
		item := rec{
			Severity:   record.Severity.String(),
			MountPoint: record.MountPoint,
			Widget:     record.Widget,
			Message:    record.Message,
			Timestamp:  record.Timestamp,
		}
		if record.Err != nil {
			item.Error = record.Err.Error()
		}
		out = append(out, item)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// FailedCount reports how many mounted instances are currently failed.
func (s *Server) FailedCount() int {
	sess := s.current()
	if sess == nil {
		return 0
	}
	n := 0
	for _, entry := range sess.rt.Entries() {
		if entry.Boundary.State() == isolation.StateFailed {
			n++
		}
	}
	return n
}

// consumeRegistryEvents surfaces registry changes as info diagnostics and
// pushes a reload so connected browsers pick up late registrations. The loop
// ends when ctx is canceled or the event channel closes.
func (s *Server) consumeRegistryEvents(ctx context.Context, events <-chan types.RegistryEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.reporter.Report(diagnostics.Record{
				Severity: diagnostics.SeverityInfo,
				Widget:   event.Name,
				Message:  "widget " + string(event.Type),
			})
			s.hub.broadcast("full_reload")
		}
	}
}

// Start runs the server until ctx is canceled. The page watcher feeds
// host-edit reloads; browsers connected to /ws reload on push.
func (s *Server) Start(ctx context.Context) error {
	if err := s.LoadPage(ctx); err != nil {
		return err
	}
	defer s.Close()

	regEvents := s.registry.Watch()
	defer s.registry.UnWatch(regEvents)
	go s.consumeRegistryEvents(ctx, regEvents)

	pw, err := watcher.NewPageWatcher(time.Duration(s.cfg.Pages.DebounceMs)*time.Millisecond, s.logger)
	if err != nil {
		return fmt.Errorf("creating page watcher: %w", err)
	}
	defer pw.Stop()

	pw.AddFilter(watcher.PageFilter)
	pw.AddFilter(watcher.NoHiddenFilter)
	if len(s.cfg.Pages.ExcludePatterns) > 0 {
		pw.AddFilter(watcher.ExcludeFilter(s.cfg.Pages.ExcludePatterns))
	}
	pw.AddHandler(func(events []watcher.ChangeEvent) error {
		s.logger.Info(ctx, "page change detected, reloading", "changes", len(events))
		if err := s.LoadPage(ctx); err != nil {
			return err
		}
		s.hub.broadcast("full_reload")
		return nil
	})
	for _, path := range s.cfg.Pages.WatchPaths {
		if err := pw.AddRecursive(path); err != nil {
			s.logger.Warn(ctx, err, "cannot watch path", "path", path)
		}
	}
	pw.Start(ctx)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "dev server listening", "addr", httpServer.Addr, "page", s.pagePath)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
