// Package diagnostics emits and collects structured diagnostic records for
// every skip, parse failure, resolution failure, and contained rendering
// failure in the engine. The engine guarantees emission; transport (console,
// collector, both) is chosen by the caller.
package diagnostics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anchor-ui/anchor/internal/logging"
)

// Severity represents the severity of a diagnostic record
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Record is one diagnostic event tied to a mount point.
type Record struct {
	Severity   Severity
	MountPoint string // identity: widget name plus tree path, e.g. "hero@0.1.2"
	Widget     string
	Message    string
	Err        error
	Timestamp  time.Time
}

// String renders the record for human consumption.
func (r Record) String() string {
	s := fmt.Sprintf("%s: %s", r.Severity, r.Message)
	if r.Widget != "" {
		s = fmt.Sprintf("%s: widget %s: %s", r.Severity, r.Widget, r.Message)
	}
	if r.Err != nil {
		s += ": " + r.Err.Error()
	}
	return s
}

// Reporter receives diagnostic records as they are emitted.
type Reporter interface {
	Report(rec Record)
}

// Collector collects diagnostic records for later inspection. Safe for use
// from the runtime and the observer goroutine concurrently.
type Collector struct {
	mutex   sync.RWMutex
	records []Record
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{records: make([]Record, 0)}
}

// Report adds a record to the collector, stamping it if the caller did not.
func (c *Collector) Report(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.records = append(c.records, rec)
}

// Records returns a copy of all collected records.
func (c *Collector) Records() []Record {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	result := make([]Record, len(c.records))
	copy(result, c.records)
	return result
}

// ByWidget returns records concerning a specific widget name.
func (c *Collector) ByWidget(widget string) []Record {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	var out []Record
	for _, rec := range c.records {
		if rec.Widget == widget {
			out = append(out, rec)
		}
	}
	return out
}

// HasErrors returns true if any record has error severity.
func (c *Collector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for _, rec := range c.records {
		if rec.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Count returns the number of collected records.
func (c *Collector) Count() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.records)
}

// Clear drops all collected records.
func (c *Collector) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.records = c.records[:0]
}

type logReporter struct {
	logger logging.Logger
}

// NewLogReporter forwards records to the structured logger.
func NewLogReporter(logger logging.Logger) Reporter {
	return &logReporter{logger: logger.WithComponent("diagnostics")}
}

func (l *logReporter) Report(rec Record) {
	ctx := context.Background()
	fields := []interface{}{
		"widget", rec.Widget,
		"mount_point", rec.MountPoint,
	}
	switch rec.Severity {
	case SeverityError:
		l.logger.Error(ctx, rec.Err, rec.Message, fields...)
	case SeverityWarning:
		l.logger.Warn(ctx, rec.Err, rec.Message, fields...)
	default:
		l.logger.Info(ctx, rec.Message, fields...)
	}
}

type tee struct {
	reporters []Reporter
}

// Tee fans a record out to multiple reporters.
func Tee(reporters ...Reporter) Reporter {
	return &tee{reporters: reporters}
}

func (t *tee) Report(rec Record) {
	for _, r := range t.reporters {
		r.Report(rec)
	}
}

// Discard is a Reporter that drops every record. Used where a reporter is
// required but output is unwanted.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Report(Record) {}
