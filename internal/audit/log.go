// Package audit implements the append-only lifecycle event log.
//
// Every event is one line written with a single O_APPEND write, so
// concurrent writers from separate processes interleave at line granularity
// without a lock. Before each write the active file is checked against the
// size threshold and rotated into numbered backups (audit.log.1 is the
// newest) when it has reached it.
package audit

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hal9000-dev/hal9000/internal/logging"
)

const (
	// FileName is the active audit log inside the logs directory.
	FileName = "audit.log"

	DefaultMaxSize  int64 = 10 * 1024 * 1024
	DefaultMaxFiles       = 5

	// tailSeek bounds how much of an existing log is read to recover the
	// last written timestamp.
	tailSeek = 4096
)

// Log appends events to a size-rotated file.
type Log struct {
	path     string
	maxSize  int64
	maxFiles int
	actor    string
	now      func() time.Time
	logger   *logging.Logger

	mu     sync.Mutex
	last   time.Time
	seeded bool
}

// Option configures a Log.
type Option func(*Log)

// WithMaxSize sets the rotation threshold in bytes.
func WithMaxSize(n int64) Option {
	return func(l *Log) {
		if n > 0 {
			l.maxSize = n
		}
	}
}

// WithMaxFiles sets how many rotated files are retained.
func WithMaxFiles(n int) Option {
	return func(l *Log) {
		if n >= 0 {
			l.maxFiles = n
		}
	}
}

// WithActor overrides the detected actor identity.
func WithActor(actor string) Option {
	return func(l *Log) {
		if actor != "" {
			l.actor = actor
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger that receives Record failures.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New returns a Log writing to path. Nothing is created until the first
// append.
func New(path string, opts ...Option) *Log {
	l := &Log{
		path:     path,
		maxSize:  DefaultMaxSize,
		maxFiles: DefaultMaxFiles,
		now:      time.Now,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.actor == "" {
		l.actor = Actor()
	}
	return l
}

// Path returns the active log file path.
func (l *Log) Path() string { return l.path }

// Append writes one event. The error is informational: callers must not
// abort the operation being described because of it.
func (l *Log) Append(eventType EventType, resource string, details ...Detail) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	if err := l.rotateIfNeeded(); err != nil {
		return err
	}

	ev := Event{
		Timestamp: l.timestamp(),
		Type:      eventType,
		Actor:     l.actor,
		Resource:  resource,
		Details:   details,
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(ev.Line() + "\n"); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Record appends an event and logs any failure at WARN instead of returning it.
func (l *Log) Record(eventType EventType, resource string, details ...Detail) {
	if err := l.Append(eventType, resource, details...); err != nil {
		l.logger.Warn("audit write failed",
			"event", string(eventType),
			"resource", resource,
			"error", err.Error(),
		)
	}
}

func (l *Log) rotateIfNeeded() error {
	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat audit log: %w", err)
	}
	if info.Size() < l.maxSize {
		return nil
	}
	if err := logging.RotateFile(l.path, l.maxFiles); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}
	return nil
}

// timestamp returns the current time truncated to milliseconds, never
// earlier than the last timestamp this Log wrote or found in the file.
func (l *Log) timestamp() time.Time {
	if !l.seeded {
		l.seeded = true
		if ts, ok := lastTimestamp(l.path); ok {
			l.last = ts
		}
	}
	ts := l.now().UTC().Truncate(time.Millisecond)
	if ts.Before(l.last) {
		ts = l.last
	}
	l.last = ts
	return ts
}

func lastTimestamp(path string) (time.Time, bool) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return time.Time{}, false
	}
	offset := max(info.Size()-tailSeek, 0)
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return time.Time{}, false
	}

	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if ev, err := ParseLine(lines[i]); err == nil {
			return ev.Timestamp, true
		}
	}
	return time.Time{}, false
}

// Filter selects events for Query and Counts. Zero fields match everything.
type Filter struct {
	Since     time.Time // inclusive
	Until     time.Time // exclusive
	EventType string    // substring of the event type
	Resource  string    // exact resource name
	Limit     int       // keep only the most recent Limit matches
}

func (f Filter) match(ev Event) bool {
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !ev.Timestamp.Before(f.Until) {
		return false
	}
	if f.EventType != "" && !strings.Contains(string(ev.Type), f.EventType) {
		return false
	}
	if f.Resource != "" && ev.Resource != f.Resource {
		return false
	}
	return true
}

// Files returns the existing log files oldest first: the highest numbered
// backup down to .1, then the active file.
func (l *Log) Files() []string {
	var files []string
	for i := l.maxFiles; i >= 1; i-- {
		p := logging.BackupPath(l.path, i)
		if _, err := os.Stat(p); err == nil {
			files = append(files, p)
		}
	}
	if _, err := os.Stat(l.path); err == nil {
		files = append(files, l.path)
	}
	return files
}

// Query returns matching events in log order. Lines that do not parse are
// skipped.
func (l *Log) Query(f Filter) ([]Event, error) {
	var events []Event
	for _, path := range l.Files() {
		if err := scanFile(path, func(ev Event) {
			if f.match(ev) {
				events = append(events, ev)
			}
		}); err != nil {
			return nil, err
		}
	}
	if f.Limit > 0 && len(events) > f.Limit {
		events = events[len(events)-f.Limit:]
	}
	return events, nil
}

// Counts returns the number of matching events per event type. Limit is
// ignored.
func (l *Log) Counts(f Filter) (map[EventType]int, error) {
	f.Limit = 0
	events, err := l.Query(f)
	if err != nil {
		return nil, err
	}
	counts := make(map[EventType]int)
	for _, ev := range events {
		counts[ev.Type]++
	}
	return counts, nil
}

// SortedTypes returns the keys of a Counts result in name order.
func SortedTypes(counts map[EventType]int) []EventType {
	types := make([]EventType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func scanFile(path string, fn func(Event)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ev, err := ParseLine(scanner.Text())
		if err != nil {
			continue
		}
		fn(ev)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}
