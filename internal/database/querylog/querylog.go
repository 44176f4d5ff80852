// Package querylog records query and execute timings for every adapter
// that shares a *Logger. It keeps a bounded in-memory ring of entries;
// no network or disk I/O happens here. A production consumer flushes
// entries to durable storage through the handler hook (see ObjectSink).
package querylog

import (
	"sync"
	"time"
)

// EntryType distinguishes reads from mutations.
type EntryType string

const (
	TypeQuery   EntryType = "query"
	TypeExecute EntryType = "execute"
)

// Entry is one recorded statement.
type Entry struct {
	Type      EntryType
	Statement string
	Params    []any
	Duration  time.Duration
	Timestamp time.Time
	Slow      bool
	Error     string // empty on success
}

// Stats aggregates the retained entries.
type Stats struct {
	Total           int
	Slow            int
	Errors          int
	AverageDuration time.Duration
}

// Handler receives every entry as it is logged. Invoked synchronously,
// fire-and-forget: its return is ignored and it must not block.
type Handler func(Entry)

const (
	// DefaultMaxEntries bounds the ring buffer; the oldest entry is
	// evicted on overflow.
	DefaultMaxEntries = 1000

	// DefaultSlowThreshold marks entries as slow.
	DefaultSlowThreshold = time.Second
)

// Logger retains a bounded FIFO of query log entries. It is safe for
// concurrent use and may be shared across multiple adapter instances
// (adapters hold it by reference, never own it).
type Logger struct {
	mu            sync.Mutex
	entries       []Entry
	start         int // ring read position
	count         int
	maxEntries    int
	slowThreshold time.Duration
	handler       Handler
	enabled       bool
}

// Option configures a Logger.
type Option func(*Logger)

// WithMaxEntries overrides the ring capacity.
func WithMaxEntries(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.maxEntries = n
		}
	}
}

// WithSlowThreshold overrides the slow-query threshold.
func WithSlowThreshold(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.slowThreshold = d
		}
	}
}

// WithHandler registers a callback invoked for every logged entry.
func WithHandler(h Handler) Option {
	return func(l *Logger) {
		l.handler = h
	}
}

// Disabled turns all logging activity off; every method becomes a no-op
// returning zero values.
func Disabled() Option {
	return func(l *Logger) {
		l.enabled = false
	}
}

// New creates an enabled Logger with default capacity and threshold.
func New(opts ...Option) *Logger {
	l := &Logger{
		maxEntries:    DefaultMaxEntries,
		slowThreshold: DefaultSlowThreshold,
		enabled:       true,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.entries = make([]Entry, 0, l.maxEntries)
	return l
}

// Log appends an entry, marking it slow when duration exceeds the
// threshold. err may be nil.
func (l *Logger) Log(t EntryType, statement string, params []any, duration time.Duration, err error) {
	if l == nil {
		return
	}

	l.mu.Lock()
	if !l.enabled {
		l.mu.Unlock()
		return
	}

	e := Entry{
		Type:      t,
		Statement: statement,
		Params:    params,
		Duration:  duration,
		Timestamp: time.Now(),
		Slow:      duration > l.slowThreshold,
	}
	if err != nil {
		e.Error = err.Error()
	}

	if l.count < l.maxEntries {
		l.entries = append(l.entries, e)
		l.count++
	} else {
		// Overwrite the oldest entry.
		l.entries[l.start] = e
		l.start = (l.start + 1) % l.maxEntries
	}
	handler := l.handler
	l.mu.Unlock()

	if handler != nil {
		handler(e)
	}
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Logger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, l.count)
	for i := 0; i < l.count; i++ {
		out = append(out, l.entries[(l.start+i)%l.maxEntries])
	}
	return out
}

// SlowQueries returns retained entries slower than threshold. A zero
// threshold uses the logger's configured slow threshold.
func (l *Logger) SlowQueries(threshold time.Duration) []Entry {
	l.mu.Lock()
	if threshold <= 0 {
		threshold = l.slowThreshold
	}
	l.mu.Unlock()

	var out []Entry
	for _, e := range l.Entries() {
		if e.Duration > threshold {
			out = append(out, e)
		}
	}
	return out
}

// Stats aggregates the retained entries.
func (l *Logger) Stats() Stats {
	entries := l.Entries()

	s := Stats{Total: len(entries)}
	var total time.Duration
	for _, e := range entries {
		if e.Slow {
			s.Slow++
		}
		if e.Error != "" {
			s.Errors++
		}
		total += e.Duration
	}
	if s.Total > 0 {
		s.AverageDuration = total / time.Duration(s.Total)
	}
	return s
}
