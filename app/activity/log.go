package activity

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelInfo     Level = "info"
	LevelSuccess  Level = "success"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelProgress Level = "progress"
)

const (
	DefaultCapacity  = 500
	DefaultQueueSize = 256
)

type Entry struct {
	ID        string         `json:"id"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives entries on the dispatcher goroutine, never on the caller's.
type Sink interface {
	Write(entry Entry)
}

// Log is the process-wide event sink. Emit never blocks: entries land in a
// bounded ring buffer synchronously and are handed to sinks through a bounded
// queue that drops on overflow.
type Log struct {
	mu      sync.RWMutex
	ring    []Entry
	next    int
	size    int
	sinks   []Sink
	queue   chan Entry
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
	now     func() time.Time
}

func New(capacity int, sinks ...Sink) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	l := &Log{
		ring:  make([]Entry, capacity),
		sinks: sinks,
		queue: make(chan Entry, DefaultQueueSize),
		done:  make(chan struct{}),
		now:   time.Now,
	}

	go l.dispatch()

	return l
}

func (l *Log) Emit(level Level, message string, metadata map[string]any) {
	entry := Entry{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		Metadata:  metadata,
		Timestamp: l.now().UTC(),
	}

	l.mu.Lock()
	l.ring[l.next] = entry
	l.next = (l.next + 1) % len(l.ring)
	if l.size < len(l.ring) {
		l.size++
	}
	l.mu.Unlock()

	if l.closed.Load() || len(l.sinks) == 0 {
		return
	}

	defer func() {
		// send on a queue closed concurrently by Close
		if recover() != nil {
			l.dropped.Add(1)
		}
	}()

	select {
	case l.queue <- entry:
	default:
		l.dropped.Add(1)
	}
}

func (l *Log) Info(message string, args ...any) {
	l.Emit(LevelInfo, message, pairs(args))
}

func (l *Log) Success(message string, args ...any) {
	l.Emit(LevelSuccess, message, pairs(args))
}

func (l *Log) Warning(message string, args ...any) {
	l.Emit(LevelWarning, message, pairs(args))
}

func (l *Log) Error(message string, args ...any) {
	l.Emit(LevelError, message, pairs(args))
}

func (l *Log) Progress(message string, args ...any) {
	l.Emit(LevelProgress, message, pairs(args))
}

// Recent returns up to n entries, newest first. n <= 0 returns everything buffered.
func (l *Log) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > l.size {
		n = l.size
	}

	entries := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.ring)) % len(l.ring)
		entries = append(entries, l.ring[idx])
	}
	return entries
}

// RecentByLevel filters the buffered entries, newest first.
func (l *Log) RecentByLevel(level Level) []Entry {
	var entries []Entry
	for _, entry := range l.Recent(0) {
		if entry.Level == level {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (l *Log) Dropped() int64 {
	return l.dropped.Load()
}

// Close drains queued entries to the sinks and stops the dispatcher.
func (l *Log) Close() {
	if l.closed.Swap(true) {
		return
	}
	close(l.queue)
	<-l.done
}

func (l *Log) dispatch() {
	defer close(l.done)

	for entry := range l.queue {
		for _, sink := range l.sinks {
			deliver(sink, entry)
		}
	}
}

func deliver(sink Sink, entry Entry) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Activity sink panicked", "level", string(entry.Level), "panic", fmt.Sprint(r))
		}
	}()
	sink.Write(entry)
}

func pairs(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}

	metadata := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 < len(args) {
			metadata[key] = args[i+1]
		} else {
			metadata[key] = nil
		}
	}
	return metadata
}
