// Package logging is the process-wide structured logger: colored or plain
// terminal output, an optional JSONL file and in-process subscribers.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Fields  map[string]any
}

// Logger is safe for concurrent use and a nil *Logger discards everything.
// Loggers derived with With share sinks and subscribers with their parent.
type Logger struct {
	out    *outputs
	fields []slog.Attr
}

type outputs struct {
	debug    atomic.Bool
	terminal atomic.Bool
	pretty   bool

	writeMu sync.Mutex
	w       io.Writer

	mu     sync.RWMutex
	file   *jsonlSink
	nextID int
	subs   map[int]func(Event)
}

func New(debug bool) *Logger {
	o := &outputs{pretty: shouldPrettyPrint(), w: os.Stderr, subs: map[int]func(Event){}}
	o.debug.Store(debug)
	o.terminal.Store(true)
	return &Logger{out: o}
}

// With returns a logger that prepends fields to every event.
func (l *Logger) With(fields ...slog.Attr) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{out: l.out, fields: append(append([]slog.Attr(nil), l.fields...), fields...)}
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil {
		return
	}
	l.log(slog.LevelDebug, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Debug(msg string, fields ...slog.Attr) { l.log(slog.LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...slog.Attr)  { l.log(slog.LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...slog.Attr)  { l.log(slog.LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...slog.Attr) { l.log(slog.LevelError, msg, fields) }

func (l *Logger) SetDebugEnabled(enabled bool) {
	if l != nil {
		l.out.debug.Store(enabled)
	}
}

func (l *Logger) SetTerminalOutputEnabled(enabled bool) {
	if l != nil {
		l.out.terminal.Store(enabled)
	}
}

// EnableFilePersistence starts writing every event, debug included, to JSONL
// files under dir. An empty dir means DefaultLogDirPath.
func (l *Logger) EnableFilePersistence(dir string) error {
	if l == nil {
		return nil
	}
	sink, err := newJSONLSink(dir, 0)
	if err != nil {
		return err
	}
	return l.swapFile(sink)
}

// Close stops file persistence. Terminal output and subscribers keep working.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.swapFile(nil)
}

func (l *Logger) swapFile(sink *jsonlSink) error {
	l.out.mu.Lock()
	old := l.out.file
	l.out.file = sink
	l.out.mu.Unlock()
	if old == nil {
		return nil
	}
	return old.Close()
}

// Subscribe registers fn for every event shown on the terminal and returns a
// function that removes it. fn runs on the logging goroutine.
func (l *Logger) Subscribe(fn func(Event)) func() {
	if l == nil {
		panic("logging.Logger.Subscribe: logger must not be nil")
	}
	if fn == nil {
		panic("logging.Logger.Subscribe: callback must not be nil")
	}
	o := l.out
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

func (l *Logger) log(level slog.Level, msg string, attrs []slog.Attr) {
	if l == nil {
		return
	}
	if len(l.fields) > 0 {
		attrs = append(append(make([]slog.Attr, 0, len(l.fields)+len(attrs)), l.fields...), attrs...)
	}
	event := Event{Time: time.Now(), Level: level, Message: msg, Fields: fieldMap(attrs)}

	o := l.out
	o.mu.RLock()
	file := o.file
	subs := make([]func(Event), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.RUnlock()

	if file != nil {
		_ = file.Write(event)
	}
	// Debug events always reach the file but only surface elsewhere in debug mode.
	if level <= slog.LevelDebug && !o.debug.Load() {
		return
	}
	if o.terminal.Load() {
		o.print(event)
	}
	for _, fn := range subs {
		fn(event)
	}
}

func (o *outputs) print(event Event) {
	var line string
	if o.pretty {
		line = formatEventPretty(event)
	} else {
		line = FormatEventLine(event)
	}
	o.writeMu.Lock()
	_, _ = io.WriteString(o.w, line)
	o.writeMu.Unlock()
}
