// Package logging provides the structured JSON logger used by every agentcast
// component. Entries go to stderr and optionally to a rotating file and to
// Google Cloud Logging.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels for structured logs
type Severity string

const (
	SeverityDebug   Severity = "DEBUG"
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Entry is a single structured log line.
type Entry struct {
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Agent     string            `json:"agent,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Fields    map[string]any    `json:"fields,omitempty"`
}

// Sink receives every entry in addition to the line writer.
type Sink interface {
	Write(entry Entry) error
	Flush() error
	Close() error
}

// Logger writes JSON lines and fans entries out to optional sinks.
// A nil *Logger discards everything.
type Logger struct {
	writer    io.Writer
	agent     string
	labels    map[string]string
	sanitizer *Sanitizer
	sinks     []Sink
	closers   []io.Closer
	verbose   bool
	now       func() time.Time

	mu     sync.Mutex
	closed bool
}

// Option configures a Logger.
type Option func(*Logger)

// WithWriter sets the line writer (stderr by default).
func WithWriter(w io.Writer) Option {
	return func(l *Logger) {
		l.writer = w
	}
}

// WithLabels adds labels to every entry.
func WithLabels(labels map[string]string) Option {
	return func(l *Logger) {
		for k, v := range labels {
			l.labels[k] = v
		}
	}
}

// WithSanitizer replaces the default sanitizer.
func WithSanitizer(s *Sanitizer) Option {
	return func(l *Logger) {
		l.sanitizer = s
	}
}

// WithSink adds a sink such as the Cloud Logging sink.
func WithSink(s Sink) Option {
	return func(l *Logger) {
		if s != nil {
			l.sinks = append(l.sinks, s)
		}
	}
}

// WithVerbose enables DEBUG entries.
func WithVerbose(v bool) Option {
	return func(l *Logger) {
		l.verbose = v
	}
}

// RotateConfig configures the rotating log file.
type RotateConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// WithRotatingFile tees entries into a size-rotated file.
func WithRotatingFile(cfg RotateConfig) Option {
	return func(l *Logger) {
		if cfg.Path == "" {
			return
		}
		file := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		l.writer = io.MultiWriter(l.writer, file)
		l.closers = append(l.closers, file)
	}
}

// New creates a logger for an agent.
func New(agent string, opts ...Option) *Logger {
	l := &Logger{
		writer:    os.Stderr,
		agent:     agent,
		labels:    map[string]string{"component": "agentcast"},
		sanitizer: NewSanitizer(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Nop returns a logger that discards output.
func Nop() *Logger {
	return New("", WithWriter(io.Discard))
}

// Sanitizer exposes the sanitizer so callers can register fetched secrets.
func (l *Logger) Sanitizer() *Sanitizer {
	if l == nil {
		return nil
	}
	return l.sanitizer
}

// Log writes a structured log entry.
func (l *Logger) Log(severity Severity, message string, fields map[string]any) {
	l.write(severity, message, nil, fields)
}

// LogWithLabels writes an entry with extra labels merged over the defaults.
func (l *Logger) LogWithLabels(severity Severity, message string, labels map[string]string) {
	l.write(severity, message, labels, nil)
}

func (l *Logger) write(severity Severity, message string, extra map[string]string, fields map[string]any) {
	if l == nil {
		return
	}
	if severity == SeverityDebug && !l.verbose {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	labels := l.labels
	if len(extra) > 0 {
		labels = make(map[string]string, len(l.labels)+len(extra))
		for k, v := range l.labels {
			labels[k] = v
		}
		for k, v := range l.sanitizer.SanitizeMap(extra) {
			labels[k] = v
		}
	}

	entry := Entry{
		Severity:  severity,
		Message:   l.sanitizer.Sanitize(message),
		Timestamp: l.now().UTC(),
		Agent:     l.agent,
		Labels:    labels,
		Fields:    fields,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.writer, `{"severity":"ERROR","message":"failed to marshal log entry: %v"}`+"\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)

	for _, sink := range l.sinks {
		if err := sink.Write(entry); err != nil {
			fmt.Fprintf(l.writer, `{"severity":"WARNING","message":"log sink write failed: %s"}`+"\n", err)
		}
	}
}

// Debug writes a DEBUG entry when verbose logging is enabled.
func (l *Logger) Debug(message string) { l.Log(SeverityDebug, message, nil) }

// Debugf formats and writes a DEBUG entry.
func (l *Logger) Debugf(format string, args ...any) {
	l.Log(SeverityDebug, fmt.Sprintf(format, args...), nil)
}

// Info writes an INFO entry.
func (l *Logger) Info(message string) { l.Log(SeverityInfo, message, nil) }

// Infof formats and writes an INFO entry.
func (l *Logger) Infof(format string, args ...any) {
	l.Log(SeverityInfo, fmt.Sprintf(format, args...), nil)
}

// Warning writes a WARNING entry.
func (l *Logger) Warning(message string) { l.Log(SeverityWarning, message, nil) }

// Warningf formats and writes a WARNING entry.
func (l *Logger) Warningf(format string, args ...any) {
	l.Log(SeverityWarning, fmt.Sprintf(format, args...), nil)
}

// Error writes an ERROR entry.
func (l *Logger) Error(message string) { l.Log(SeverityError, message, nil) }

// Errorf formats and writes an ERROR entry.
func (l *Logger) Errorf(format string, args ...any) {
	l.Log(SeverityError, fmt.Sprintf(format, args...), nil)
}

// Flush flushes every sink.
func (l *Logger) Flush() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, sink := range l.sinks {
		if err := sink.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes and closes sinks and the rotating file. Later writes are dropped.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var firstErr error
	for _, sink := range l.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
