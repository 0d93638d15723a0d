package logging

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents log severity level.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

// severityNumbers maps OTEL severity text to OTEL severity number.
// See https://opentelemetry.io/docs/specs/otel/logs/data-model/#severity-fields
var severityNumbers = map[Level]int{
	LevelDebug: 5,  // DEBUG
	LevelInfo:  9,  // INFO
	LevelWarn:  13, // WARN
	LevelError: 17, // ERROR
	LevelFatal: 21, // FATAL
}

// SeverityNumber returns the OTEL severity number for a level.
func SeverityNumber(level Level) int {
	return severityNumbers[level]
}

// ParseLevel converts a flag value like "warn" into a Level.
// Unknown values fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// LogHook is called for every log entry that passes the level filter,
// allowing secondary sinks without the logging package importing them.
type LogHook func(level Level, msg string, attrs map[string]interface{})

// Logger provides JSON structured logging in OTEL-compatible format.
type Logger struct {
	mu       sync.Mutex
	output   io.Writer
	resource map[string]string
	hook     LogHook
	minLevel atomic.Int32
	disabled atomic.Bool
}

// LogEntry represents a single log entry in OTEL-compatible JSON format.
type LogEntry struct {
	Timestamp      string                 `json:"Timestamp"`
	SeverityText   string                 `json:"SeverityText"`
	SeverityNumber int                    `json:"SeverityNumber"`
	Body           string                 `json:"Body"`
	Attributes     map[string]interface{} `json:"Attributes,omitempty"`
	Resource       map[string]string      `json:"Resource,omitempty"`
}

var defaultLogger = newLogger(os.Stdout)

func newLogger(w io.Writer) *Logger {
	l := &Logger{output: w}
	l.minLevel.Store(int32(severityNumbers[LevelInfo]))
	return l
}

// SetOutput sets the output writer for the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.output = w
}

// SetResource sets the OTEL resource attributes (service.name, service.version, etc.)
// for the default logger. Should be called once at startup.
func SetResource(resource map[string]string) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.resource = resource
}

// SetHook registers a hook that is called for every emitted log entry.
func SetHook(hook LogHook) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.hook = hook
}

// SetLevel sets the minimum level written by the default logger.
func SetLevel(level Level) {
	defaultLogger.minLevel.Store(int32(severityNumbers[level]))
}

// SetEnabled switches all SDK log output on or off. Fatal entries are
// always written.
func SetEnabled(enabled bool) {
	defaultLogger.disabled.Store(!enabled)
}

// Enabled reports whether log output is switched on.
func Enabled() bool {
	return !defaultLogger.disabled.Load()
}

// log writes a structured log entry in OTEL-compatible JSON format.
func (l *Logger) log(level Level, msg string, attrs map[string]interface{}) {
	if level != LevelFatal {
		if l.disabled.Load() || int32(severityNumbers[level]) < l.minLevel.Load() {
			return
		}
	}

	entry := LogEntry{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		SeverityText:   string(level),
		SeverityNumber: severityNumbers[level],
		Body:           msg,
		Attributes:     attrs,
	}

	l.mu.Lock()
	if l.resource != nil {
		entry.Resource = l.resource
	}
	hook := l.hook
	data, _ := json.Marshal(entry)
	_, _ = l.output.Write(data)
	_, _ = l.output.Write([]byte("\n"))
	l.mu.Unlock()

	// Call hook outside the lock to avoid deadlocks
	if hook != nil {
		hook(level, msg, attrs)
	}
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug level message.
func Debug(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelDebug, msg, first(fields))
}

// Info logs an info level message.
func Info(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelInfo, msg, first(fields))
}

// Warn logs a warning level message.
func Warn(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelWarn, msg, first(fields))
}

// Error logs an error level message.
func Error(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelError, msg, first(fields))
}

// Fatal logs a fatal level message and exits.
func Fatal(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelFatal, msg, first(fields))
	os.Exit(1)
}

// F is a helper to create fields map.
func F(keyvals ...interface{}) map[string]interface{} {
	fields := make(map[string]interface{})
	for i := 0; i < len(keyvals)-1; i += 2 {
		if key, ok := keyvals[i].(string); ok {
			fields[key] = keyvals[i+1]
		}
	}
	return fields
}
