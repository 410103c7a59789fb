// logger/logger.go
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// Fields is an alias so callers don't need to import logrus for structured lines.
type Fields = logrus.Fields

type Logger struct {
	console  *logrus.Logger
	file     *logrus.Logger
	handle   *os.File
	minLevel LogLevel
}

var (
	defaultLogger *Logger
	mu            sync.Mutex
)

// ensureInitialized creates a console-only logger if Init was never called.
// Callers hold mu.
func ensureInitialized() {
	if defaultLogger == nil {
		defaultLogger = &Logger{console: newConsole(os.Stdout), minLevel: DEBUG}
		defaultLogger.applyLevel()
	}
}

func newConsole(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05",
	})
	return l
}

func newFile(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05",
	})
	return l
}

// Init initializes the logger with optional file and console output
// If filename is empty, logs only to console
// If console is false, logs only to file
func Init(filename string, console bool) error {
	mu.Lock()
	defer mu.Unlock()

	if defaultLogger != nil && defaultLogger.handle != nil {
		defaultLogger.handle.Close()
	}

	l := &Logger{minLevel: DEBUG}
	if filename != "" {
		file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		l.handle = file
		l.file = newFile(file)
	}
	if console {
		l.console = newConsole(os.Stdout)
	}
	if l.file == nil && l.console == nil {
		return fmt.Errorf("no output destination specified")
	}

	if defaultLogger != nil {
		l.minLevel = defaultLogger.minLevel
	}
	l.applyLevel()
	defaultLogger = l
	return nil
}

// SetLevel sets the minimum log level (DEBUG, INFO, WARN, ERROR)
// Messages below this level will not be logged
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	ensureInitialized()
	defaultLogger.minLevel = level
	defaultLogger.applyLevel()
}

// ParseLevel maps "debug", "info", "warn" and "error" to a LogLevel. Unknown
// values fall back to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// SetOutput redirects console output, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	ensureInitialized()
	defaultLogger.console = newFile(w)
	defaultLogger.applyLevel()
}

func (l *Logger) applyLevel() {
	lvl := toLogrus(l.minLevel)
	if l.console != nil {
		l.console.SetLevel(lvl)
	}
	if l.file != nil {
		l.file.SetLevel(lvl)
	}
}

func toLogrus(level LogLevel) logrus.Level {
	switch level {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Close closes the log file if one is open
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if defaultLogger != nil && defaultLogger.handle != nil {
		defaultLogger.handle.Close()
		defaultLogger.handle = nil
		defaultLogger.file = nil
	}
}

func current() *Logger {
	mu.Lock()
	defer mu.Unlock()
	ensureInitialized()
	snapshot := *defaultLogger
	return &snapshot
}

func (l *Logger) output(level LogLevel, fields Fields, msg string) {
	if level < l.minLevel {
		return
	}
	for _, out := range []*logrus.Logger{l.console, l.file} {
		if out == nil {
			continue
		}
		entry := logrus.NewEntry(out)
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Log(toLogrus(level), msg)
	}
}

// Debug logs a debug message
func Debug(v ...interface{}) {
	current().output(DEBUG, nil, fmt.Sprint(v...))
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...interface{}) {
	current().output(DEBUG, nil, fmt.Sprintf(format, v...))
}

// Info logs an info message
func Info(v ...interface{}) {
	current().output(INFO, nil, fmt.Sprint(v...))
}

// Infof logs a formatted info message
func Infof(format string, v ...interface{}) {
	current().output(INFO, nil, fmt.Sprintf(format, v...))
}

// Warn logs a warning message
func Warn(v ...interface{}) {
	current().output(WARN, nil, fmt.Sprint(v...))
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...interface{}) {
	current().output(WARN, nil, fmt.Sprintf(format, v...))
}

// Error logs an error message
func Error(v ...interface{}) {
	current().output(ERROR, nil, fmt.Sprint(v...))
}

// Errorf logs a formatted error message
func Errorf(format string, v ...interface{}) {
	current().output(ERROR, nil, fmt.Sprintf(format, v...))
}

// Fatal logs an error message and exits the program
func Fatal(v ...interface{}) {
	current().output(ERROR, nil, fmt.Sprint(v...))
	os.Exit(1)
}

// Fatalf logs a formatted error message and exits the program
func Fatalf(format string, v ...interface{}) {
	current().output(ERROR, nil, fmt.Sprintf(format, v...))
	os.Exit(1)
}

// Entry carries structured fields for a group of related log lines.
type Entry struct {
	fields Fields
}

// WithFields returns an Entry that attaches fields to every line it logs.
func WithFields(fields Fields) Entry {
	return Entry{fields: fields}
}

func (e Entry) Debugf(format string, v ...interface{}) {
	current().output(DEBUG, e.fields, fmt.Sprintf(format, v...))
}

func (e Entry) Infof(format string, v ...interface{}) {
	current().output(INFO, e.fields, fmt.Sprintf(format, v...))
}

func (e Entry) Warnf(format string, v ...interface{}) {
	current().output(WARN, e.fields, fmt.Sprintf(format, v...))
}

func (e Entry) Errorf(format string, v ...interface{}) {
	current().output(ERROR, e.fields, fmt.Sprintf(format, v...))
}
