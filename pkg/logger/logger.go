package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
)

var (
	debugEnabled atomic.Bool

	outMu       sync.Mutex
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	debugLogger *log.Logger
)

func init() {
	SetOutput(os.Stderr)
}

// SetOutput redirects every level to w. Mostly useful in tests.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	infoLogger = log.New(w, "", log.LstdFlags)
	warnLogger = log.New(w, "[WARN] ", log.LstdFlags)
	errorLogger = log.New(w, "[ERROR] ", log.LstdFlags)
	debugLogger = log.New(w, "[DEBUG] ", log.LstdFlags)
}

// SetDebug enables or disables debug logging
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether debug output is on.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Info logs an informational message
func Info(format string, args ...any) {
	infoLogger.Printf(format, args...)
}

// Warn logs a condition that was absorbed and did not interrupt the user.
func Warn(format string, args ...any) {
	warnLogger.Printf(format, args...)
}

// Error logs an error message
func Error(format string, args ...any) {
	errorLogger.Printf(format, args...)
}

// Debug logs a debug message if debug logging is enabled
func Debug(format string, args ...any) {
	if debugEnabled.Load() {
		debugLogger.Printf(format, args...)
	}
}

// Fatal logs an error message and exits with status 1
func Fatal(format string, args ...any) {
	errorLogger.Printf(format, args...)
	os.Exit(1)
}

// Logger prefixes every line with a component name, e.g. "route: ".
type Logger struct {
	prefix string
}

// New returns a component logger. The component shows up as "<name>: " in front
// of each message.
func New(component string) *Logger {
	if component == "" {
		return &Logger{}
	}
	return &Logger{prefix: component + ": "}
}

func (l *Logger) Info(format string, args ...any) {
	Info("%s%s", l.prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	Warn("%s%s", l.prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	Error("%s%s", l.prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) {
	if debugEnabled.Load() {
		Debug("%s%s", l.prefix, fmt.Sprintf(format, args...))
	}
}
