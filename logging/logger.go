// Package logging provides the leveled, printf-style logger used
// throughout the VBucket data plane: partition state transitions,
// background-fetch failures, command-context tracing and failures, and
// process startup/shutdown all log through here rather than through the
// standard library's log package.
package logging

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"
)

type Level int

const (
	NONE  = Level(iota) // disable all logging
	FATAL               // worker is about to abort
	ERROR               // operation failed but the VBucket remains usable
	WARN                // invariant violation tolerated in a release build
	INFO                // state transitions, manifest updates, checkpoint lifecycle
	DEBUG               // per-request tracing
)

func (level Level) String() string {
	return _levelNames[level]
}

var _levelNames = []string{
	NONE:  "NONE",
	FATAL: "FATAL",
	ERROR: "ERROR",
	WARN:  "WARN",
	INFO:  "INFO",
	DEBUG: "DEBUG",
}

var _levelMap = map[string]Level{
	"none":  NONE,
	"fatal": FATAL,
	"error": ERROR,
	"warn":  WARN,
	"info":  INFO,
	"debug": DEBUG,
}

func ParseLevel(name string) (level Level, ok bool) {
	level, ok = _levelMap[strings.ToLower(name)]
	return
}

// Logger is the pluggable sink; SetLogger swaps it out, defaulting to a
// FileLogger writing to stderr.
type Logger interface {
	Logf(level Level, format string, args ...interface{})
	SetLevel(Level)
	Level() Level
}

var (
	loggerMutex sync.RWMutex
	logger      Logger = NewFileLogger(os.Stderr, INFO)
)

// cached enablement avoids taking loggerMutex on the hot path for levels
// that are disabled; recomputed whenever the level changes.
var (
	cachedError bool
	cachedWarn  bool
	cachedInfo  bool
	cachedDebug bool
)

func cacheLoggingChange(level Level) {
	cachedError = level >= ERROR
	cachedWarn = level >= WARN
	cachedInfo = level >= INFO
	cachedDebug = level >= DEBUG
}

func init() {
	cacheLoggingChange(logger.Level())
}

func SetLogger(l Logger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	logger = l
	if l == nil {
		cacheLoggingChange(NONE)
		return
	}
	cacheLoggingChange(l.Level())
}

func SetLevel(level Level) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	if logger != nil {
		logger.SetLevel(level)
	}
	cacheLoggingChange(level)
}

func LogLevel() Level {
	loggerMutex.RLock()
	defer loggerMutex.RUnlock()
	if logger == nil {
		return NONE
	}
	return logger.Level()
}

func Logf(level Level, format string, args ...interface{}) {
	loggerMutex.RLock()
	l := logger
	loggerMutex.RUnlock()
	if l == nil {
		return
	}
	l.Logf(level, format, args...)
}

func Debugf(format string, args ...interface{}) {
	if !cachedDebug {
		return
	}
	Logf(DEBUG, format, args...)
}

func Infof(format string, args ...interface{}) {
	if !cachedInfo {
		return
	}
	Logf(INFO, format, args...)
}

func Warnf(format string, args ...interface{}) {
	if !cachedWarn {
		return
	}
	Logf(WARN, format, args...)
}

func Errorf(format string, args ...interface{}) {
	if !cachedError {
		return
	}
	Logf(ERROR, format, args...)
}

func Fatalf(format string, args ...interface{}) {
	Logf(FATAL, format, args...)
}

// FileLogger is the default Logger, writing "LEVEL (file:line) message" lines.
type FileLogger struct {
	mu    sync.Mutex
	file  *os.File
	level Level
}

func NewFileLogger(file *os.File, level Level) *FileLogger {
	return &FileLogger{file: file, level: level}
}

func (f *FileLogger) Level() Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

func (f *FileLogger) SetLevel(l Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.level = l
}

func (f *FileLogger) Logf(level Level, format string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if level > f.level {
		return
	}
	_, file, line, ok := runtime.Caller(3)
	prefix := level.String()
	if ok {
		prefix = fmt.Sprintf("%s (%s:%d)", prefix, path.Base(file), line)
	}
	fmt.Fprintf(f.file, "%s %s\n", prefix, fmt.Sprintf(format, args...))
}
