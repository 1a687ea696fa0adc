// Package logging provides global logging functions for apate.
// Use dot import to access L_info, L_error, etc. directly.
package logging

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Log levels
const (
	LevelFatal = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

var (
	logger *log.Logger
	once   sync.Once

	// currentLevel is used for trace filtering since charmbracelet doesn't have trace.
	currentLevel int32 = LevelInfo

	shuttingDown int32

	// sinkHook, when set, receives every formatted log line in addition to stderr.
	// Hooks must never themselves log — the hook is called for every line,
	// so a hook that calls back into L_* re-enters itself without end.
	sinkHook     func(level, msg string)
	sinkHookLock sync.RWMutex
)

// Config holds logging configuration.
type Config struct {
	Level      int
	TimeFormat string
	ShowCaller bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		TimeFormat: "15:04:05",
		ShowCaller: true,
	}
}

// Init initializes the global logger. Safe to call multiple times; only the
// first call takes effect. Must run before any other component logs.
func Init(cfg *Config) {
	once.Do(func() {
		if cfg == nil {
			cfg = DefaultConfig()
		}

		logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			TimeFormat:      cfg.TimeFormat,
			ReportCaller:    cfg.ShowCaller,
			CallerOffset:    2,
		})

		atomic.StoreInt32(&currentLevel, int32(cfg.Level))

		switch cfg.Level {
		case LevelTrace, LevelDebug:
			logger.SetLevel(log.DebugLevel)
		case LevelInfo:
			logger.SetLevel(log.InfoLevel)
		case LevelWarn:
			logger.SetLevel(log.WarnLevel)
		case LevelError, LevelFatal:
			logger.SetLevel(log.ErrorLevel)
		}
	})
}

func ensureInit() {
	if logger == nil {
		Init(nil)
	}
}

// hasFmtVerb reports whether s looks like a printf format string.
func hasFmtVerb(s string) bool {
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '%' {
			next := s[i+1]
			if next != '%' && strings.ContainsRune("vsdtfgeopqxXbcUT+#", rune(next)) {
				return true
			}
		}
	}
	return false
}

// logMsg handles the flexible logging format:
//   - logMsg(level, "message")              -> simple
//   - logMsg(level, "value is %d", 42)      -> printf
//   - logMsg(level, "loaded", "key", val)   -> structured key/value pairs
func logMsg(level log.Level, msg string, args ...interface{}) {
	ensureInit()

	var finalMsg string
	var keyvals []interface{}

	switch {
	case len(args) == 0:
		finalMsg = msg
	case hasFmtVerb(msg):
		finalMsg = fmt.Sprintf(msg, args...)
	default:
		finalMsg = msg
		keyvals = args
	}

	sinkHookLock.RLock()
	hook := sinkHook
	sinkHookLock.RUnlock()
	if hook != nil {
		display := finalMsg
		for i := 0; i+1 < len(keyvals); i += 2 {
			display += fmt.Sprintf(" %v=%v", keyvals[i], keyvals[i+1])
		}
		hook(levelToString(level), display)
	}

	switch level {
	case log.DebugLevel:
		logger.Debug(finalMsg, keyvals...)
	case log.InfoLevel:
		logger.Info(finalMsg, keyvals...)
	case log.WarnLevel:
		logger.Warn(finalMsg, keyvals...)
	case log.ErrorLevel:
		logger.Error(finalMsg, keyvals...)
	case log.FatalLevel:
		logger.Fatal(finalMsg, keyvals...)
	}
}

// logTrace logs at trace level. charmbracelet/log has no trace level, so this
// writes directly to stderr with a TRAC prefix, gated on currentLevel.
func logTrace(msg string, args ...interface{}) {
	if atomic.LoadInt32(&currentLevel) < int32(LevelTrace) {
		return
	}

	var finalMsg string
	var keyvals []interface{}
	switch {
	case len(args) == 0:
		finalMsg = msg
	case hasFmtVerb(msg):
		finalMsg = fmt.Sprintf(msg, args...)
	default:
		finalMsg = msg
		keyvals = args
	}

	_, file, line, ok := runtime.Caller(2)
	caller := ""
	if ok {
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		caller = fmt.Sprintf("<%s:%d>", file, line)
	}

	var sb strings.Builder
	sb.WriteString("TRAC ")
	sb.WriteString(caller)
	sb.WriteString(" ")
	sb.WriteString(finalMsg)
	for i := 0; i+1 < len(keyvals); i += 2 {
		sb.WriteString(fmt.Sprintf(" %v=%v", keyvals[i], keyvals[i+1]))
	}
	sb.WriteString("\n")
	fmt.Fprint(os.Stderr, sb.String())
}

func levelToString(level log.Level) string {
	switch level {
	case log.DebugLevel:
		return "DEBUG"
	case log.InfoLevel:
		return "INFO"
	case log.WarnLevel:
		return "WARN"
	case log.ErrorLevel:
		return "ERROR"
	case log.FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// SetSink registers a function to receive every formatted log line, in
// addition to stderr. Pass nil to clear. The sink itself must not log.
func SetSink(hook func(level, msg string)) {
	sinkHookLock.Lock()
	sinkHook = hook
	sinkHookLock.Unlock()
}

// L_trace logs at trace level (only if trace logging is enabled).
func L_trace(msg string, args ...interface{}) { logTrace(msg, args...) }

// L_debug logs at debug level.
func L_debug(msg string, args ...interface{}) { logMsg(log.DebugLevel, msg, args...) }

// L_info logs at info level.
func L_info(msg string, args ...interface{}) { logMsg(log.InfoLevel, msg, args...) }

// L_warn logs at warn level.
func L_warn(msg string, args ...interface{}) { logMsg(log.WarnLevel, msg, args...) }

// L_error logs at error level.
func L_error(msg string, args ...interface{}) { logMsg(log.ErrorLevel, msg, args...) }

// L_fatal logs at fatal level and exits the process.
func L_fatal(msg string, args ...interface{}) { logMsg(log.FatalLevel, msg, args...) }

// SetLevel changes the log level at runtime.
func SetLevel(level int) {
	ensureInit()
	atomic.StoreInt32(&currentLevel, int32(level))

	switch level {
	case LevelTrace, LevelDebug:
		logger.SetLevel(log.DebugLevel)
	case LevelInfo:
		logger.SetLevel(log.InfoLevel)
	case LevelWarn:
		logger.SetLevel(log.WarnLevel)
	case LevelError, LevelFatal:
		logger.SetLevel(log.ErrorLevel)
	}
}

// GetLevel returns the current log level.
func GetLevel() int { return int(atomic.LoadInt32(&currentLevel)) }

// SetShuttingDown marks the application as shutting down.
func SetShuttingDown() {
	atomic.StoreInt32(&shuttingDown, 1)
	L_info("shutting down")
}

// IsShuttingDown reports whether the application is shutting down.
func IsShuttingDown() bool { return atomic.LoadInt32(&shuttingDown) == 1 }
