package common

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
	LogFatal
)

var logLevelNames = map[LogLevel]string{
	LogDebug: "DEBUG",
	LogInfo:  "INFO",
	LogWarn:  "WARN",
	LogError: "ERROR",
	LogFatal: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogDebug:
		return zapcore.DebugLevel
	case LogWarn:
		return zapcore.WarnLevel
	case LogError:
		return zapcore.ErrorLevel
	case LogFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLogLevel converts a level name such as "debug" or "WARN" into a LogLevel.
// Unknown names fall back to LogInfo.
func ParseLogLevel(name string) LogLevel {
	for level, levelName := range logLevelNames {
		if strings.EqualFold(levelName, strings.TrimSpace(name)) {
			return level
		}
	}
	if strings.EqualFold(strings.TrimSpace(name), "warning") {
		return LogWarn
	}
	return LogInfo
}

// SafeLogger provides STDIO-safe logging that only writes to stderr.
// Messages are printf-formatted and tagged with the logger prefix.
type SafeLogger struct {
	prefix string
	level  zap.AtomicLevel
	sugar  *zap.SugaredLogger
}

// NewSafeLogger creates a new safe logger with the given prefix.
// ROUTER_DEBUG=true starts the logger at debug level.
func NewSafeLogger(prefix string) *SafeLogger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if os.Getenv("ROUTER_DEBUG") == "true" {
		level.SetLevel(zapcore.DebugLevel)
	}
	core := zapcore.NewCore(newConsoleEncoder(), zapcore.Lock(os.Stderr), level)
	return newSafeLogger(prefix, level, core)
}

// NewSafeLoggerWithCore builds a logger over an arbitrary zap core.
// Tests use it with an observer core to assert on emitted entries.
func NewSafeLoggerWithCore(prefix string, core zapcore.Core) *SafeLogger {
	return newSafeLogger(prefix, zap.NewAtomicLevelAt(zapcore.DebugLevel), core)
}

func newSafeLogger(prefix string, level zap.AtomicLevel, core zapcore.Core) *SafeLogger {
	leveled := &levelFilterCore{Core: core, level: level}
	return &SafeLogger{
		prefix: prefix,
		level:  level,
		sugar:  zap.New(leveled).Named(prefix).Sugar(),
	}
}

func newConsoleEncoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.CallerKey = ""
	cfg.StacktraceKey = ""
	return zapcore.NewConsoleEncoder(cfg)
}

// levelFilterCore lets SetLevel apply even when the wrapped core was built
// with a more permissive level enabler.
type levelFilterCore struct {
	zapcore.Core
	level zap.AtomicLevel
}

func (c *levelFilterCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l) && c.Core.Enabled(l)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), level: c.level}
}

func (c *levelFilterCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

// SetLevel sets the minimum log level
func (l *SafeLogger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// Prefix returns the component name the logger tags messages with
func (l *SafeLogger) Prefix() string {
	return l.prefix
}

// Debug logs a debug message
func (l *SafeLogger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an info message
func (l *SafeLogger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *SafeLogger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *SafeLogger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Fatal logs a fatal message and exits
func (l *SafeLogger) Fatal(format string, args ...interface{}) {
	l.sugar.Fatalf(format, args...)
}

// Sync flushes buffered entries
func (l *SafeLogger) Sync() error {
	return l.sugar.Sync()
}

// Global logger instances for convenience
var (
	RouterLogger  = NewSafeLogger("Router")
	ServerLogger  = NewSafeLogger("Server")
	StorageLogger = NewSafeLogger("Storage")
	CLILogger     = NewSafeLogger("CLI")
)

var globalLoggersMu sync.Mutex

// SetGlobalLevel applies a level name to every package-level logger.
func SetGlobalLevel(name string) {
	globalLoggersMu.Lock()
	defer globalLoggersMu.Unlock()

	level := ParseLogLevel(name)
	for _, logger := range []*SafeLogger{RouterLogger, ServerLogger, StorageLogger, CLILogger} {
		logger.SetLevel(level)
	}
}

// SyncAll flushes every package-level logger
func SyncAll() {
	for _, logger := range []*SafeLogger{RouterLogger, ServerLogger, StorageLogger, CLILogger} {
		_ = logger.Sync()
	}
}
