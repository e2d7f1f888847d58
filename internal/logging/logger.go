package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel is the minimum severity a logger emits.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// slogLevel maps onto the slog scale. Anything above LevelError stays above
// slog.LevelError so a nop logger never reaches its handler.
func (l LogLevel) slogLevel() slog.Level {
	if l > LevelError {
		return slog.LevelError + 4
	}
	return slog.Level((int(l) - 1) * 4)
}

// ParseLevel parses a case-insensitive level name as accepted by --log-level.
// The empty string means info.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q (use debug, info, warn, error)", s)
}

// Logger is the logging surface every component receives. err, when non-nil,
// is rendered under the "error" key; fields are alternating key/value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...interface{})
	Info(ctx context.Context, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
	Error(ctx context.Context, err error, msg string, fields ...interface{})

	With(fields ...interface{}) Logger
	WithComponent(component string) Logger
}

// DocLogger implements Logger on top of log/slog.
type DocLogger struct {
	logger    *slog.Logger
	component string
}

// LoggerConfig selects level, encoding and destination.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // "json" or "text"
	Output    io.Writer
	Component string
}

// DefaultConfig logs text at info level to stderr.
func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{Level: LevelInfo, Format: "text", Output: os.Stderr}
}

func NewLogger(config *LoggerConfig) *DocLogger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: config.Level.slogLevel()}
	var handler slog.Handler = slog.NewTextHandler(output, opts)
	if config.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	}

	return &DocLogger{logger: slog.New(handler), component: config.Component}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *DocLogger {
	return NewLogger(&LoggerConfig{Level: LevelError + 1, Output: io.Discard})
}

func (l *DocLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, slog.LevelDebug, nil, msg, fields)
}

func (l *DocLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, slog.LevelInfo, nil, msg, fields)
}

func (l *DocLogger) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	l.log(ctx, slog.LevelWarn, err, msg, fields)
}

func (l *DocLogger) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	l.log(ctx, slog.LevelError, err, msg, fields)
}

// With returns a logger that adds fields to every record.
func (l *DocLogger) With(fields ...interface{}) Logger {
	return &DocLogger{logger: l.logger.With(pairs(fields)...), component: l.component}
}

// WithComponent returns a logger tagged with component, replacing any
// previous tag.
func (l *DocLogger) WithComponent(component string) Logger {
	return &DocLogger{logger: l.logger, component: component}
}

func (l *DocLogger) log(ctx context.Context, level slog.Level, err error, msg string, fields []interface{}) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.logger.Enabled(ctx, level) {
		return
	}

	record := slog.NewRecord(time.Now(), level, msg, 0)
	if l.component != "" {
		record.AddAttrs(slog.String("component", l.component))
	}
	if err != nil {
		record.AddAttrs(slog.String("error", err.Error()))
	}
	record.Add(pairs(fields)...)

	_ = l.logger.Handler().Handle(ctx, record)
}

// pairs drops keys that are not strings, along with their values, and a
// trailing key without a value.
func pairs(fields []interface{}) []any {
	out := make([]any, 0, len(fields))
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			out = append(out, key, fields[i+1])
		}
	}
	return out
}

// FileLogger writes to a per-day file in a log directory. The file is
// reopened when the date changes.
type FileLogger struct {
	*DocLogger
	mu      sync.Mutex
	dir     string
	day     string
	file    *os.File
	nowFunc func() time.Time
}

// NewFileLogger creates a file-based logger with daily rotation. Log files
// are created owner-readable only because they may carry masked document
// metadata.
func NewFileLogger(config *LoggerConfig, logDir string) (*FileLogger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	fl := &FileLogger{dir: logDir, nowFunc: time.Now}
	if err := fl.rotate(); err != nil {
		return nil, err
	}

	fileConfig := *config
	fileConfig.Output = fl
	fl.DocLogger = NewLogger(&fileConfig)

	return fl, nil
}

// Path returns the file currently written to.
func (f *FileLogger) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filepath.Join(f.dir, fileNameFor(f.day))
}

// Write implements io.Writer, switching files at the day boundary.
func (f *FileLogger) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.nowFunc().Format("2006-01-02") != f.day {
		if err := f.rotateLocked(); err != nil {
			return 0, err
		}
	}
	return f.file.Write(p)
}

func (f *FileLogger) rotate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotateLocked()
}

func (f *FileLogger) rotateLocked() error {
	day := f.nowFunc().Format("2006-01-02")
	file, err := os.OpenFile(filepath.Join(f.dir, fileNameFor(day)), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if f.file != nil {
		_ = f.file.Close()
	}
	f.file = file
	f.day = day
	return nil
}

func fileNameFor(day string) string {
	return fmt.Sprintf("docrelay-%s.log", day)
}

// Close closes the file logger
func (f *FileLogger) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		err := f.file.Close()
		f.file = nil
		return err
	}
	return nil
}

// MultiLogger fans every record out to several loggers, typically the
// console and the daily file.
type MultiLogger struct {
	loggers []Logger
}

func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) each(fn func(Logger)) {
	for _, l := range m.loggers {
		fn(l)
	}
}

func (m *MultiLogger) derive(fn func(Logger) Logger) *MultiLogger {
	out := make([]Logger, len(m.loggers))
	for i, l := range m.loggers {
		out[i] = fn(l)
	}
	return &MultiLogger{loggers: out}
}

func (m *MultiLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	m.each(func(l Logger) { l.Debug(ctx, msg, fields...) })
}

func (m *MultiLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	m.each(func(l Logger) { l.Info(ctx, msg, fields...) })
}

func (m *MultiLogger) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	m.each(func(l Logger) { l.Warn(ctx, err, msg, fields...) })
}

func (m *MultiLogger) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	m.each(func(l Logger) { l.Error(ctx, err, msg, fields...) })
}

func (m *MultiLogger) With(fields ...interface{}) Logger {
	return m.derive(func(l Logger) Logger { return l.With(fields...) })
}

func (m *MultiLogger) WithComponent(component string) Logger {
	return m.derive(func(l Logger) Logger { return l.WithComponent(component) })
}

var sensitiveWords = []string{"password", "token", "secret", "key", "auth"}

const maxLoggedValue = 1000

// SanitizeForLog replaces values that look like credentials and truncates
// long ones.
func SanitizeForLog(data string) string {
	lower := strings.ToLower(data)
	for _, word := range sensitiveWords {
		if strings.Contains(lower, word) {
			return "[REDACTED]"
		}
	}
	if len(data) > maxLoggedValue {
		return data[:maxLoggedValue] + "...[TRUNCATED]"
	}
	return data
}

// LogSecurityEvent logs a rejected path or similar at error level. String
// details pass through SanitizeForLog.
func LogSecurityEvent(ctx context.Context, logger Logger, event string, details map[string]interface{}) {
	fields := []interface{}{"event_type", "security", "event", event}
	for k, v := range details {
		if str, ok := v.(string); ok {
			v = SanitizeForLog(str)
		}
		fields = append(fields, k, v)
	}

	logger.Error(ctx, nil, "Security event occurred", fields...)
}
