package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RetentionDays is how long archived daily log files are kept.
const RetentionDays = 7

// DefaultLogger is set to the first logger created so that components built
// without an explicit logger still have somewhere to write.
var DefaultLogger *Logger

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
	// Console overrides the console sink, os.Stdout when nil.
	Console io.Writer
}

var (
	colorReset = "\x1b[0m"
	colorTime  = "\x1b[90m"
	colorDebug = "\x1b[36m"
	colorInfo  = "\x1b[32m"
	colorWarn  = "\x1b[33m"
	colorError = "\x1b[31m"
)

// tagColors maps a "[Tag]" message prefix to its console color.
var tagColors = map[string]string{
	"Bootstrap":  "\x1b[96m",
	"HTTP":       "\x1b[95m",
	"WebSocket":  "\x1b[92m",
	"Intake":     "\x1b[94m",
	"Inspection": "\x1b[93m",
	"VLLLM":      "\x1b[34m",
	"Telemetry":  "\x1b[35m",
	"Cache":      "\x1b[36m",
	"Events":     "\x1b[97m",
	"Auth":       "\x1b[91m",
	"Metrics":    "\x1b[90m",
}

// consoleHandler renders "[time] [LEVEL] msg" lines, or "[time] [Tag] msg" in
// the tag's color when the message carries a known tag.
type consoleHandler struct {
	writer io.Writer
	level  slog.Level
	mu     sync.Mutex
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	timeStr := r.Time.Format("2006-01-02 15:04:05.000")

	var levelStr, levelColor string
	switch {
	case r.Level >= slog.LevelError:
		levelStr, levelColor = "ERROR", colorError
	case r.Level >= slog.LevelWarn:
		levelStr, levelColor = "WARN", colorWarn
	case r.Level >= slog.LevelInfo:
		levelStr, levelColor = "INFO", colorInfo
	default:
		levelStr, levelColor = "DEBUG", colorDebug
	}

	var b strings.Builder
	if tagColor, ok := messageTagColor(r.Message); ok && r.Level < slog.LevelWarn {
		fmt.Fprintf(&b, "%s[%s]%s %s%s%s", colorTime, timeStr, colorReset, tagColor, r.Message, colorReset)
	} else {
		fmt.Fprintf(&b, "%s[%s]%s %s[%s]%s %s", colorTime, timeStr, colorReset, levelColor, levelStr, colorReset, r.Message)
	}

	if r.NumAttrs() > 0 {
		b.WriteString(" {")
		r.Attrs(func(a slog.Attr) bool {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
			return true
		})
		b.WriteString(" }")
	}
	b.WriteByte('\n')

	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *consoleHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *consoleHandler) WithGroup(string) slog.Handler { return h }

func messageTagColor(msg string) (string, bool) {
	if !strings.HasPrefix(msg, "[") {
		return "", false
	}
	end := strings.IndexByte(msg, ']')
	if end < 0 {
		return "", false
	}
	color, ok := tagColors[msg[1:end]]
	return color, ok
}

// Logger writes JSON lines to a daily-rotated file and colored text to the console.
type Logger struct {
	config      Config
	level       slog.Level
	jsonLogger  *slog.Logger
	textLogger  *slog.Logger
	logFile     *os.File
	currentDate string
	mu          sync.RWMutex
	ticker      *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// ParseLevel converts a configured level name into a slog.Level. Unknown
// names fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates the logger and starts the rotation checker.
func New(cfg Config) (*Logger, error) {
	if cfg.Dir == "" {
		cfg.Dir = "data/logs"
	}
	if cfg.Filename == "" {
		cfg.Filename = "server.log"
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(cfg.Dir, cfg.Filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	level := ParseLevel(cfg.Level)
	logger := &Logger{
		config:      cfg,
		level:       level,
		jsonLogger:  slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})),
		textLogger:  slog.New(&consoleHandler{writer: console, level: level}),
		logFile:     file,
		currentDate: time.Now().Format("2006-01-02"),
		stopCh:      make(chan struct{}),
	}

	logger.startRotationChecker()
	if DefaultLogger == nil {
		DefaultLogger = logger
	}
	return logger, nil
}

func (l *Logger) startRotationChecker() {
	l.ticker = time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-l.ticker.C:
				l.checkAndRotate(time.Now())
			case <-l.stopCh:
				return
			}
		}
	}()
}

func (l *Logger) checkAndRotate(now time.Time) {
	today := now.Format("2006-01-02")
	l.mu.RLock()
	current := l.currentDate
	l.mu.RUnlock()
	if today != current {
		l.rotate(today)
		l.cleanOldLogs(now)
	}
}

// rotate archives the active file as <base>-<date><ext> and reopens it.
func (l *Logger) rotate(newDate string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		l.logFile.Close()
	}

	dir := l.config.Dir
	currentPath := filepath.Join(dir, l.config.Filename)
	ext := filepath.Ext(l.config.Filename)
	base := strings.TrimSuffix(l.config.Filename, ext)
	archived := filepath.Join(dir, fmt.Sprintf("%s-%s%s", base, l.currentDate, ext))

	if _, err := os.Stat(currentPath); err == nil {
		if err := os.Rename(currentPath, archived); err != nil {
			l.textLogger.Error("rename log file failed", slog.String("error", err.Error()))
		}
	}

	file, err := os.OpenFile(currentPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.textLogger.Error("create log file failed", slog.String("error", err.Error()))
		return
	}

	l.logFile = file
	l.currentDate = newDate
	l.jsonLogger = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: l.level}))
	l.textLogger.Info("log file rotated", slog.String("new_date", newDate))
}

func (l *Logger) cleanOldLogs(now time.Time) {
	entries, err := os.ReadDir(l.config.Dir)
	if err != nil {
		l.textLogger.Error("read log dir failed", slog.String("error", err.Error()))
		return
	}

	cutoff := now.AddDate(0, 0, -RetentionDays)
	ext := filepath.Ext(l.config.Filename)
	base := strings.TrimSuffix(l.config.Filename, ext)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, base+"-") || !strings.HasSuffix(name, ext) {
			continue
		}
		date, err := time.Parse("2006-01-02", strings.TrimSuffix(strings.TrimPrefix(name, base+"-"), ext))
		if err != nil || !date.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(l.config.Dir, name)); err != nil {
			l.textLogger.Error("remove old log failed", slog.String("file", name), slog.String("error", err.Error()))
		}
	}
}

// Close stops rotation and closes the log file. It is safe to call twice.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.ticker != nil {
			l.ticker.Stop()
		}
		close(l.stopCh)
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.logFile != nil {
			err = l.logFile.Close()
			l.logFile = nil
		}
		if DefaultLogger == l {
			DefaultLogger = nil
		}
	})
	return err
}

func (l *Logger) log(level slog.Level, msg string, fields ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var attrs []slog.Attr
	if len(fields) > 0 && fields[0] != nil {
		if m, ok := fields[0].(map[string]any); ok {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				attrs = append(attrs, slog.Any(k, m[k]))
			}
		} else {
			attrs = append(attrs, slog.Any("fields", fields[0]))
		}
	}

	ctx := context.Background()
	l.jsonLogger.LogAttrs(ctx, level, msg, attrs...)
	l.textLogger.LogAttrs(ctx, level, msg, attrs...)
}

func (l *Logger) logf(level slog.Level, msg string, args ...any) {
	if l == nil {
		return
	}
	if len(args) > 0 && strings.Contains(msg, "%") {
		l.log(level, fmt.Sprintf(msg, args...))
		return
	}
	l.log(level, msg, args...)
}

// FormatLog prefixes message with a single "[tag]". Messages that already
// start with "[" are returned unchanged.
func FormatLog(tag, message string) string {
	tag = strings.TrimSpace(tag)
	message = strings.TrimSpace(message)
	if tag == "" || strings.HasPrefix(message, "[") {
		return message
	}
	return fmt.Sprintf("[%s] %s", tag, message)
}

// Debug logs at debug level. A message containing "%" is formatted with args,
// otherwise the first arg is treated as a field map.
func (l *Logger) Debug(msg string, args ...any) { l.logf(slog.LevelDebug, msg, args...) }

func (l *Logger) Info(msg string, args ...any) { l.logf(slog.LevelInfo, msg, args...) }

func (l *Logger) Warn(msg string, args ...any) { l.logf(slog.LevelWarn, msg, args...) }

func (l *Logger) Error(msg string, args ...any) { l.logf(slog.LevelError, msg, args...) }

func (l *Logger) DebugTag(tag, msg string, args ...any) {
	l.logf(slog.LevelDebug, FormatLog(tag, msg), args...)
}

func (l *Logger) InfoTag(tag, msg string, args ...any) {
	l.logf(slog.LevelInfo, FormatLog(tag, msg), args...)
}

func (l *Logger) WarnTag(tag, msg string, args ...any) {
	l.logf(slog.LevelWarn, FormatLog(tag, msg), args...)
}

func (l *Logger) ErrorTag(tag, msg string, args ...any) {
	l.logf(slog.LevelError, FormatLog(tag, msg), args...)
}

// Slog exposes the console logger for components that take a *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.textLogger
}
