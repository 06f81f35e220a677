package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelNone disables logging entirely
const LevelNone = slog.Level(1 << 10)

// ParseLevel converts "none", "error", "warn", "info" or "debug" to a level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "none":
		return LevelNone, nil
	case "error":
		return slog.LevelError, nil
	case "warn":
		return slog.LevelWarn, nil
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %q (must be none, error, warn, info or debug)", s)
	}
}

// Config holds logger configuration
type Config struct {
	Dir           string
	Level         string
	RetentionDays int
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = "."
	}

	return Config{
		Dir:           filepath.Join(cacheDir, "delayloop", "logs"),
		Level:         "info",
		RetentionDays: 7,
	}
}

// Logger writes JSON records to a daily log file. The terminal belongs to
// the prompt and status line, so nothing is logged to stdout.
type Logger struct {
	*slog.Logger
	file *rotatingFile
}

// New creates a new logger
func New(config Config) (*Logger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	if level == LevelNone {
		return &Logger{Logger: slog.New(slog.DiscardHandler)}, nil
	}

	file := &rotatingFile{
		dir:           config.Dir,
		retentionDays: config.RetentionDays,
		now:           time.Now,
	}
	if err := file.rotate(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(handler), file: file}, nil
}

// Path returns the current log file path, or "" when logging is disabled
func (l *Logger) Path() string {
	if l.file == nil {
		return ""
	}
	return l.file.path()
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// rotatingFile is an io.Writer that starts a new file each day and removes
// files older than the retention period.
type rotatingFile struct {
	mu            sync.Mutex
	dir           string
	retentionDays int
	now           func() time.Time

	file       *os.File
	currentDay string
	closed     bool
}

var _ io.WriteCloser = (*rotatingFile)(nil)

func fileName(day string) string {
	return fmt.Sprintf("delayloop-%s.log", day)
}

func (r *rotatingFile) path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filepath.Join(r.dir, fileName(r.currentDay))
}

// rotate opens today's file if it is not already open
func (r *rotatingFile) rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateLocked()
}

func (r *rotatingFile) rotateLocked() error {
	today := r.now().Format("20060102")
	if r.currentDay == today && r.file != nil {
		return nil
	}

	if r.file != nil {
		r.file.Close()
		r.file = nil
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(r.dir, fileName(today)), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	r.file = file
	r.currentDay = today

	if err := r.cleanOldLogs(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to clean old logs: %v\n", err)
	}
	return nil
}

// cleanOldLogs deletes log files older than retentionDays
func (r *rotatingFile) cleanOldLogs() error {
	cutoff := r.now().AddDate(0, 0, -r.retentionDays)

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			// Continue even if we can't delete a file
			_ = os.Remove(filepath.Join(r.dir, entry.Name()))
		}
	}

	return nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, os.ErrClosed
	}
	if err := r.rotateLocked(); err != nil {
		return 0, err
	}
	return r.file.Write(p)
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
