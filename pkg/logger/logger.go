package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	// Rotation applies to every file output in OutputPaths.
	Rotation RotationConfig
	Audit    AuditConfig
}

// RotationConfig bounds the size and age of file outputs.
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AuditConfig controls audit log output behaviour.
type AuditConfig struct {
	Enabled bool
	Path    string
	RotationConfig
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	auditLogger   *slog.Logger
	closers       sinks
)

// Init configures the global logger instances. Calling it again replaces the
// previous configuration and closes its file outputs.
func Init(cfg Config) error {
	var files sinks
	base, err := files.logger(cfg.Format, cfg.OutputPaths, cfg.Rotation, parseLevel(cfg.Level))
	if err != nil {
		files.close()
		return err
	}

	audit := base
	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			files.close()
			return errors.New("audit log path cannot be empty when enabled")
		}
		w, err := files.file(cfg.Audit.Path, cfg.Audit.RotationConfig)
		if err != nil {
			files.close()
			return err
		}
		audit = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})).
			With(slog.String("stream", "audit"))
	}

	mu.Lock()
	previous := closers
	defaultLogger, auditLogger, closers = base, audit, files
	mu.Unlock()

	previous.close()
	return nil
}

// SetOutput points both loggers at w. Intended for tests and CLI capture.
func SetOutput(w io.Writer, level string) {
	l := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
	mu.Lock()
	defaultLogger, auditLogger = l, l
	mu.Unlock()
}

// sinks tracks the files opened by one Init call.
type sinks []io.Closer

func (s *sinks) logger(format string, outputs []string, rotation RotationConfig, level slog.Level) (*slog.Logger, error) {
	var writers []io.Writer
	for _, out := range outputs {
		switch strings.ToLower(out) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			w, err := s.file(out, rotation)
			if err != nil {
				return nil, err
			}
			writers = append(writers, w)
		}
	}

	var w io.Writer = os.Stderr
	switch len(writers) {
	case 0:
	case 1:
		w = writers[0]
	default:
		w = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

// file opens a lumberjack-rotated file, creating its directory.
func (s *sinks) file(path string, cfg RotationConfig) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 7),
		MaxAge:     orDefault(cfg.MaxAgeDays, 30),
		Compress:   cfg.Compress,
	}
	*s = append(*s, w)
	return w, nil
}

func (s sinks) close() error {
	var err error
	for _, c := range s {
		err = errors.Join(err, c.Close())
	}
	return err
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// L returns the structured logger instance.
func L() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return defaultLogger
}

// Audit returns the audit logger.
func Audit() *slog.Logger {
	mu.RLock()
	l := auditLogger
	mu.RUnlock()
	if l == nil {
		return L()
	}
	return l
}

// Sync flushes and closes file outputs.
func Sync() error {
	mu.Lock()
	list := closers
	closers = nil
	mu.Unlock()
	return list.close()
}

// Named returns a child logger tagged with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}
