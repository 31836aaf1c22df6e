package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"lipdub/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

// RequestIDKey carries the HTTP request id through context.
const RequestIDKey ctxKey = "request_id"

var (
	loggers   = make(map[string]*logrus.Logger)
	loggersMu sync.Mutex
	cfg       = config.LogConfig{Level: "info", Format: "text", Output: "stdout"}
)

// Init replaces the logging configuration. Loggers created before Init are
// rebuilt on next access.
func Init(c config.LogConfig) error {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if c.Output == "file" || c.Output == "both" {
		if err := os.MkdirAll(c.Path, 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}
	cfg = c
	loggers = make(map[string]*logrus.Logger)
	return nil
}

// GetLogger returns the named logger stream, creating it on first use.
func GetLogger(name string) *logrus.Logger {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[name]; ok {
		return l
	}
	l := newLogger(name)
	loggers[name] = l
	return l
}

func newLogger(name string) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}

	var writers []io.Writer
	if cfg.Output == "file" || cfg.Output == "both" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Path, name+".log"),
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}
	if cfg.Output != "file" {
		writers = append(writers, os.Stdout)
	}
	l.SetOutput(io.MultiWriter(writers...))

	return l
}

// GetAppLogger returns the main application logger.
func GetAppLogger() *logrus.Logger {
	return GetLogger("app")
}

// GetAuditLogger returns the audit stream: trust decisions, rejected
// signatures and discarded provider events.
func GetAuditLogger() *logrus.Logger {
	return GetLogger("audit")
}

func WithModule(module string) *logrus.Entry {
	return GetAppLogger().WithField("module", module)
}

// WithContext returns an app logger entry carrying the request id, if any.
func WithContext(ctx context.Context) *logrus.Entry {
	entry := GetAppLogger().WithContext(ctx)
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	return entry
}

// Audit returns an audit entry tagged with the event name.
func Audit(event string) *logrus.Entry {
	return GetAuditLogger().WithField("event", event)
}
