// Package logger provides structured logging with context support.
package logger

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appctx "backoffice/internal/core/context"
)

// Logger wraps zap.SugaredLogger with context-aware logging.
type Logger struct {
	*zap.SugaredLogger
}

type loggerKey struct{}

// Config holds logger configuration.
type Config struct {
	Level       string // debug, info, warn, error
	Development bool   // console encoding with colours
	App         string // added to every entry as "app" when set
	OutputPaths []string
}

// New creates a new Logger from configuration. An unknown level falls back to info.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.TimeKey = "ts"
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	opts := []zap.Option{zap.AddCallerSkip(1)}
	if cfg.App != "" {
		opts = append(opts, zap.Fields(zap.String("app", cfg.App)))
	}
	zl, err := zc.Build(opts...)
	if err != nil {
		return nil, err
	}
	return &Logger{zl.Sugar()}, nil
}

var (
	defaultOnce   sync.Once
	defaultLogger *Logger
)

// Default returns a process-wide production logger writing to stdout.
// It backs FromContext when a context carries no logger.
func Default() *Logger {
	defaultOnce.Do(func() {
		l, err := New(Config{Level: "info", OutputPaths: []string{"stdout"}})
		if err != nil {
			l = NewNop()
		}
		defaultLogger = l
	})
	return defaultLogger
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

// WithContext adds trace, job and user fields from ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var kv []any
	if tc := appctx.GetTrace(ctx); tc != nil {
		kv = append(kv, "trace_id", tc.TraceID, "request_id", tc.RequestID)
		if tc.Job != "" {
			kv = append(kv, "job", tc.Job)
		}
	}
	if uid := appctx.GetUserID(ctx); uid != "" {
		kv = append(kv, "user_id", uid)
	}
	if len(kv) == 0 {
		return l
	}
	return &Logger{l.SugaredLogger.With(kv...)}
}

// With adds key-value pairs to logger.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{l.SugaredLogger.With(keysAndValues...)}
}

// Desugar exposes the underlying zap.Logger for components that take one.
func (l *Logger) Desugar() *zap.Logger {
	return l.SugaredLogger.Desugar()
}

// WithComponent adds component name to logger.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// WithLogger adds Logger to context.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the Logger in ctx, or Default, enriched with ctx fields.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l.WithContext(ctx)
	}
	return Default().WithContext(ctx)
}

func Debug(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Debugw(msg, keysAndValues...)
}

func Info(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Infow(msg, keysAndValues...)
}

func Warn(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Warnw(msg, keysAndValues...)
}

func Error(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Errorw(msg, keysAndValues...)
}
