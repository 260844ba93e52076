package logger

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a zap logger writing to stderr.
// format is "json" or "console"; level is debug, info, warn or error.
func New(format, level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(format) {
	case "json":
		cfg = zap.NewProductionConfig()
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	default:
		return nil, eris.Errorf("unknown log format %q", format)
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid log level %q", level)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, eris.Wrap(err, "build logger")
	}
	return l, nil
}

type requestLoggerKey struct{}

// Into attaches a request-scoped logger to ctx
func Into(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, requestLoggerKey{}, l)
}

// From returns the request-scoped logger, or the process logger installed
// with zap.ReplaceGlobals when ctx carries none.
func From(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(requestLoggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.L()
}

// With adds fields to the request-scoped logger for the rest of the request
func With(ctx context.Context, fields ...zap.Field) context.Context {
	return Into(ctx, From(ctx).With(fields...))
}
