package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a zap.Logger for structured logging. format is "json"
// (default) or "console"; every entry carries the service name.
func New(level, format, service string) (*zap.Logger, error) {
	zapLevel := zapcore.InfoLevel
	if err := zapLevel.Set(strings.ToLower(level)); err != nil {
		return nil, err
	}

	encoding := strings.ToLower(format)
	switch encoding {
	case "":
		encoding = "json"
	case "json", "console":
	default:
		return nil, fmt.Errorf("unsupported log format: %q", format)
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    map[string]any{"service": service},
	}

	return cfg.Build()
}

// Badger adapts a zap.Logger to the printf-style logger badger expects.
type Badger struct {
	s *zap.SugaredLogger
}

// NewBadger wraps l for use as badger.Options.Logger.
func NewBadger(l *zap.Logger) *Badger {
	return &Badger{s: l.Named("badger").Sugar()}
}

func (b *Badger) Errorf(format string, args ...any) {
	b.s.Errorf(strings.TrimSpace(format), args...)
}

func (b *Badger) Warningf(format string, args ...any) {
	b.s.Warnf(strings.TrimSpace(format), args...)
}

func (b *Badger) Infof(format string, args ...any) {
	b.s.Debugf(strings.TrimSpace(format), args...)
}

func (b *Badger) Debugf(format string, args ...any) {
	b.s.Debugf(strings.TrimSpace(format), args...)
}
