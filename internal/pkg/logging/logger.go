// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// systemID fills trace_id and span_id on logs that belong to no request.
const systemID = "system"

type Options struct {
	Service string
	Env     string
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// File receives a copy of every entry next to stdout.
	File string
}

// NewLogger returns a JSON logger tagged with service and env. Sampling is off:
// every payment and recording outcome must reach the log.
func NewLogger(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if raw := strings.TrimSpace(opts.Level); raw != "" {
		parsed, err := zapcore.ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("logging: level %q: %w", raw, err)
		}
		level = parsed
	}

	outputs := []string{"stdout"}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("logging: log dir: %w", err)
		}
		outputs = append(outputs, opts.File)
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.MessageKey = "msg"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeLevel = zapcore.LowercaseLevelEncoder

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "json",
		EncoderConfig:    enc,
		OutputPaths:      outputs,
		ErrorOutputPaths: outputs,
		InitialFields: map[string]any{
			"service": opts.Service,
			"env":     opts.Env,
		},
	}
	return cfg.Build()
}

func MustNewLogger(opts Options) *zap.Logger {
	logger, err := NewLogger(opts)
	if err != nil {
		panic(err)
	}
	return logger
}

// System tags logger for startup, shutdown and background work.
func System(logger *zap.Logger) *zap.Logger {
	return WithTrace(logger, systemID, systemID)
}

// WithTrace adds trace_id and span_id. Empty ids are logged as "unknown".
func WithTrace(logger *zap.Logger, traceID, spanID string) *zap.Logger {
	if logger == nil {
		logger = zap.L()
	}
	if traceID == "" {
		traceID = "unknown"
	}
	if spanID == "" {
		spanID = "unknown"
	}
	return logger.With(zap.String("trace_id", traceID), zap.String("span_id", spanID))
}
