// Package zaplogger backs observability.Logger with zap.
package zaplogger

import (
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"go.uber.org/zap"
)

type logger struct{ z *zap.Logger }

// Wrap returns a port logger writing to z with fixed prebound. A nil z logs nowhere.
func Wrap(z *zap.Logger, fixed ...observability.Field) observability.Logger {
	if z == nil {
		z = zap.NewNop()
	}
	if len(fixed) > 0 {
		z = z.With(zapFields(fixed)...)
	}
	return &logger{z: z}
}

// Unwrap returns the zap logger behind l, for code that needs zap directly.
func Unwrap(l observability.Logger) (*zap.Logger, bool) {
	zl, ok := l.(*logger)
	if !ok {
		return nil, false
	}
	return zl.z, true
}

func (l *logger) With(fields ...observability.Field) observability.Logger {
	if len(fields) == 0 {
		return l
	}
	return &logger{z: l.z.With(zapFields(fields)...)}
}

func (l *logger) Debug(msg string, fields ...observability.Field) { l.z.Debug(msg, zapFields(fields)...) }
func (l *logger) Info(msg string, fields ...observability.Field)  { l.z.Info(msg, zapFields(fields)...) }
func (l *logger) Warn(msg string, fields ...observability.Field)  { l.z.Warn(msg, zapFields(fields)...) }
func (l *logger) Error(msg string, fields ...observability.Field) { l.z.Error(msg, zapFields(fields)...) }

func (l *logger) Sync() error { return l.z.Sync() }

func zapFields(fs []observability.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fs))
	for _, f := range fs {
		out = append(out, zapField(f))
	}
	return out
}

func zapField(f observability.Field) zap.Field {
	switch v := f.Value.(type) {
	case error:
		return zap.NamedError(f.Key, v)
	case string:
		return zap.String(f.Key, v)
	case int:
		return zap.Int(f.Key, v)
	case int64:
		return zap.Int64(f.Key, v)
	case bool:
		return zap.Bool(f.Key, v)
	case time.Duration:
		return zap.Duration(f.Key, v)
	case time.Time:
		return zap.Time(f.Key, v)
	default:
		return zap.Any(f.Key, v)
	}
}
