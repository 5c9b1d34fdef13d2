package zaplogger

import (
	"errors"
	"testing"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrapCarriesFixedAndScopedFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := Wrap(zap.New(core), observability.F("service", "checkout"))

	log.With(observability.F("session_id", "s-1")).Warn("stock_check_failed",
		observability.Err(errors.New("boom")),
		observability.F("item_id", "sku-9"),
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "stock_check_failed", entries[0].Message)
	assert.Equal(t, "checkout", ctx["service"])
	assert.Equal(t, "s-1", ctx["session_id"])
	assert.Equal(t, "sku-9", ctx["item_id"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestWrapNilIsSafe(t *testing.T) {
	assert.NotPanics(t, func() { Wrap(nil).Info("noop") })
}

func TestUnwrapReturnsScopedZapLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	scoped := Wrap(zap.New(core)).With(observability.F("component", "kafka_publisher"))

	z, ok := Unwrap(scoped)
	require.True(t, ok)
	z.Info("direct", zap.Duration("took", 0))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kafka_publisher", logs.All()[0].ContextMap()["component"])

	_, ok = Unwrap(observability.NopLogger())
	assert.False(t, ok)
}
