package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

func TestPublishWritesKeyedJSON(t *testing.T) {
	w := &captureWriter{}
	p := newPublisher(w, "recon", nil)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.clock = func() time.Time { return at }

	err := p.Publish(context.Background(), dominv.AdjustmentFailedEvent{OrderID: "o-1", ItemID: "mug", Quantity: 1})

	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "o-1", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "inventory.adjustment_failed", string(msg.Headers[0].Value))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "mug", body["item_id"])
}

func TestPublishWrapsWriterError(t *testing.T) {
	cause := errors.New("leader not available")
	p := newPublisher(&captureWriter{err: cause}, "recon", nil)

	err := p.Publish(context.Background(), dominv.AdjustmentFailedEvent{OrderID: "o-1"})

	assert.ErrorIs(t, err, cause)
}

func TestNewPublisherRequiresBrokers(t *testing.T) {
	_, err := NewPublisher(ParseBrokers(" , "), "", nil)
	assert.ErrorIs(t, err, ErrNoBrokers)
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers("a:9092, ,b:9092"))
}

func TestClose(t *testing.T) {
	w := &captureWriter{}
	require.NoError(t, newPublisher(w, "", nil).Close())
	assert.True(t, w.closed)
}
