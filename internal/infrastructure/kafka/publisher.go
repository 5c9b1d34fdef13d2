package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic = "checkout.reconciliation"
	headerEvent  = "event_name"
)

var ErrNoBrokers = errors.New("kafka: no brokers configured")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes outbox events to a Kafka topic as JSON. Keyed events use their key so that
// events for the same order land on the same partition.
type Publisher struct {
	w     messageWriter
	topic string
	clock func() time.Time
	log   observability.Logger

	calls    observability.Counter   // external_requests_total{peer,endpoint,outcome}
	duration observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	var out []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func NewPublisher(brokers []string, topic string, tel observability.Observability) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w, topic, tel), nil
}

func newPublisher(w messageWriter, topic string, tel observability.Observability) *Publisher {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return &Publisher{
		w:        w,
		topic:    topic,
		clock:    time.Now,
		log:      tel.Logger().With(observability.F("component", "kafka_publisher"), observability.F("topic", topic)),
		calls:    m.Counter(observability.MExternalRequests),
		duration: m.Histogram(observability.MExternalRequestDuration),
	}
}

func (p *Publisher) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", e.EventName(), err)
	}
	msg := kafka.Message{
		Value:   value,
		Time:    p.clock().UTC(),
		Headers: []kafka.Header{{Key: headerEvent, Value: []byte(e.EventName())}},
	}
	if key := domoutbox.KeyOf(e); key != "" {
		msg.Key = []byte(key)
	}

	start := time.Now()
	err = p.w.WriteMessages(ctx, msg)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	p.calls.Add(1,
		observability.L("peer", "kafka"),
		observability.L("endpoint", p.topic),
		observability.L("outcome", outcome),
	)
	p.duration.Observe(time.Since(start).Seconds(),
		observability.L("peer", "kafka"),
		observability.L("endpoint", p.topic),
	)
	if err != nil {
		p.log.Warn("kafka_publish_failed",
			observability.F("event", e.EventName()),
			observability.Err(err),
		)
		return fmt.Errorf("kafka: write %s: %w", e.EventName(), err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
