// Package events ships hold and checkout audit signals to Kafka and consumes them back
// to clean up carts that were checked out elsewhere.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/gesture"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic = "storefront-checkout-audit"
	maxBatch     = 100
)

// Record is the message body: the gesture event plus the shopper it belongs to.
type Record struct {
	gesture.Event
	ShopperID string `json:"shopper_id,omitempty"`
}

// Writer is the part of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher queues records in memory and writes them in batches from Run, so that
// Publish never waits on the broker. Records that do not fit the queue are dropped.
type Publisher struct {
	writer  Writer
	timeout time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger

	queue     chan Record
	closeOnce sync.Once
}

func NewPublisher(w Writer, bufferSize int, m *metrics.Metrics, log zerolog.Logger) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Publisher{
		writer:  w,
		timeout: 5 * time.Second,
		metrics: m,
		log:     log.With().Str("component", "audit-publisher").Logger(),
		queue:   make(chan Record, bufferSize),
	}
}

func NewKafkaPublisher(brokers []string, topic string, m *metrics.Metrics, log zerolog.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // same session id, same partition
		AllowAutoTopicCreation: true,
	}
	return NewPublisher(w, 0, m, log)
}

// Sink returns an EventSink that tags every event with shopperID.
func (p *Publisher) Sink(shopperID string) gesture.EventSink {
	return gesture.SinkFunc(func(ev gesture.Event) {
		p.Enqueue(Record{Event: ev, ShopperID: shopperID})
	})
}

// Enqueue adds rec to the queue without blocking.
func (p *Publisher) Enqueue(rec Record) {
	select {
	case p.queue <- rec:
		p.metrics.AuditEvents.WithLabelValues("queued").Inc()
	default:
		p.metrics.AuditEvents.WithLabelValues("dropped").Inc()
		p.log.Warn().Str("session_id", rec.SessionID).Str("type", string(rec.Type)).Msg("audit queue full, dropping event")
	}
}

// Run writes queued records until ctx is done, then flushes what is left.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case rec := <-p.queue:
			p.flush(ctx, p.collect(rec))
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.writer.Close()
	})
	return err
}

// collect gathers first and whatever else is already queued, up to maxBatch.
func (p *Publisher) collect(first Record) []Record {
	batch := []Record{first}
	for len(batch) < maxBatch {
		select {
		case rec := <-p.queue:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
	return batch
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	for {
		select {
		case rec := <-p.queue:
			p.flush(ctx, p.collect(rec))
		default:
			return
		}
	}
}

func (p *Publisher) flush(ctx context.Context, batch []Record) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, rec := range batch {
		msg, err := toMessage(rec)
		if err != nil {
			p.log.Error().Err(err).Msg("failed to encode audit event")
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, msgs...); err != nil {
		p.metrics.AuditEvents.WithLabelValues("failed").Add(float64(len(msgs)))
		p.log.Error().Err(err).Int("count", len(msgs)).Msg("failed to publish audit events")
		return
	}
	p.metrics.AuditEvents.WithLabelValues("published").Add(float64(len(msgs)))
}

func toMessage(rec Record) (kafka.Message, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal audit event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(rec.SessionID),
		Value: value,
		Time:  rec.At,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(rec.Type)},
			{Key: "shopper_id", Value: []byte(rec.ShopperID)},
		},
	}, nil
}
