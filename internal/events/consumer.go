package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fjod/go_cart/storefront/internal/gesture"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CartClearer empties a shopper's cart after the checkout identified by sessionID.
type CartClearer interface {
	ClearShopper(ctx context.Context, shopperID, sessionID string) error
}

// Consumer reads the audit topic and empties carts whose checkout succeeded on any
// instance.
type Consumer struct {
	reader  Reader
	clearer CartClearer
	log     zerolog.Logger
}

func NewConsumer(reader Reader, clearer CartClearer, log zerolog.Logger) *Consumer {
	return &Consumer{
		reader:  reader,
		clearer: clearer,
		log:     log.With().Str("component", "audit-consumer").Logger(),
	}
}

func NewKafkaConsumer(brokers []string, topic, groupID string, clearer CartClearer, log zerolog.Logger) *Consumer {
	if topic == "" {
		topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumer(reader, clearer, log)
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.handleNext(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Warn().Err(err).Msg("error closing reader")
	}
}

func (c *Consumer) handleNext(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			c.log.Warn().Err(err).Msg("error reading message")
		}
		return
	}

	var rec Record
	if err := json.Unmarshal(m.Value, &rec); err != nil {
		c.log.Warn().Err(err).Msg("error parsing message")
		return
	}
	if rec.Type != gesture.EventSucceeded {
		return
	}
	if rec.ShopperID == "" {
		c.log.Warn().Str("session_id", rec.SessionID).Msg("checkout event without shopper id")
		return
	}

	if err := c.clearer.ClearShopper(ctx, rec.ShopperID, rec.SessionID); err != nil {
		c.log.Error().Err(err).Str("shopper_id", rec.ShopperID).Msg("failed to clear cart after checkout")
	}
}
