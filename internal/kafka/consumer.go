package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer drives.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	readers  map[string]MessageReader
	handlers map[string]EventHandler
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type EventHandler func(ctx context.Context, message kafka.Message) error

func NewConsumer(brokers []string, groupID string, topics []string, m *metrics.Metrics, logger zerolog.Logger) *Consumer {
	readers := make(map[string]MessageReader, len(topics))
	for _, topic := range topics {
		readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        groupID,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        1 * time.Second,
			CommitInterval: 1 * time.Second,
			StartOffset:    kafka.LastOffset,
		})
	}
	return newConsumer(readers, m, logger)
}

func newConsumer(readers map[string]MessageReader, m *metrics.Metrics, logger zerolog.Logger) *Consumer {
	return &Consumer{
		readers:  readers,
		handlers: make(map[string]EventHandler),
		metrics:  m,
		logger:   logger.With().Str("component", "kafka").Logger(),
	}
}

func (c *Consumer) RegisterHandler(topic string, handler EventHandler) {
	c.handlers[topic] = handler
}

func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	for topic, reader := range c.readers {
		c.wg.Add(1)
		go c.consumeFromReader(ctx, topic, reader)
	}
	c.logger.Info().Int("topics", len(c.readers)).Msg("Kafka consumer started")
}

func (c *Consumer) consumeFromReader(ctx context.Context, topic string, reader MessageReader) {
	defer c.wg.Done()
	c.logger.Info().Str("topic", topic).Msg("Starting consumer for topic")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Str("topic", topic).Msg("Failed to fetch message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.logger.Debug().
			Str("topic", topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Received message")

		c.dispatch(ctx, topic, msg)

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Str("topic", topic).Msg("Failed to commit message")
		}
	}
}

// dispatch runs the topic handler. Handler errors are logged and the message
// is still committed; a bad event must not block the partition.
func (c *Consumer) dispatch(ctx context.Context, topic string, msg kafka.Message) {
	handler, ok := c.handlers[topic]
	if !ok {
		c.logger.Warn().Str("topic", topic).Msg("No handler registered for topic")
		c.metrics.IncKafkaMessage(topic, "unhandled")
		return
	}
	if err := handler(ctx, msg); err != nil {
		c.logger.Error().Err(err).Str("topic", topic).Msg("Handler failed")
		c.metrics.IncKafkaMessage(topic, "error")
		return
	}
	c.metrics.IncKafkaMessage(topic, "ok")
}

func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	var lastErr error
	for topic, reader := range c.readers {
		if err := reader.Close(); err != nil {
			lastErr = err
			c.logger.Error().Err(err).Str("topic", topic).Msg("Failed to close reader")
		}
	}

	c.logger.Info().Msg("Kafka consumer stopped")
	return lastErr
}
