package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/metrics"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/events"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer  MessageWriter
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewProducer writes to whichever topic each message names.
func NewProducer(brokers []string, m *metrics.Metrics, logger zerolog.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}, m, logger)
}

func newProducer(w MessageWriter, m *metrics.Metrics, logger zerolog.Logger) *Producer {
	return &Producer{
		writer:  w,
		metrics: m,
		logger:  logger.With().Str("component", "kafka-producer").Logger(),
	}
}

// Publish marshals event as JSON and writes it to topic under key.
func (p *Producer) Publish(ctx context.Context, topic, key string, event interface{}) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	msg := kafka.Message{Topic: topic, Value: value}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.IncKafkaMessage(topic, "publish_error")
		return fmt.Errorf("write %s: %w", topic, err)
	}
	p.metrics.IncKafkaMessage(topic, "published")
	p.logger.Debug().Str("topic", topic).Str("key", key).Msg("Published event")
	return nil
}

func (p *Producer) PublishTestCompleted(ctx context.Context, event events.TestCompletedEvent) error {
	key := event.TestID
	if event.UserID != nil {
		key = *event.UserID
	}
	return p.Publish(ctx, events.TopicTestCompleted, key, event)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
