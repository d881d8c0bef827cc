package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"github.com/settleline-recon-engine/internal/config"
)

// EventProducer publishes job and exception change events for polling clients.
// Events are best-effort notifications; readers fall back to bounded polling,
// so publish failures are logged but never fail the originating operation.
type EventProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

func NewEventProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*EventProducer, error) {
	if cfg.EventTopic == "" {
		return nil, fmt.Errorf("kafka event topic is not configured")
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for event producer: %w", err)
	}
	defer conn.Close()

	err = ensureTopic(conn, cfg.EventTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure event topic %s exists: %w", cfg.EventTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.EventTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		WriteTimeout: cfg.MaxWait,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Failed to write event messages asynchronously", "topic", cfg.EventTopic, "error", err, "count", len(messages))
			}
		},
	}

	return &EventProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.EventTopic,
	}, nil
}

func (p *EventProducer) Publish(ctx context.Context, key string, value interface{}) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal event value: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: jsonValue,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish change event",
			"topic", p.topic,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("failed to publish event to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published change event", "topic", p.topic, "key", key)
	return nil
}

func (p *EventProducer) Close() error {
	p.logger.Info("Closing event Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close event kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
