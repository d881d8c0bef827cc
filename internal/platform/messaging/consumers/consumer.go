package consumers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/settleline-recon-engine/internal/config"
)

// MessageHandler processes one queued message. A nil return commits the
// offset; an error leaves the message uncommitted for redelivery, so
// handlers must route permanently bad messages to the DLQ themselves
// before returning nil.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer defines the message queue consumer interface
type Consumer interface {
	Subscribe(ctx context.Context, topic string, groupID string, handler MessageHandler) error
	Close() error
}

// KafkaConsumer reads run requests from the queue with commit-after-handle
// semantics
type KafkaConsumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

func NewKafkaConsumer(_ context.Context, logger *slog.Logger, cfg *config.KafkaConfig) *KafkaConsumer {
	startOffset := kafka.FirstOffset
	if cfg.StartOffset == kafka.LastOffset {
		startOffset = kafka.LastOffset
	}

	return &KafkaConsumer{
		logger: logger,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{cfg.Brokers},
			Topic:       cfg.RunRequestTopic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			MaxWait:     cfg.MaxWait,
			StartOffset: startOffset,
		}),
	}
}

// Subscribe consumes messages until the context is cancelled. It blocks, so
// callers run it on its own goroutine. A handler error leaves the offset
// uncommitted; the broker will redeliver.
func (c *KafkaConsumer) Subscribe(ctx context.Context, topic string, groupID string, handler MessageHandler) error {
	c.logger.Info("Consuming run requests",
		"topic", topic,
		"group_id", groupID,
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("Consumer stopped", "topic", topic, "group_id", groupID)
				return nil
			}
			c.logger.Error("Failed to fetch message",
				"topic", topic,
				"group_id", groupID,
				"error", err,
			)
			// Transient broker trouble. Back off briefly before retrying.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		c.logger.Debug("Run request received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
		)

		if err := handler(ctx, msg.Key, msg.Value); err != nil {
			c.logger.Error("Run request handling failed, offset not committed",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", err,
			)
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit offset after handling",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", err,
			)
		}
	}
}

func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
