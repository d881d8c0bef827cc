package producers

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// MessagePublisher publishes JSON-encoded values keyed for partition
// affinity. Both the run-request producer and the change-event producer
// satisfy it, so services depend on this interface rather than a topic.
type MessagePublisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
	Close() error
}

// DeadLetterPublisher parks messages that permanently failed handling
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, key string, originalMessageValue []byte, reason string) error
	Close() error
}

// KafkaWriter is the slice of kafka.Writer the producers use, extracted so
// tests can substitute a mock
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
