// Package kafka publishes status documents to a compacted Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config holds kafka sink configuration.
type Config struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink writes each blob as one message keyed by the blob name, so a compacted
// topic keeps the latest document per name.
type Sink struct {
	writer messageWriter
	now    func() time.Time
}

// NewSink creates a kafka sink.
func NewSink(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka sink: topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return newSink(writer), nil
}

func newSink(writer messageWriter) *Sink {
	return &Sink{writer: writer, now: time.Now}
}

// Name returns "kafka".
func (s *Sink) Name() string { return "kafka" }

// SaveBlob publishes data under the blob name key.
func (s *Sink) SaveBlob(ctx context.Context, name string, data []byte) error {
	msg := kafka.Message{
		Key:   []byte(name),
		Value: data,
		Time:  s.now().UTC(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *Sink) Close() error {
	if s.writer != nil {
		return s.writer.Close()
	}
	return nil
}
