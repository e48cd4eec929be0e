package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/0xmhha/pool-indexer/internal/config"
	"github.com/0xmhha/pool-indexer/internal/constants"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of kafka.Writer the sink uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes record envelopes to a Kafka topic, keyed by transaction hash
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink creates a writer for the configured brokers. Connections are
// opened lazily on the first write.
func NewKafkaSink(cfg config.KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = constants.DefaultKafkaTopic
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: requiredAcks(cfg.RequiredAcks),
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaSink(w, topic), nil
}

func newKafkaSink(w messageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic}
}

func requiredAcks(n int) kafka.RequiredAcks {
	switch n {
	case 0:
		return kafka.RequireNone
	case 1:
		return kafka.RequireOne
	default:
		return kafka.RequireAll
	}
}

// Name implements Sink
func (s *KafkaSink) Name() string { return "kafka" }

// Topic returns the topic records are written to
func (s *KafkaSink) Topic() string { return s.topic }

// Publish implements Sink
func (s *KafkaSink) Publish(ctx context.Context, rec *types.TransactionRecord) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(rec.TxHash),
		Value: data,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(rec.Action)},
			{Key: "source", Value: []byte(rec.Source)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to kafka topic %s: %w", s.topic, err)
	}
	return nil
}

// Close implements Sink
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
