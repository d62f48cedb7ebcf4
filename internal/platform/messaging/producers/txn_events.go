// Package producers publishes committed wallet transaction events to Kafka
// for the vertical services that consume the ledger.
package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
)

// TxnEventProducer publishes transaction events to the main topic.
type TxnEventProducer struct {
	logger *slog.Logger
	writer KafkaWriter // interface for testability
	topic  string
}

// NewTxnEventProducer creates the producer and ensures the topic exists.
func NewTxnEventProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*TxnEventProducer, error) {
	if cfg.TxnEventsTopic == "" {
		return nil, fmt.Errorf("kafka txn events topic is not configured")
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for txn event producer: %w", err)
	}
	defer conn.Close()

	if err := createKafkaTopicIfNotExists(conn, cfg.TxnEventsTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure topic %s exists: %w", cfg.TxnEventsTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.TxnEventsTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false, // the outbox poller needs the write result to mark rows processed
		WriteTimeout: cfg.WriteTimeout,
	}

	return &TxnEventProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.TxnEventsTopic,
	}, nil
}

func (p *TxnEventProducer) Publish(ctx context.Context, key string, value interface{}) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal txn event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: jsonValue,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish txn event", "topic", p.topic, "key", key, "error", err)
		return fmt.Errorf("failed to publish txn event to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published txn event", "topic", p.topic, "key", key)
	return nil
}

func (p *TxnEventProducer) Close() error {
	p.logger.Info("Closing txn event producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
