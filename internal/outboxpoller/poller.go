// Package outboxpoller drains the transactional outbox: committed money
// movements write an event row in the posting transaction, and the poller
// publishes those rows to Kafka with bounded retries and a dead letter queue
// for rows that keep failing.
package outboxpoller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/outbox"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/messaging/producers"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/metrics"
)

// Poller processes pending outbox messages
type Poller struct {
	logger           *slog.Logger
	outboxRepo       outbox.Repository
	publisher        producers.MessagePublisher
	dlqPublisher     producers.DeadLetterPublisher
	metrics          *metrics.Metrics
	pollInterval     time.Duration
	batchSize        int
	maxRetryAttempts int
}

func NewPoller(
	logger *slog.Logger,
	cfg *config.OutboxConfig,
	outboxRepo outbox.Repository,
	publisher producers.MessagePublisher,
	dlqPublisher producers.DeadLetterPublisher,
	m *metrics.Metrics,
) *Poller {
	return &Poller{
		logger:           logger,
		outboxRepo:       outboxRepo,
		publisher:        publisher,
		dlqPublisher:     dlqPublisher,
		metrics:          m,
		pollInterval:     cfg.PollingInterval,
		batchSize:        cfg.BatchSize,
		maxRetryAttempts: cfg.MaxRetryAttempts,
	}
}

// Start begins polling until context is canceled
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting outbox poller",
		"poll_interval", p.pollInterval.String(),
		"batch_size", p.batchSize,
		"max_retry_attempts", p.maxRetryAttempts,
	)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox poller stopping due to context cancellation.")
			return
		case <-ticker.C:
			if err := p.processPendingMessages(ctx); err != nil {
				p.logger.Error("Error during batch processing of pending outbox messages", "error", err)
			}
		}
	}
}

func (p *Poller) processPendingMessages(ctx context.Context) error {
	messages, err := p.outboxRepo.GetPending(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending outbox messages: %w", err)
	}

	if len(messages) == 0 {
		return nil
	}

	p.logger.Debug("Fetched pending outbox messages", "count", len(messages))

	for _, msg := range messages {
		p.processMessage(ctx, msg)
	}
	return nil
}

func (p *Poller) processMessage(ctx context.Context, msg *outbox.Message) {
	key := msg.TxnID.String()

	err := p.publisher.Publish(ctx, key, msg.Payload)
	p.metrics.ObserveOutboxPublish(err)
	if err == nil {
		if uerr := p.outboxRepo.UpdateStatus(ctx, msg.ID, outbox.StatusProcessed); uerr != nil {
			p.logger.Error("Failed to mark outbox message processed", "outbox_id", msg.ID, "error", uerr)
			return
		}
		p.logger.Debug("Published outbox message", "outbox_id", msg.ID, "txn_id", key)
		return
	}

	p.logger.Error("Failed to publish outbox message",
		"outbox_id", msg.ID, "txn_id", key, "current_attempts", msg.Attempts, "error", err)

	if ierr := p.outboxRepo.IncrementAttempts(ctx, msg.ID); ierr != nil {
		p.logger.Error("Failed to increment attempts for outbox message", "outbox_id", msg.ID, "error", ierr)
		return
	}

	if msg.Attempts+1 < p.maxRetryAttempts {
		return
	}

	p.logger.Warn("Max retry attempts reached for outbox message",
		"outbox_id", msg.ID, "txn_id", key, "attempts_made", msg.Attempts+1)

	if p.dlqPublisher != nil {
		if derr := p.dlqPublisher.PublishToDLQ(ctx, key, msg.Payload, err.Error()); derr != nil {
			p.logger.Error("Failed to publish outbox message to DLQ", "outbox_id", msg.ID, "error", derr)
			// Keep the row pending so the next sweep retries the DLQ.
			return
		}
	}

	if uerr := p.outboxRepo.UpdateStatus(ctx, msg.ID, outbox.StatusFailedToPublish); uerr != nil {
		p.logger.Error("Failed to mark outbox message as failed", "outbox_id", msg.ID, "error", uerr)
	}
}
