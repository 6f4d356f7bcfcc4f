// Package worker consumes status change messages and applies them to the
// search index.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/metrics"
	"github.com/ioggstream/pn-delivery/internal/model"
	"github.com/ioggstream/pn-delivery/internal/sqs"
)

// Queue is the subset of the SQS consumer the worker needs.
type Queue interface {
	Receive(ctx context.Context, max int32) ([]sqs.Message, error)
	Delete(ctx context.Context, receiptHandle string) error
	ChangeVisibility(ctx context.Context, receiptHandle string, seconds int32) error
}

// StatusApplier rewrites the index rows of a notification.
type StatusApplier interface {
	ApplyStatus(ctx context.Context, iun string, newStatus model.Status) error
}

// StatusMessage is the body of a status change message.
type StatusMessage struct {
	IUN    string       `json:"iun"`
	Status model.Status `json:"status"`
}

type Worker struct {
	queue   Queue
	applier StatusApplier
	config  Config
	logger  *zap.Logger
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int32
	MaxRetries   int
}

func New(queue Queue, applier StatusApplier, cfg Config, logger *zap.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	return &Worker{
		queue:   queue,
		applier: applier,
		config:  cfg,
		logger:  logger,
	}
}

func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	messages, err := w.queue.Receive(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to receive status messages", zap.Error(err))
		return
	}
	metrics.SetSQSMessagesInFlight(len(messages))
	defer metrics.SetSQSMessagesInFlight(0)

	for _, msg := range messages {
		w.processMessage(ctx, msg)
	}
}

func (w *Worker) processMessage(ctx context.Context, msg sqs.Message) {
	var sm StatusMessage
	if err := json.Unmarshal(msg.Body, &sm); err != nil || sm.IUN == "" || !sm.Status.Valid() {
		w.logger.Error("discarding malformed status message",
			zap.String("message_id", msg.ID),
			zap.ByteString("body", msg.Body),
		)
		w.discard(ctx, msg, "malformed")
		return
	}

	err := w.applier.ApplyStatus(ctx, sm.IUN, sm.Status)
	switch {
	case err == nil:
		w.logger.Info("status message applied",
			zap.String("iun", sm.IUN),
			zap.String("status", string(sm.Status)),
		)
		w.discard(ctx, msg, "applied")

	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrUnparseableTimestamp):
		// Redelivery cannot fix these.
		w.logger.Warn("dropping status message",
			zap.String("iun", sm.IUN),
			zap.Error(err),
		)
		w.discard(ctx, msg, "dropped")

	default:
		attempt := msg.ReceiveCount
		if attempt < 1 {
			attempt = 1
		}
		w.logger.Error("failed to apply status",
			zap.String("iun", sm.IUN),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		metrics.RecordStatusMessage("retry")

		if attempt >= w.config.MaxRetries {
			// Left for the queue's redrive policy.
			w.logger.Error("status message exceeded retries",
				zap.String("iun", sm.IUN),
				zap.String("message_id", msg.ID),
				zap.Int("attempts", attempt),
			)
			return
		}

		delay := int32(w.calculateNextRetry(attempt).Seconds())
		if err := w.queue.ChangeVisibility(ctx, msg.ReceiptHandle, delay); err != nil {
			w.logger.Warn("failed to delay status message", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
}

func (w *Worker) discard(ctx context.Context, msg sqs.Message, outcome string) {
	metrics.RecordStatusMessage(outcome)
	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Error("failed to delete status message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

// calculateNextRetry returns how long a failed message stays hidden.
func (w *Worker) calculateNextRetry(attempt int) time.Duration {
	delays := []time.Duration{
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
	}

	idx := attempt - 1
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}
