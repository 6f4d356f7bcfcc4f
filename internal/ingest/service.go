// Package ingest accepts new notifications: it validates them, assigns an
// IUN, stores their attachments and persists the record.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/events"
	"github.com/ioggstream/pn-delivery/internal/iun"
	"github.com/ioggstream/pn-delivery/internal/metrics"
	"github.com/ioggstream/pn-delivery/internal/model"
)

// Materializer stores the attachments of a notification that already has an IUN.
type Materializer interface {
	Materialize(ctx context.Context, n model.Notification) (model.Notification, error)
}

// Result is returned for an accepted notification.
type Result struct {
	IUN              string `json:"notificationRequestId"`
	PaProtocolNumber string `json:"paProtocolNumber"`
}

// Config tunes the service.
type Config struct {
	// IUNRetry is the number of IUN candidates to try. Values below 1 mean one.
	IUNRetry int
}

// Service runs the ingestion sequence.
type Service struct {
	validator    *Validator
	allocator    *iun.Allocator
	materializer Materializer
	store        iun.Inserter
	publisher    events.Publisher
	cfg          Config
	now          func() time.Time
	logger       *zap.Logger
}

// NewService creates the ingestion service.
func NewService(
	allocator *iun.Allocator,
	materializer Materializer,
	store iun.Inserter,
	publisher events.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		validator:    NewValidator(),
		allocator:    allocator,
		materializer: materializer,
		store:        store,
		publisher:    publisher,
		cfg:          cfg,
		now:          time.Now,
		logger:       logger,
	}
}

// Ingest accepts n and returns its IUN with the caller's protocol number.
//
// For each IUN candidate the attachments are stored under that IUN, the
// NEW_NOTIFICATION event is emitted and the record is inserted. The event
// precedes the insert, so consumers see it as "attachments exist under this
// IUN" rather than as a commit. Attachments written under a candidate that
// then collides are left in the store.
func (s *Service) Ingest(ctx context.Context, n model.Notification) (*Result, error) {
	if err := s.validator.Validate(n); err != nil {
		return nil, err
	}

	maxAttempts := iun.MaxAttempts(s.cfg.IUNRetry)
	paID := n.Sender.PaID

	assigned, err := s.allocator.AllocateWith(ctx, maxAttempts, func(ctx context.Context, candidate string) error {
		stored, err := s.materializer.Materialize(ctx, n.WithIUN(candidate))
		if err != nil {
			return err
		}

		s.emit(ctx, events.NewNotificationEvent(candidate, paID, s.now()))

		return s.store.InsertNotification(ctx, stored)
	})
	if err != nil {
		s.logger.Error("notification rejected",
			zap.String("pa_id", paID),
			zap.String("pa_protocol_number", n.PaProtocolNumber),
			zap.String("iun", assigned),
			zap.Error(err),
		)
		return nil, fmt.Errorf("ingest notification: %w", err)
	}

	metrics.RecordNotificationAccepted(paID)
	s.logger.Info("notification accepted",
		zap.String("iun", assigned),
		zap.String("pa_id", paID),
		zap.String("pa_protocol_number", n.PaProtocolNumber),
	)

	return &Result{IUN: assigned, PaProtocolNumber: n.PaProtocolNumber}, nil
}

// emit publishes ev and only logs a failure.
func (s *Service) emit(ctx context.Context, ev events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to emit event",
			zap.String("iun", ev.IUN),
			zap.String("event_type", string(ev.EventType)),
			zap.Error(err),
		)
	}
}
