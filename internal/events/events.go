// Package events defines the domain events emitted by the delivery service
// and the publishers that carry them.
package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Type names a domain event.
type Type string

const (
	// NewNotification is emitted once per accepted notification.
	NewNotification Type = "NEW_NOTIFICATION"

	// PublisherDelivery identifies this service as the event source.
	PublisherDelivery = "DELIVERY"
)

// Event is the envelope sent to queues and topics.
type Event struct {
	IUN       string    `json:"iun"`
	EventID   string    `json:"eventId"`
	PaID      string    `json:"paId"`
	CreatedAt time.Time `json:"createdAt"`
	EventType Type      `json:"eventType"`
	Publisher string    `json:"publisher"`
}

// NewNotificationEvent builds the event announcing an accepted notification.
func NewNotificationEvent(iun, paID string, createdAt time.Time) Event {
	return Event{
		IUN:       iun,
		EventID:   iun + "_start",
		PaID:      paID,
		CreatedAt: createdAt.UTC(),
		EventType: NewNotification,
		Publisher: PublisherDelivery,
	}
}

// Publisher hands events to a sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Multi publishes to every sink and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes events to the log. Used when no queue or topic is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (l *LogPublisher) Publish(_ context.Context, ev Event) error {
	l.logger.Info("event emitted",
		zap.String("event_type", string(ev.EventType)),
		zap.String("event_id", ev.EventID),
		zap.String("iun", ev.IUN),
		zap.String("pa_id", ev.PaID),
	)
	return nil
}
