package status

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/datavault"
	"github.com/ioggstream/pn-delivery/internal/metrics"
	"github.com/ioggstream/pn-delivery/internal/model"
)

// Store reads notifications and writes index rows.
type Store interface {
	GetNotificationByIUN(ctx context.Context, iun string) (*model.Notification, error)
	PutMetadata(ctx context.Context, m *model.MetadataEntry) error
}

// Service applies status changes to the search index.
type Service struct {
	store    Store
	resolver datavault.Resolver
	logger   *zap.Logger
}

func NewService(store Store, resolver datavault.Resolver, logger *zap.Logger) *Service {
	return &Service{store: store, resolver: resolver, logger: logger}
}

// ApplyStatus rewrites every index row of iun with newStatus.
//
// Rows are written one at a time with no transaction. If a write fails
// after others succeeded the error wraps model.ErrPartialFanOut; running
// the call again rewrites the same rows.
func (s *Service) ApplyStatus(ctx context.Context, iun string, newStatus model.Status) error {
	n, err := s.store.GetNotificationByIUN(ctx, iun)
	if err != nil {
		return err
	}

	opaqueIDs, err := s.resolveRecipients(ctx, n.Recipients)
	if err != nil {
		metrics.RecordFanOutFailure("identity")
		return fmt.Errorf("resolve recipients of %s: %w", iun, err)
	}

	month, err := CreationMonthOf(n.SentAt)
	if err != nil {
		metrics.RecordFanOutFailure("timestamp")
		return err
	}

	entries := BuildEntries(*n, newStatus, opaqueIDs, month)
	for i := range entries {
		if err := s.store.PutMetadata(ctx, &entries[i]); err != nil {
			s.logger.Error("failed to write index row",
				zap.String("iun", iun),
				zap.String("iun_recipient_id", entries[i].IUNRecipientID),
				zap.Int("written", i),
				zap.Int("total", len(entries)),
				zap.Error(err),
			)
			if i == 0 {
				metrics.RecordFanOutFailure("write")
				return fmt.Errorf("write index row: %w", err)
			}
			metrics.RecordFanOutFailure("partial")
			return fmt.Errorf("%w: %d of %d rows written: %w", model.ErrPartialFanOut, i, len(entries), err)
		}
	}

	metrics.RecordMetadataRows(len(entries))
	s.logger.Info("status applied",
		zap.String("iun", iun),
		zap.String("status", string(newStatus)),
		zap.Int("rows", len(entries)),
	)
	return nil
}

// resolveRecipients resolves each recipient once, in order.
func (s *Service) resolveRecipients(ctx context.Context, recipients []model.Recipient) ([]string, error) {
	if len(recipients) == 0 {
		return nil, errors.New("notification has no recipients")
	}
	ids := make([]string, len(recipients))
	for i, r := range recipients {
		id, err := s.resolver.EnsureRecipientByExternalID(ctx, r.RecipientType, r.TaxID)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}
