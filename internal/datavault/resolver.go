package datavault

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/circuitbreaker"
	"github.com/ioggstream/pn-delivery/internal/metrics"
	"github.com/ioggstream/pn-delivery/internal/model"
)

// Cache stores resolved opaque ids.
type Cache interface {
	Get(ctx context.Context, recipientType, taxID string) (string, bool, error)
	Set(ctx context.Context, recipientType, taxID, opaqueID string) error
}

// CachedResolver memoizes a Resolver. Cache errors are logged and the
// call falls through to the wrapped resolver.
type CachedResolver struct {
	next   Resolver
	cache  Cache
	logger *zap.Logger
}

func NewCachedResolver(next Resolver, cache Cache, logger *zap.Logger) *CachedResolver {
	return &CachedResolver{next: next, cache: cache, logger: logger}
}

func (r *CachedResolver) EnsureRecipientByExternalID(ctx context.Context, recipientType model.RecipientType, taxID string) (string, error) {
	id, ok, err := r.cache.Get(ctx, string(recipientType), taxID)
	if err != nil {
		r.logger.Warn("identity cache read failed", zap.Error(err))
	}
	if ok {
		metrics.RecordIdentityLookup("cache")
		return id, nil
	}

	id, err = r.next.EnsureRecipientByExternalID(ctx, recipientType, taxID)
	if err != nil {
		return "", err
	}
	metrics.RecordIdentityLookup("datavault")

	if err := r.cache.Set(ctx, string(recipientType), taxID, id); err != nil {
		r.logger.Warn("identity cache write failed", zap.Error(err))
	}
	return id, nil
}

// ProtectedResolver runs a Resolver behind a circuit breaker.
type ProtectedResolver struct {
	next    Resolver
	breaker *circuitbreaker.Breaker
}

func NewProtectedResolver(next Resolver, breaker *circuitbreaker.Breaker) *ProtectedResolver {
	return &ProtectedResolver{next: next, breaker: breaker}
}

func (r *ProtectedResolver) EnsureRecipientByExternalID(ctx context.Context, recipientType model.RecipientType, taxID string) (string, error) {
	var id string
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		id, err = r.next.EnsureRecipientByExternalID(ctx, recipientType, taxID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("resolve %s recipient: %w", recipientType, err)
	}
	return id, nil
}

// Breaker exposes the breaker for health reporting.
func (r *ProtectedResolver) Breaker() *circuitbreaker.Breaker {
	return r.breaker
}
