package iun

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/metrics"
	"github.com/ioggstream/pn-delivery/internal/model"
)

// Inserter persists a notification only if its IUN is not taken.
// It returns model.ErrPrimaryKeyConflict when the IUN already exists.
type Inserter interface {
	InsertNotification(ctx context.Context, n model.Notification) error
}

// AttemptFunc runs one allocation attempt under a candidate IUN.
type AttemptFunc func(ctx context.Context, iun string) error

// MaxAttempts returns the number of attempts to make for a configured
// retry count. Anything below 1 means a single attempt.
func MaxAttempts(configured int) int {
	if configured < 1 {
		return 1
	}
	return configured
}

// Allocator runs the bounded generate-and-insert loop.
type Allocator struct {
	gen    *Generator
	logger *zap.Logger
}

// NewAllocator creates an allocator drawing candidates from gen.
func NewAllocator(gen *Generator, logger *zap.Logger) *Allocator {
	return &Allocator{gen: gen, logger: logger}
}

// Allocate inserts n under a fresh IUN, retrying on conflict.
func (a *Allocator) Allocate(ctx context.Context, store Inserter, n model.Notification, maxAttempts int) (string, error) {
	return a.AllocateWith(ctx, maxAttempts, func(ctx context.Context, iun string) error {
		return store.InsertNotification(ctx, n.WithIUN(iun))
	})
}

// AllocateWith runs attempt with fresh candidates until it succeeds, fails
// with something other than a primary key conflict, or maxAttempts
// candidates have collided. At least one attempt is always made.
//
// On exhaustion the last candidate is returned together with an error
// wrapping model.ErrAllocationExhausted. On any other failure the current
// candidate is returned with the attempt's error unchanged.
func (a *Allocator) AllocateWith(ctx context.Context, maxAttempts int, attempt AttemptFunc) (string, error) {
	maxAttempts = MaxAttempts(maxAttempts)

	var candidate string
	for n := 1; ; n++ {
		candidate = a.gen.Next()

		err := attempt(ctx, candidate)
		if err == nil {
			if n > 1 {
				a.logger.Info("iun allocated after collisions",
					zap.String("iun", candidate),
					zap.Int("attempt", n),
				)
			}
			return candidate, nil
		}

		if !errors.Is(err, model.ErrPrimaryKeyConflict) {
			return candidate, err
		}

		metrics.RecordIUNCollision()
		a.logger.Warn("iun collision",
			zap.String("iun", candidate),
			zap.Int("attempt", n),
			zap.Int("max_attempts", maxAttempts),
		)

		if n >= maxAttempts {
			metrics.RecordIUNExhausted()
			return candidate, fmt.Errorf("%w: %d candidates collided, last %s",
				model.ErrAllocationExhausted, n, candidate)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return candidate, fmt.Errorf("allocation interrupted: %w", ctxErr)
		}
	}
}
