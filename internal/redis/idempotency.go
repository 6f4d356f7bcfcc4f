package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/metrics"
)

const (
	// processingTTL bounds how long an in-flight ingestion holds its key.
	processingTTL = 5 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest indicates the same key is being processed right now.
var ErrDuplicateRequest = errors.New("duplicate request: idempotency key in progress")

// IdempotencyResult is the cached outcome of an accepted notification.
type IdempotencyResult struct {
	IUN              string `json:"iun"`
	PaProtocolNumber string `json:"paProtocolNumber"`
	StatusCode       int    `json:"statusCode"`
	CreatedAt        int64  `json:"createdAt"`
}

// IdempotencyService deduplicates ingestion requests per sender.
type IdempotencyService struct {
	client *Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewIdempotencyService creates a new idempotency service that retains
// results for ttl.
func NewIdempotencyService(client *Client, ttl time.Duration, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (s *IdempotencyService) buildKey(paID, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:%s:%s", paID, idempotencyKey)
}

// Check returns the cached result, nil when the key is unknown, or
// ErrDuplicateRequest while another request holds it.
func (s *IdempotencyService) Check(ctx context.Context, paID, idempotencyKey string) (*IdempotencyResult, error) {
	val, err := s.client.rdb.Get(ctx, s.buildKey(paID, idempotencyKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var result IdempotencyResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		s.logger.Error("failed to unmarshal idempotency result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	metrics.RecordIdempotencyHit()
	s.logger.Debug("idempotency cache hit",
		zap.String("pa_id", paID),
		zap.String("iun", result.IUN),
	)

	return &result, nil
}

// CheckOrReserve returns a cached result if present; otherwise it reserves
// the key with SET NX and returns nil. A concurrent holder yields
// ErrDuplicateRequest.
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, paID, idempotencyKey string) (*IdempotencyResult, error) {
	result, err := s.Check(ctx, paID, idempotencyKey)
	if err != nil || result != nil {
		return result, err
	}

	reserved, err := s.client.rdb.SetNX(ctx, s.buildKey(paID, idempotencyKey), processingMarker, processingTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !reserved {
		return nil, ErrDuplicateRequest
	}
	return nil, nil
}

// Store replaces the reservation with the final result.
func (s *IdempotencyService) Store(ctx context.Context, paID, idempotencyKey string, result *IdempotencyResult) error {
	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.rdb.Set(ctx, s.buildKey(paID, idempotencyKey), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release drops a reservation so the client can retry after a failure.
// A stored result is left alone.
func (s *IdempotencyService) Release(ctx context.Context, paID, idempotencyKey string) error {
	key := s.buildKey(paID, idempotencyKey)
	err := s.client.rdb.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) || (err == nil && val != processingMarker) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	return nil
}
