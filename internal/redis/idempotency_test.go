package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestIdempotencyService_NewRequest(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, time.Hour, zap.NewNop())

	result, err := svc.CheckOrReserve(context.Background(), "paId-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for new request, got: %+v", result)
	}
}

func TestIdempotencyService_DuplicateInFlight(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, time.Hour, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "paId-1", "key-1"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if _, err := svc.CheckOrReserve(ctx, "paId-1", "key-1"); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got: %v", err)
	}
}

func TestIdempotencyService_ReserveThenStore(t *testing.T) {
	client, mr := setupTestRedis(t)
	svc := NewIdempotencyService(client, time.Hour, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "paId-1", "key-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	if err := svc.Store(ctx, "paId-1", "key-1", &IdempotencyResult{
		IUN:              "202305-abc",
		PaProtocolNumber: "proto-1",
		StatusCode:       202,
	}); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	cached, err := svc.CheckOrReserve(ctx, "paId-1", "key-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if cached == nil || cached.IUN != "202305-abc" || cached.PaProtocolNumber != "proto-1" {
		t.Fatalf("unexpected cached result %+v", cached)
	}
	if cached.CreatedAt == 0 {
		t.Error("expected CreatedAt to be set")
	}

	if ttl := mr.TTL("idempotency:paId-1:key-1"); ttl != time.Hour {
		t.Errorf("expected 1h ttl, got %s", ttl)
	}
}

func TestIdempotencyService_SenderIsolation(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, time.Hour, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "paId-A", "same-key"); err != nil {
		t.Fatalf("sender A failed: %v", err)
	}
	result, err := svc.CheckOrReserve(ctx, "paId-B", "same-key")
	if err != nil || result != nil {
		t.Fatalf("sender B should get a fresh reservation, got %+v, %v", result, err)
	}
}

func TestIdempotencyService_ReleaseAllowsRetry(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, time.Hour, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "paId-1", "key-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := svc.Release(ctx, "paId-1", "key-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := svc.CheckOrReserve(ctx, "paId-1", "key-1"); err != nil {
		t.Fatalf("expected key to be reservable again, got %v", err)
	}
}

func TestIdempotencyService_ReleaseKeepsStoredResult(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, time.Hour, zap.NewNop())
	ctx := context.Background()

	if err := svc.Store(ctx, "paId-1", "key-1", &IdempotencyResult{IUN: "202305-abc"}); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if err := svc.Release(ctx, "paId-1", "key-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	cached, err := svc.Check(ctx, "paId-1", "key-1")
	if err != nil || cached == nil {
		t.Fatalf("stored result must survive release, got %+v, %v", cached, err)
	}
}
