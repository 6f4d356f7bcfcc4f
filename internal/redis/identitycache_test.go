package redis

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestIdentityCache_GetSet(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewIdentityCache(client, time.Hour)
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, "PF", "RSSMRA80A01H501U"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := cache.Set(ctx, "PF", "RSSMRA80A01H501U", "opaque-1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	id, ok, err := cache.Get(ctx, "PF", "RSSMRA80A01H501U")
	if err != nil || !ok || id != "opaque-1" {
		t.Fatalf("expected hit opaque-1, got %q ok=%v err=%v", id, ok, err)
	}

	if _, ok, _ := cache.Get(ctx, "PG", "RSSMRA80A01H501U"); ok {
		t.Error("recipient type must be part of the key")
	}

	for _, k := range mr.Keys() {
		if strings.Contains(k, "RSSMRA80A01H501U") {
			t.Errorf("tax id leaked into key %s", k)
		}
	}
}
