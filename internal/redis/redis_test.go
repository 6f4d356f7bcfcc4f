package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	return &Client{rdb: rdb, logger: zap.NewNop()}, mr
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.PoolSize != defaultPoolSize || cfg.OpTimeout != defaultOpTimeout {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	cfg = Config{PoolSize: 5, OpTimeout: time.Second}.withDefaults()
	if cfg.PoolSize != 5 || cfg.OpTimeout != time.Second {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
}

func TestNew_Health(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	port, _ := strconv.Atoi(mr.Port())

	client, err := New(context.Background(), Config{Host: mr.Host(), Port: port}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	if err := client.Health(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
	mr.Close()
	if err := client.Health(context.Background()); err == nil {
		t.Error("expected error after server stopped")
	}
}

func TestNew_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	port, _ := strconv.Atoi(mr.Port())
	mr.Close()

	if _, err := New(context.Background(), Config{Host: mr.Host(), Port: port}, zap.NewNop()); err == nil {
		t.Fatal("expected ping failure")
	}
}
