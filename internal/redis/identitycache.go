package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdentityCache memoizes opaque recipient ids. Tax ids never appear in
// keys in clear: they are hashed together with the recipient type.
type IdentityCache struct {
	client *Client
	ttl    time.Duration
}

// NewIdentityCache creates a cache whose entries live for ttl.
func NewIdentityCache(client *Client, ttl time.Duration) *IdentityCache {
	return &IdentityCache{client: client, ttl: ttl}
}

func (c *IdentityCache) key(recipientType, taxID string) string {
	sum := sha256.Sum256([]byte(recipientType + ":" + taxID))
	return "opaqueid:" + hex.EncodeToString(sum[:])
}

// Get returns the cached opaque id and whether it was present.
func (c *IdentityCache) Get(ctx context.Context, recipientType, taxID string) (string, bool, error) {
	val, err := c.client.rdb.Get(ctx, c.key(recipientType, taxID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return val, true, nil
}

// Set stores an opaque id.
func (c *IdentityCache) Set(ctx context.Context, recipientType, taxID, opaqueID string) error {
	if err := c.client.rdb.Set(ctx, c.key(recipientType, taxID), opaqueID, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
