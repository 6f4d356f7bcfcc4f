package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryVersion struct {
	id          string
	data        []byte
	contentType string
	metadata    map[string]string
}

// MemoryStore is a versioned in-process ObjectStore used for local runs
// when no bucket is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]memoryVersion
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]memoryVersion)}
}

func (m *MemoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string, metadata map[string]string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read body for %s: %w", key, err)
	}

	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}

	v := memoryVersion{id: uuid.NewString(), data: data, contentType: contentType, metadata: md}

	m.mu.Lock()
	m.objects[key] = append(m.objects[key], v)
	m.mu.Unlock()

	return v.id, nil
}

func (m *MemoryStore) Get(_ context.Context, key, version string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.lookup(key, version)
	if !ok {
		return nil, fmt.Errorf("get object %s: %w", key, ErrObjectNotFound)
	}

	return &Object{
		ContentType: v.contentType,
		VersionID:   v.id,
		Metadata:    v.metadata,
		Body:        io.NopCloser(bytes.NewReader(v.data)),
	}, nil
}

func (m *MemoryStore) Copy(ctx context.Context, srcKey, srcVersion, dstKey string) (string, error) {
	m.mu.RLock()
	v, ok := m.lookup(srcKey, srcVersion)
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("copy %s to %s: %w", srcKey, dstKey, ErrObjectNotFound)
	}

	return m.Put(ctx, dstKey, bytes.NewReader(v.data), int64(len(v.data)), v.contentType, v.metadata)
}

// PresignPut returns a pseudo URL; uploads go through Put directly.
func (m *MemoryStore) PresignPut(_ context.Context, key, contentType string, ttl time.Duration) (*PresignedUpload, error) {
	return &PresignedUpload{
		Key:       key,
		URL:       "memory://" + key,
		Method:    "PUT",
		Headers:   map[string]string{"Content-Type": contentType},
		ExpiresAt: time.Now().Add(ttl).UTC(),
	}, nil
}

// Versions returns how many versions exist for key.
func (m *MemoryStore) Versions(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects[key])
}

// Keys returns every key with at least one version.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

// lookup must be called with the lock held.
func (m *MemoryStore) lookup(key, version string) (memoryVersion, bool) {
	versions := m.objects[key]
	if len(versions) == 0 {
		return memoryVersion{}, false
	}
	if version == "" {
		return versions[len(versions)-1], true
	}
	for _, v := range versions {
		if v.id == version {
			return v, true
		}
	}
	return memoryVersion{}, false
}
