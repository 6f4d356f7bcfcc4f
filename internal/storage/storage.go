// Package storage is the object store gateway for notification attachments.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// MetadataSHA256 is the user-metadata key carrying the declared digest.
const MetadataSHA256 = "sha256"

// ErrObjectNotFound is returned when a key (or key version) does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Object is a fetched object. Callers must close Body.
type Object struct {
	ContentType string
	VersionID   string
	Metadata    map[string]string
	Body        io.ReadCloser
}

// ObjectStore is a versioned key/value blob store.
type ObjectStore interface {
	// Put writes body under key and returns the new version id.
	Put(ctx context.Context, key string, body io.Reader, length int64, contentType string, metadata map[string]string) (string, error)

	// Get fetches key at version; an empty version means the latest.
	Get(ctx context.Context, key, version string) (*Object, error)

	// Copy duplicates srcKey at srcVersion to dstKey server-side and
	// returns the version id of the new object.
	Copy(ctx context.Context, srcKey, srcVersion, dstKey string) (string, error)
}

// PresignedUpload is a time-limited URL a client can PUT an object to.
type PresignedUpload struct {
	Key       string            `json:"key"`
	URL       string            `json:"url"`
	Method    string            `json:"httpMethod"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Presigner issues upload URLs for the preload area.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (*PresignedUpload, error)
}
