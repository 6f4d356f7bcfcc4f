// Package attachment turns notification attachments into stored objects.
//
// Inline attachments are decoded and uploaded. Referenced attachments are
// looked up in the sender's preload area and promoted with a server-side
// copy. Either way the result lives under a key derived from the IUN and
// the attachment's position, so retrying under the same IUN overwrites
// rather than duplicates.
package attachment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"

	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/metrics"
	"github.com/ioggstream/pn-delivery/internal/model"
	"github.com/ioggstream/pn-delivery/internal/storage"
)

const defaultContentType = "application/octet-stream"

// Materializer writes attachments to the object store.
type Materializer struct {
	store        storage.ObjectStore
	verifyDigest bool
	logger       *zap.Logger
}

// NewMaterializer creates a materializer. When verifyDigest is set, the
// declared SHA-256 of each attachment is checked against its bytes.
func NewMaterializer(store storage.ObjectStore, verifyDigest bool, logger *zap.Logger) *Materializer {
	return &Materializer{
		store:        store,
		verifyDigest: verifyDigest,
		logger:       logger,
	}
}

// Materialize stores every attachment of n and returns a copy in which
// each attachment carries a Ref to its stored version and no body.
// Inline bodies are decoded and checked before anything is written, so a
// bad inline attachment is a validation error with no side effect.
// Documents are then processed in order, followed by the F24 flat rate,
// digital and analog slots. The first failure stops processing; objects
// already written stay in the store and are overwritten by a retry under
// the same IUN.
func (m *Materializer) Materialize(ctx context.Context, n model.Notification) (model.Notification, error) {
	if n.IUN == "" {
		return model.Notification{}, errors.New("materialize: notification has no iun")
	}
	if err := m.checkInline(n); err != nil {
		return model.Notification{}, err
	}
	paID := n.Sender.PaID

	docs := make([]model.Attachment, len(n.Documents))
	for i, doc := range n.Documents {
		stored, err := m.resolve(ctx, paID, doc, DocumentKey(n.IUN, i))
		if err != nil {
			return model.Notification{}, err
		}
		docs[i] = stored
	}
	out := n.WithDocuments(docs)

	if n.Payment == nil || n.Payment.F24 == nil {
		return out, nil
	}

	payment := n.Payment.Clone()
	slots := []struct {
		name string
		att  **model.Attachment
	}{
		{SlotFlatRate, &payment.F24.FlatRate},
		{SlotDigital, &payment.F24.Digital},
		{SlotAnalog, &payment.F24.Analog},
	}
	for _, slot := range slots {
		if *slot.att == nil {
			continue
		}
		stored, err := m.resolve(ctx, paID, **slot.att, F24Key(n.IUN, slot.name))
		if err != nil {
			return model.Notification{}, err
		}
		*slot.att = &stored
	}

	return out.WithPayment(&payment), nil
}

func (m *Materializer) checkInline(n model.Notification) error {
	check := func(a *model.Attachment, key string) error {
		if a == nil || !a.IsInline() {
			return nil
		}
		data, err := base64.StdEncoding.DecodeString(a.Body)
		if err != nil {
			return model.NewValidationError(fmt.Sprintf("%s: body is not valid base64", key))
		}
		if m.verifyDigest {
			if err := checkDigest(a.Digests.SHA256, sha256.Sum256(data)); err != nil {
				return model.NewValidationError(fmt.Sprintf("%s: %v", key, err))
			}
		}
		return nil
	}

	for i := range n.Documents {
		if err := check(&n.Documents[i], DocumentKey(n.IUN, i)); err != nil {
			return err
		}
	}
	if n.Payment == nil || n.Payment.F24 == nil {
		return nil
	}
	f24 := n.Payment.F24
	if err := check(f24.FlatRate, F24Key(n.IUN, SlotFlatRate)); err != nil {
		return err
	}
	if err := check(f24.Digital, F24Key(n.IUN, SlotDigital)); err != nil {
		return err
	}
	return check(f24.Analog, F24Key(n.IUN, SlotAnalog))
}

func (m *Materializer) resolve(ctx context.Context, paID string, a model.Attachment, key string) (model.Attachment, error) {
	if a.IsInline() {
		return m.storeInline(ctx, a, key)
	}
	return m.promote(ctx, paID, a, key)
}

func (m *Materializer) storeInline(ctx context.Context, a model.Attachment, key string) (model.Attachment, error) {
	data, err := base64.StdEncoding.DecodeString(a.Body)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("%w: decode %s: %w", model.ErrAttachmentResolution, key, err)
	}

	contentType := a.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	version, err := m.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType,
		map[string]string{storage.MetadataSHA256: a.Digests.SHA256})
	if err != nil {
		return model.Attachment{}, fmt.Errorf("%w: %w", model.ErrAttachmentResolution, err)
	}

	metrics.RecordAttachmentStored("inline")
	m.logger.Debug("inline attachment stored",
		zap.String("key", key),
		zap.String("version_id", version),
		zap.Int("size", len(data)),
	)

	return a.Stored(key, version, contentType), nil
}

func (m *Materializer) promote(ctx context.Context, paID string, a model.Attachment, key string) (model.Attachment, error) {
	staging := PreloadKey(paID, a.Ref.Key)

	obj, err := m.store.Get(ctx, staging, a.Ref.VersionToken)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("%w: %w", model.ErrAttachmentResolution, err)
	}

	var sum hash.Hash
	if m.verifyDigest {
		sum = sha256.New()
		if _, err := io.Copy(sum, obj.Body); err != nil {
			obj.Body.Close()
			return model.Attachment{}, fmt.Errorf("%w: read %s: %w", model.ErrAttachmentResolution, staging, err)
		}
	}
	if err := obj.Body.Close(); err != nil {
		return model.Attachment{}, fmt.Errorf("%w: close %s: %w", model.ErrAttachmentResolution, staging, err)
	}
	if sum != nil {
		var digest [sha256.Size]byte
		copy(digest[:], sum.Sum(nil))
		if err := checkDigest(a.Digests.SHA256, digest); err != nil {
			return model.Attachment{}, fmt.Errorf("%w: %s: %w", model.ErrAttachmentResolution, staging, err)
		}
	}

	srcVersion := obj.VersionID
	if srcVersion == "" {
		srcVersion = a.Ref.VersionToken
	}

	version, err := m.store.Copy(ctx, staging, srcVersion, key)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("%w: %w", model.ErrAttachmentResolution, err)
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = a.ContentType
	}

	metrics.RecordAttachmentStored("preload")
	m.logger.Debug("preloaded attachment promoted",
		zap.String("staging_key", staging),
		zap.String("key", key),
		zap.String("version_id", version),
	)

	return a.Stored(key, version, contentType), nil
}

var errDigestMismatch = errors.New("sha256 digest does not match content")

func checkDigest(declared string, actual [sha256.Size]byte) error {
	if declared != base64.StdEncoding.EncodeToString(actual[:]) {
		return errDigestMismatch
	}
	return nil
}
