package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/attachment"
	"github.com/ioggstream/pn-delivery/internal/events"
	"github.com/ioggstream/pn-delivery/internal/iun"
	"github.com/ioggstream/pn-delivery/internal/model"
	"github.com/ioggstream/pn-delivery/internal/storage"
)

type fakeStore struct {
	mu        sync.Mutex
	conflicts int
	err       error
	attempts  []string
	saved     map[string]model.Notification
}

func newFakeStore(conflicts int) *fakeStore {
	return &fakeStore{conflicts: conflicts, saved: map[string]model.Notification{}}
}

func (s *fakeStore) InsertNotification(_ context.Context, n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, n.IUN)
	if s.err != nil {
		return s.err
	}
	if s.conflicts > 0 {
		s.conflicts--
		return model.ErrPrimaryKeyConflict
	}
	s.saved[n.IUN] = n
	return nil
}

type countingMaterializer struct {
	inner *attachment.Materializer
	calls int
}

func (c *countingMaterializer) Materialize(ctx context.Context, n model.Notification) (model.Notification, error) {
	c.calls++
	return c.inner.Materialize(ctx, n)
}

type recordingPublisher struct {
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.events = append(p.events, ev)
	return p.err
}

type fixture struct {
	svc     *Service
	store   *fakeStore
	objects *storage.MemoryStore
	mat     *countingMaterializer
	pub     *recordingPublisher
}

func newFixture(conflicts, iunRetry int) *fixture {
	objects := storage.NewMemoryStore()
	f := &fixture{
		store:   newFakeStore(conflicts),
		objects: objects,
		mat:     &countingMaterializer{inner: attachment.NewMaterializer(objects, false, zap.NewNop())},
		pub:     &recordingPublisher{},
	}
	allocator := iun.NewAllocator(iun.NewGenerator(nil, nil), zap.NewNop())
	f.svc = NewService(allocator, f.mat, f.store, f.pub, Config{IUNRetry: iunRetry}, zap.NewNop())
	f.svc.now = func() time.Time { return time.Date(2023, 5, 10, 8, 0, 0, 0, time.UTC) }
	return f
}

func validNotification() model.Notification {
	body := base64.StdEncoding.EncodeToString([]byte("%PDF-1.7 act"))
	return model.Notification{
		PaProtocolNumber:          "PROT-001",
		Sender:                    model.Sender{PaID: "paId-1", Denomination: "Comune di Milano"},
		Subject:                   "Multa",
		SentAt:                    time.Date(2023, 5, 10, 8, 0, 0, 0, time.UTC),
		NotificationFeePolicy:     model.FeePolicyFlatRate,
		PhysicalCommunicationType: model.PhysicalRegisteredLetter890,
		Recipients: []model.Recipient{
			{TaxID: "RSSMRA80A01H501U", RecipientType: model.RecipientTypePF, Denomination: "Mario Rossi"},
		},
		Documents: []model.Attachment{
			{ContentType: "application/pdf", Digests: model.Digests{SHA256: "ignored"}, Body: body},
		},
	}
}

func TestIngest_Success(t *testing.T) {
	f := newFixture(0, 3)

	res, err := f.svc.Ingest(context.Background(), validNotification())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !iun.Valid(res.IUN) {
		t.Errorf("invalid iun %q", res.IUN)
	}
	if res.PaProtocolNumber != "PROT-001" {
		t.Errorf("expected caller protocol number, got %q", res.PaProtocolNumber)
	}

	saved, ok := f.store.saved[res.IUN]
	if !ok {
		t.Fatal("notification not persisted under returned iun")
	}
	doc := saved.Documents[0]
	if !doc.IsResolved() || doc.Ref.Key != attachment.DocumentKey(res.IUN, 0) {
		t.Errorf("document not materialized: %+v", doc)
	}

	if len(f.pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.pub.events))
	}
	ev := f.pub.events[0]
	if ev.IUN != res.IUN || ev.EventID != res.IUN+"_start" || ev.PaID != "paId-1" || ev.EventType != events.NewNotification {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestIngest_CollisionsRetryWithFreshCandidates(t *testing.T) {
	f := newFixture(2, 5)

	res, err := f.svc.Ingest(context.Background(), validNotification())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.store.attempts) != 3 {
		t.Fatalf("expected 3 insert attempts, got %d", len(f.store.attempts))
	}
	if f.mat.calls != 3 {
		t.Errorf("expected 3 materialization passes, got %d", f.mat.calls)
	}
	if f.store.attempts[2] != res.IUN {
		t.Errorf("returned iun %s is not the last attempted %s", res.IUN, f.store.attempts[2])
	}
	seen := map[string]bool{}
	for _, c := range f.store.attempts {
		if seen[c] {
			t.Errorf("candidate %s reused", c)
		}
		seen[c] = true
	}

	// Attachments of discarded candidates stay behind.
	if n := len(f.objects.Keys()); n != 3 {
		t.Errorf("expected 3 stored objects, got %d", n)
	}
}

func TestIngest_SingleAttemptWhenRetryIsOne(t *testing.T) {
	f := newFixture(100, 1)

	_, err := f.svc.Ingest(context.Background(), validNotification())
	if !errors.Is(err, model.ErrAllocationExhausted) {
		t.Fatalf("expected ErrAllocationExhausted, got %v", err)
	}
	if len(f.store.attempts) != 1 {
		t.Errorf("expected exactly one attempt, got %d", len(f.store.attempts))
	}
	keys := f.objects.Keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], f.store.attempts[0]+"/") {
		t.Errorf("expected the attempt's attachment to remain, got %v", keys)
	}
}

func TestIngest_AlwaysConflictStopsAtMaxAttempts(t *testing.T) {
	f := newFixture(100, 4)

	_, err := f.svc.Ingest(context.Background(), validNotification())
	if !errors.Is(err, model.ErrAllocationExhausted) {
		t.Fatalf("expected ErrAllocationExhausted, got %v", err)
	}
	if len(f.store.attempts) != 4 {
		t.Errorf("expected 4 attempts, got %d", len(f.store.attempts))
	}
}

func TestIngest_ValidationHappensFirst(t *testing.T) {
	f := newFixture(0, 3)
	n := validNotification()
	n.Recipients = nil

	_, err := f.svc.Ingest(context.Background(), n)

	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if f.mat.calls != 0 || len(f.store.attempts) != 0 || len(f.pub.events) != 0 {
		t.Error("validation failure must have no side effects")
	}
	if len(f.objects.Keys()) != 0 {
		t.Error("nothing should be uploaded")
	}
}

func TestIngest_MissingStagingObject(t *testing.T) {
	f := newFixture(0, 3)
	n := validNotification()
	n.Documents[0].Body = ""
	n.Documents[0].Ref = &model.AttachmentRef{Key: "PN_NOTIFICATION_ATTACHMENTS-0001", VersionToken: "v1"}

	_, err := f.svc.Ingest(context.Background(), n)
	if !errors.Is(err, model.ErrAttachmentResolution) {
		t.Fatalf("expected ErrAttachmentResolution, got %v", err)
	}
	if len(f.store.attempts) != 0 {
		t.Error("nothing should be persisted")
	}
	if len(f.pub.events) != 0 {
		t.Error("no event should be emitted")
	}
}

func TestIngest_PreloadedDocumentPromoted(t *testing.T) {
	f := newFixture(0, 3)
	ctx := context.Background()
	version, err := f.objects.Put(ctx, attachment.PreloadKey("paId-1", "doc-1"), strings.NewReader("%PDF"), 4, "application/pdf", nil)
	if err != nil {
		t.Fatal(err)
	}
	n := validNotification()
	n.Documents[0].Body = ""
	n.Documents[0].Ref = &model.AttachmentRef{Key: "doc-1", VersionToken: version}

	res, err := f.svc.Ingest(ctx, n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc := f.store.saved[res.IUN].Documents[0]
	if doc.Ref.Key != attachment.DocumentKey(res.IUN, 0) {
		t.Errorf("expected promoted key, got %s", doc.Ref.Key)
	}
}

func TestIngest_PublishFailureDoesNotFail(t *testing.T) {
	f := newFixture(0, 3)
	f.pub.err = errors.New("queue unavailable")

	if _, err := f.svc.Ingest(context.Background(), validNotification()); err != nil {
		t.Fatalf("publish failure must not fail ingestion: %v", err)
	}
	if len(f.store.saved) != 1 {
		t.Error("notification should be persisted")
	}
}

func TestIngest_StoreFailureStopsLoop(t *testing.T) {
	f := newFixture(0, 5)
	f.store.err = errors.New("connection reset")

	_, err := f.svc.Ingest(context.Background(), validNotification())
	if err == nil || errors.Is(err, model.ErrAllocationExhausted) {
		t.Fatalf("expected store error, got %v", err)
	}
	if len(f.store.attempts) != 1 {
		t.Errorf("expected a single attempt, got %d", len(f.store.attempts))
	}
}
