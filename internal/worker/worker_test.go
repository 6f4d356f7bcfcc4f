package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/model"
	"github.com/ioggstream/pn-delivery/internal/sqs"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []sqs.Message
	deleted  []string
	delayed  map[string]int32
}

func newFakeQueue(msgs ...sqs.Message) *fakeQueue {
	return &fakeQueue{messages: msgs, delayed: map[string]int32{}}
}

func (q *fakeQueue) Receive(_ context.Context, max int32) ([]sqs.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := int(max)
	if n > len(q.messages) {
		n = len(q.messages)
	}
	out := q.messages[:n]
	q.messages = q.messages[n:]
	return out, nil
}

func (q *fakeQueue) Delete(_ context.Context, rh string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, rh)
	return nil
}

func (q *fakeQueue) ChangeVisibility(_ context.Context, rh string, seconds int32) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed[rh] = seconds
	return nil
}

type fakeApplier struct {
	errs    map[string]error
	applied map[string]model.Status
}

func (q *fakeQueue) deletedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deleted)
}

func (a *fakeApplier) ApplyStatus(_ context.Context, iun string, s model.Status) error {
	if err := a.errs[iun]; err != nil {
		return err
	}
	if a.applied == nil {
		a.applied = map[string]model.Status{}
	}
	a.applied[iun] = s
	return nil
}

func msg(rh, body string, receives int) sqs.Message {
	return sqs.Message{ID: "id-" + rh, Body: []byte(body), ReceiptHandle: rh, ReceiveCount: receives}
}

func TestProcessBatch(t *testing.T) {
	queue := newFakeQueue(
		msg("ok", `{"iun":"IUN-1","status":"DELIVERED"}`, 1),
		msg("missing", `{"iun":"IUN-2","status":"DELIVERED"}`, 1),
		msg("bad-date", `{"iun":"IUN-3","status":"DELIVERED"}`, 1),
		msg("flaky", `{"iun":"IUN-4","status":"DELIVERED"}`, 2),
		msg("garbage", `not json`, 1),
		msg("unknown-status", `{"iun":"IUN-5","status":"LOST"}`, 1),
	)
	applier := &fakeApplier{errs: map[string]error{
		"IUN-2": model.ErrNotFound,
		"IUN-3": model.ErrUnparseableTimestamp,
		"IUN-4": errors.New("connection reset"),
	}}

	w := New(queue, applier, Config{}, zap.NewNop())
	w.processBatch(context.Background())

	if applier.applied["IUN-1"] != model.StatusDelivered {
		t.Error("IUN-1 should be applied")
	}

	deleted := map[string]bool{}
	for _, rh := range queue.deleted {
		deleted[rh] = true
	}
	for _, rh := range []string{"ok", "missing", "bad-date", "garbage", "unknown-status"} {
		if !deleted[rh] {
			t.Errorf("%s should be deleted", rh)
		}
	}
	if deleted["flaky"] {
		t.Error("retryable failure must stay on the queue")
	}
	if got := queue.delayed["flaky"]; got != int32((5 * time.Minute).Seconds()) {
		t.Errorf("expected 5 minute delay for second attempt, got %d", got)
	}
}

func TestProcessMessage_ExceededRetriesLeftForRedrive(t *testing.T) {
	queue := newFakeQueue()
	applier := &fakeApplier{errs: map[string]error{"IUN-1": errors.New("timeout")}}
	w := New(queue, applier, Config{MaxRetries: 3}, zap.NewNop())

	w.processMessage(context.Background(), msg("rh", `{"iun":"IUN-1","status":"VIEWED"}`, 3))

	if len(queue.deleted) != 0 || len(queue.delayed) != 0 {
		t.Error("message past its retries should be left untouched")
	}
}

func TestCalculateNextRetry(t *testing.T) {
	w := New(newFakeQueue(), &fakeApplier{}, Config{}, zap.NewNop())
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Minute},
		{2, 5 * time.Minute},
		{3, 15 * time.Minute},
		{9, 15 * time.Minute},
	}
	for _, tt := range tests {
		if got := w.calculateNextRetry(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: got %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	queue := newFakeQueue(msg("ok", `{"iun":"IUN-1","status":"ACCEPTED"}`, 1))
	applier := &fakeApplier{}
	w := New(queue, applier, Config{PollInterval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		time.Sleep(5 * time.Millisecond)
		select {
		case <-deadline:
			t.Fatal("message not processed in time")
		default:
		}
		if queue.deletedCount() == 1 {
			break
		}
	}
	cancel()
	<-done
}
