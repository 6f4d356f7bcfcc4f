package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type recorder struct {
	got []Event
	err error
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.got = append(r.got, ev)
	return r.err
}

func TestNewNotificationEvent(t *testing.T) {
	at := time.Date(2023, 5, 10, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	ev := NewNotificationEvent("202305-abc", "paId-1", at)

	if ev.EventID != "202305-abc_start" {
		t.Errorf("unexpected event id %s", ev.EventID)
	}
	if ev.EventType != NewNotification || ev.Publisher != "DELIVERY" {
		t.Errorf("unexpected header %+v", ev)
	}
	if ev.CreatedAt.Location() != time.UTC || !ev.CreatedAt.Equal(at) {
		t.Errorf("expected UTC instant equal to input, got %s", ev.CreatedAt)
	}
}

func TestMulti_PublishesToAllAndJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("queue down")}
	m := Multi{bad, ok, NewLogPublisher(zap.NewNop())}

	err := m.Publish(context.Background(), NewNotificationEvent("iun", "pa", time.Now()))
	if !errors.Is(err, bad.err) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.got) != 1 || len(bad.got) != 1 {
		t.Error("every sink must receive the event")
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := (Multi{}).Publish(context.Background(), Event{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
