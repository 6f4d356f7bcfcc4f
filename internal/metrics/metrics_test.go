package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/delivery/notifications/sent/{iun}", 200, 100*time.Millisecond)
	RecordRequest("POST", "/delivery/requests", 202, 50*time.Millisecond)
	RecordRequest("GET", "/delivery/notifications/sent/{iun}", 404, 10*time.Millisecond)
}

func TestDomainCounters(t *testing.T) {
	RecordNotificationAccepted("paId-1")
	RecordIUNCollision()
	RecordIUNExhausted()
	RecordAttachmentStored("inline")
	RecordAttachmentStored("preload")
	RecordMetadataRows(2)
	RecordFanOutFailure("partial")
	RecordIdentityLookup("cache")
	RecordEventPublished("sqs", "ok")
	RecordStatusMessage("applied")
	SetSQSMessagesInFlight(3)
	SetSQSMessagesInFlight(0)
	RecordIdempotencyHit()
	RecordRateLimitRejection("paId-1")
}

func TestHandler(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Fatal("Handler should not return nil")
	}

	RecordIUNCollision()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	if !strings.Contains(rec.Body.String(), "pn_delivery_iun_collisions_total") {
		t.Error("expected iun collision counter in metrics output")
	}
}

func TestMiddleware(t *testing.T) {
	innerCalled := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
		w.WriteHeader(http.StatusAccepted)
	})

	handler := Middleware(inner)
	req := httptest.NewRequest("POST", "/delivery/requests", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !innerCalled {
		t.Error("inner handler should have been called")
	}

	if rec.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", rec.Code)
	}
}

func TestRoutePattern_UsesChiPattern(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/sent/{iun}", func(w http.ResponseWriter, r *http.Request) {
		got = routePattern(r)
	})

	req := httptest.NewRequest("GET", "/sent/202305-abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got != "/sent/{iun}" {
		t.Errorf("expected route pattern /sent/{iun}, got %q", got)
	}
}

func TestRoutePattern_FallsBackToPath(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	if got := routePattern(req); got != "/health" {
		t.Errorf("expected /health, got %q", got)
	}
}

func TestResponseWriter_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.Write([]byte("test"))

	if rw.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", rw.status)
	}
}

func TestResponseWriter_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}
