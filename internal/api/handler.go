package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/attachment"
	"github.com/ioggstream/pn-delivery/internal/ingest"
	"github.com/ioggstream/pn-delivery/internal/model"
	"github.com/ioggstream/pn-delivery/internal/redis"
	"github.com/ioggstream/pn-delivery/internal/search"
	"github.com/ioggstream/pn-delivery/internal/storage"
)

// CxIDHeader carries the caller id set by the API gateway: the sender paId
// on sender routes and the opaque recipient id on recipient routes.
const CxIDHeader = "x-pagopa-pn-cx-id"

// Ingester accepts new notifications.
type Ingester interface {
	Ingest(ctx context.Context, n model.Notification) (*ingest.Result, error)
}

// NotificationReader loads a stored notification.
type NotificationReader interface {
	GetNotificationByIUN(ctx context.Context, iun string) (*model.Notification, error)
}

// StatusApplier rewrites the index rows of a notification.
type StatusApplier interface {
	ApplyStatus(ctx context.Context, iun string, newStatus model.Status) error
}

// Searcher pages through the notification index.
type Searcher interface {
	SearchSent(ctx context.Context, senderID string, start, end time.Time, f search.Filters) (*search.Page, error)
	SearchReceived(ctx context.Context, recipientID string, start, end time.Time, f search.Filters) (*search.Page, error)
}

// Idempotency deduplicates ingestion requests.
type Idempotency interface {
	CheckOrReserve(ctx context.Context, paID, key string) (*redis.IdempotencyResult, error)
	Store(ctx context.Context, paID, key string, result *redis.IdempotencyResult) error
	Release(ctx context.Context, paID, key string) error
}

// Services groups the collaborators of the handler.
type Services struct {
	Ingester  Ingester
	Reader    NotificationReader
	Status    StatusApplier
	Search    Searcher
	Presigner storage.Presigner
}

// PreloadConfig bounds presigned upload requests.
type PreloadConfig struct {
	MaxRequests int
	TTL         time.Duration
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	svc         Services
	preload     PreloadConfig
	idempotency Idempotency // nil if Redis not configured
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, svc Services, preload PreloadConfig) *Handler {
	if preload.MaxRequests <= 0 {
		preload.MaxRequests = 15
	}
	if preload.TTL <= 0 {
		preload.TTL = 15 * time.Minute
	}
	return &Handler{
		logger:  logger,
		svc:     svc,
		preload: preload,
	}
}

// NewHandlerWithIdempotency creates a handler with idempotency support
func NewHandlerWithIdempotency(logger *zap.Logger, svc Services, preload PreloadConfig, idempotency Idempotency) *Handler {
	h := NewHandler(logger, svc, preload)
	h.idempotency = idempotency
	return h
}

// Routes mounts the delivery routes on r. rateLimit wraps the sender routes.
func (h *Handler) Routes(r chi.Router, senderLimit, privateLimit func(http.Handler) http.Handler) {
	r.Route("/delivery", func(r chi.Router) {
		if senderLimit != nil {
			r.Use(senderLimit)
		}
		r.Post("/requests", h.SendNotification)
		r.Post("/attachments/preload", h.PreloadAttachments)
		r.Get("/notifications/sent", h.SearchSent)
		r.Get("/notifications/sent/{iun}", h.GetSentNotification)
		r.Get("/notifications/received", h.SearchReceived)
	})

	r.Route("/delivery-private", func(r chi.Router) {
		if privateLimit != nil {
			r.Use(privateLimit)
		}
		r.Post("/notifications/update-status", h.UpdateStatus)
	})
}

// SendNotification handles POST /delivery/requests.
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	paID := r.Header.Get(CxIDHeader)
	if paID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing caller id", CxIDHeader+" header is required")
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var n model.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	n.Sender.PaID = paID

	reserved := false
	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, paID, idempotencyKey)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			h.writeError(w, http.StatusConflict, "duplicate_request",
				"Request is already being processed",
				"Another request with this idempotency key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		case cached != nil:
			w.Header().Set("X-Idempotency-Replayed", "true")
			h.writeJSON(w, cached.StatusCode, ingest.Result{IUN: cached.IUN, PaProtocolNumber: cached.PaProtocolNumber})
			return
		default:
			reserved = true
		}
	}

	res, err := h.svc.Ingester.Ingest(ctx, n)
	if err != nil {
		if reserved {
			if relErr := h.idempotency.Release(ctx, paID, idempotencyKey); relErr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(relErr))
			}
		}
		h.writeDomainError(w, err, "Failed to accept notification")
		return
	}

	if reserved {
		result := &redis.IdempotencyResult{
			IUN:              res.IUN,
			PaProtocolNumber: res.PaProtocolNumber,
			StatusCode:       http.StatusAccepted,
		}
		if err := h.idempotency.Store(ctx, paID, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	h.writeJSON(w, http.StatusAccepted, res)
}

// PreloadRequest asks for one presigned upload slot.
type PreloadRequest struct {
	PreloadIdx  string `json:"preloadIdx"`
	ContentType string `json:"contentType"`
	SHA256      string `json:"sha256"`
}

// PreloadResponse describes a presigned upload slot. Key is what the sender
// later puts in the attachment ref.
type PreloadResponse struct {
	PreloadIdx string            `json:"preloadIdx"`
	Key        string            `json:"key"`
	HTTPMethod string            `json:"httpMethod"`
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// PreloadAttachments handles POST /delivery/attachments/preload
func (h *Handler) PreloadAttachments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	paID := r.Header.Get(CxIDHeader)
	if paID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing caller id", CxIDHeader+" header is required")
		return
	}
	if h.svc.Presigner == nil {
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "Preload not available", "")
		return
	}

	var reqs []PreloadRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if len(reqs) == 0 || len(reqs) > h.preload.MaxRequests {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid preload request",
			"between 1 and "+strconv.Itoa(h.preload.MaxRequests)+" uploads can be requested at once")
		return
	}

	out := make([]PreloadResponse, 0, len(reqs))
	for _, req := range reqs {
		if req.ContentType == "" {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid preload request", "contentType is required")
			return
		}
		key := "PN_NOTIFICATION_ATTACHMENTS-" + uuid.NewString()
		up, err := h.svc.Presigner.PresignPut(ctx, attachment.PreloadKey(paID, key), req.ContentType, h.preload.TTL)
		if err != nil {
			h.logger.Error("failed to presign upload", zap.Error(err), zap.String("pa_id", paID))
			h.writeError(w, http.StatusInternalServerError, "storage_error", "Failed to presign upload", "")
			return
		}
		out = append(out, PreloadResponse{
			PreloadIdx: req.PreloadIdx,
			Key:        key,
			HTTPMethod: up.Method,
			URL:        up.URL,
			Headers:    up.Headers,
		})
	}

	h.logger.Info("preload slots issued", zap.String("pa_id", paID), zap.Int("count", len(out)))
	h.writeJSON(w, http.StatusOK, out)
}

// GetSentNotification handles GET /delivery/notifications/sent/{iun}
func (h *Handler) GetSentNotification(w http.ResponseWriter, r *http.Request) {
	paID := r.Header.Get(CxIDHeader)
	iun := chi.URLParam(r, "iun")

	n, err := h.svc.Reader.GetNotificationByIUN(r.Context(), iun)
	if err != nil {
		h.writeDomainError(w, err, "Failed to load notification")
		return
	}
	// Another sender's notification is reported as missing.
	if n.Sender.PaID != paID {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return
	}

	h.writeJSON(w, http.StatusOK, n)
}

// SearchSent handles GET /delivery/notifications/sent
func (h *Handler) SearchSent(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, "recipientId", h.svc.Search.SearchSent)
}

// SearchReceived handles GET /delivery/notifications/received
func (h *Handler) SearchReceived(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, "senderId", h.svc.Search.SearchReceived)
}

type searchFunc func(ctx context.Context, id string, start, end time.Time, f search.Filters) (*search.Page, error)

func (h *Handler) search(w http.ResponseWriter, r *http.Request, counterpartParam string, run searchFunc) {
	cxID := r.Header.Get(CxIDHeader)
	if cxID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing caller id", CxIDHeader+" header is required")
		return
	}

	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("startDate"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid startDate", "startDate must be an RFC3339 instant")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("endDate"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid endDate", "endDate must be an RFC3339 instant")
		return
	}

	f := search.Filters{
		Counterpart:  q.Get(counterpartParam),
		Groups:       q["group"],
		NextPagesKey: q.Get("nextPagesKey"),
	}
	if s := q.Get("status"); s != "" {
		f.Status = model.Status(s)
		if !f.Status.Valid() {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status", "unknown status "+s)
			return
		}
	}
	if sizeStr := q.Get("size"); sizeStr != "" {
		if s, err := strconv.Atoi(sizeStr); err == nil && s > 0 {
			f.Size = s
		}
	}

	page, err := run(r.Context(), cxID, start, end, f)
	if err != nil {
		h.writeDomainError(w, err, "Search failed")
		return
	}

	h.writeJSON(w, http.StatusOK, page)
}

// UpdateStatusRequest is the body of a status update.
type UpdateStatusRequest struct {
	IUN    string       `json:"iun"`
	Status model.Status `json:"status"`
}

// UpdateStatus handles POST /delivery-private/notifications/update-status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.IUN == "" || !req.Status.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status update", "iun and a known status are required")
		return
	}

	if err := h.svc.Status.ApplyStatus(r.Context(), req.IUN, req.Status); err != nil {
		h.writeDomainError(w, err, "Failed to apply status")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeDomainError maps service errors to problem responses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, title string) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid notification", ve.Error())
	case errors.Is(err, model.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
	case errors.Is(err, model.ErrUnparseableTimestamp):
		h.writeError(w, http.StatusUnprocessableEntity, "unparseable_timestamp", "Notification sentAt cannot be indexed", err.Error())
	default:
		h.logger.Error(title, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", title, "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
