// Package datavault resolves real recipient tax ids to the opaque ids used
// in the search index.
package datavault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/model"
)

// Resolver maps (recipient type, tax id) to an opaque id, creating it on
// first sight. Implementations must be deterministic per input.
type Resolver interface {
	EnsureRecipientByExternalID(ctx context.Context, recipientType model.RecipientType, taxID string) (string, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("datavault responded %d: %s", e.Code, e.Body)
}

// IsServerSide reports whether err points at the data vault rather than at
// the request. Client errors do not count against the circuit breaker.
func IsServerSide(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}

// Config holds the client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the data vault private API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a data vault client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// EnsureRecipientByExternalID posts the tax id and returns the opaque id.
func (c *Client) EnsureRecipientByExternalID(ctx context.Context, recipientType model.RecipientType, taxID string) (string, error) {
	endpoint := c.baseURL + "/datavault-private/v1/recipients/external/" + url.PathEscape(string(recipientType))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(taxID))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("datavault request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	opaque := strings.TrimSpace(string(body))
	if opaque == "" {
		return "", errors.New("datavault returned an empty opaque id")
	}

	c.logger.Debug("opaque id resolved", zap.String("recipient_type", string(recipientType)))
	return opaque, nil
}
