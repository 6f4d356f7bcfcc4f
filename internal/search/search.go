// Package search pages through the notification index by sender or
// recipient over a time window.
package search

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/db"
	"github.com/ioggstream/pn-delivery/internal/model"
	"github.com/ioggstream/pn-delivery/internal/status"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
	// MaxSearchMonths bounds the month buckets one search may touch.
	MaxSearchMonths = 12
	monthLayout     = "200601"
)

// Querier runs one index query.
type Querier interface {
	QueryMetadata(ctx context.Context, q db.MetadataQuery) ([]model.MetadataEntry, error)
}

// Filters narrow a search. Counterpart is the recipient id for a sender
// search and the sender id for a recipient search.
type Filters struct {
	Status       model.Status
	Groups       []string
	Counterpart  string
	Size         int
	NextPagesKey string
}

// Item is one search result.
type Item struct {
	IUN              string    `json:"iun"`
	PaProtocolNumber string    `json:"paProtocolNumber"`
	SenderID         string    `json:"sender"`
	SentAt           time.Time `json:"sentAt"`
	Subject          string    `json:"subject"`
	Status           string    `json:"notificationStatus"`
	RecipientIDs     []string  `json:"recipients"`
	Group            string    `json:"group,omitempty"`
}

// Page is a slice of results plus the key of the next page, if any.
type Page struct {
	Results      []Item `json:"resultsPage"`
	MoreResult   bool   `json:"moreResult"`
	NextPagesKey string `json:"nextPagesKey,omitempty"`
}

type cursor struct {
	Month  string    `json:"m"`
	SentAt time.Time `json:"t"`
	Key    string    `json:"k"`
}

// Service answers sender and recipient searches.
type Service struct {
	index  Querier
	logger *zap.Logger
}

func NewService(index Querier, logger *zap.Logger) *Service {
	return &Service{index: index, logger: logger}
}

// SearchSent lists notifications sent by senderID between start and end.
func (s *Service) SearchSent(ctx context.Context, senderID string, start, end time.Time, f Filters) (*Page, error) {
	if f.Counterpart != "" {
		return s.search(ctx, db.BySenderRecipient, func(string) string {
			return status.Concat(senderID, f.Counterpart)
		}, start, end, f, false)
	}
	return s.search(ctx, db.BySenderCreationMonth, func(month string) string {
		return status.Concat(senderID, month)
	}, start, end, f, true)
}

// SearchReceived lists notifications addressed to recipientID between start and end.
func (s *Service) SearchReceived(ctx context.Context, recipientID string, start, end time.Time, f Filters) (*Page, error) {
	if f.Counterpart != "" {
		return s.search(ctx, db.BySenderRecipient, func(string) string {
			return status.Concat(f.Counterpart, recipientID)
		}, start, end, f, false)
	}
	return s.search(ctx, db.ByRecipientCreationMonth, func(month string) string {
		return status.Concat(recipientID, month)
	}, start, end, f, false)
}

// search walks month partitions newest first until a page plus one extra
// row is collected. Keys that are not month-partitioned run as a single
// partition covering the whole window.
func (s *Service) search(ctx context.Context, column db.KeyColumn, keyFor func(month string) string, start, end time.Time, f Filters, firstOnly bool) (*Page, error) {
	if !end.After(start) {
		return nil, model.NewValidationError("endDate must be after startDate")
	}
	if n := MonthSpan(start, end); n > MaxSearchMonths {
		return nil, model.NewValidationError(fmt.Sprintf("search window spans %d months, at most %d allowed", n, MaxSearchMonths))
	}
	size := PageSize(f.Size)

	after, err := decodeCursor(f.NextPagesKey)
	if err != nil {
		return nil, err
	}

	months := []string{""}
	if column != db.BySenderRecipient {
		months = Months(start, end)
	}

	var rows []monthRow
	for _, month := range months {
		if after != nil && after.Month != "" && month != "" && month > after.Month {
			continue
		}

		q := db.MetadataQuery{
			Column:    column,
			Value:     keyFor(month),
			From:      start,
			To:        end,
			Status:    string(f.Status),
			Groups:    f.Groups,
			FirstOnly: firstOnly,
			Limit:     size + 1 - len(rows),
		}
		if after != nil && after.Month == month {
			q.AfterSentAt = after.SentAt
			q.AfterKey = after.Key
		}

		found, err := s.index.QueryMetadata(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", column, err)
		}
		rows = append(rows, tagMonth(found, month)...)
		if len(rows) > size {
			break
		}
	}

	page := &Page{Results: make([]Item, 0, min(len(rows), size))}
	for i, row := range rows {
		if i == size {
			page.MoreResult = true
			last := rows[size-1]
			page.NextPagesKey = encodeCursor(cursor{Month: last.month, SentAt: last.SentAt, Key: last.IUNRecipientID})
			break
		}
		page.Results = append(page.Results, toItem(row.MetadataEntry))
	}

	s.logger.Debug("search completed",
		zap.String("column", string(column)),
		zap.Int("results", len(page.Results)),
		zap.Bool("more", page.MoreResult),
	)
	return page, nil
}

type monthRow struct {
	model.MetadataEntry
	month string
}

func tagMonth(entries []model.MetadataEntry, month string) []monthRow {
	out := make([]monthRow, len(entries))
	for i, e := range entries {
		out[i] = monthRow{MetadataEntry: e, month: month}
	}
	return out
}

func toItem(e model.MetadataEntry) Item {
	return Item{
		IUN:              e.TableRow[model.RowIUN],
		PaProtocolNumber: e.TableRow[model.RowPaProtocolNumber],
		SenderID:         e.SenderID,
		SentAt:           e.SentAt,
		Subject:          e.TableRow[model.RowSubject],
		Status:           e.NotificationStatus,
		RecipientIDs:     e.RecipientIDs,
		Group:            e.NotificationGroup,
	}
}

// PageSize clamps a requested size to (0, MaxPageSize].
func PageSize(requested int) int {
	switch {
	case requested <= 0:
		return DefaultPageSize
	case requested > MaxPageSize:
		return MaxPageSize
	default:
		return requested
	}
}

// Months lists the yyyyMM buckets touched by [start, end), newest first.
func Months(start, end time.Time) []string {
	first, cur := monthBounds(start, end)
	var months []string
	for !cur.Before(first) {
		months = append(months, cur.Format(monthLayout))
		cur = cur.AddDate(0, -1, 0)
	}
	return months
}

// MonthSpan counts the buckets Months would return without listing them.
func MonthSpan(start, end time.Time) int {
	first, last := monthBounds(start, end)
	if last.Before(first) {
		return 0
	}
	return (last.Year()-first.Year())*12 + int(last.Month()-first.Month()) + 1
}

// monthBounds returns the first day of the oldest and newest month in [start, end).
func monthBounds(start, end time.Time) (time.Time, time.Time) {
	start, end = start.UTC(), end.UTC()
	first := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	if end.Equal(last) && last.After(first) {
		last = last.AddDate(0, -1, 0)
	}
	return first, last
}

func encodeCursor(c cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(key string) (*cursor, error) {
	if key == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return nil, model.NewValidationError("nextPagesKey is malformed")
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.Key == "" {
		return nil, model.NewValidationError("nextPagesKey is malformed")
	}
	return &c, nil
}
