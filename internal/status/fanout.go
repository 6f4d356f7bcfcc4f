// Package status derives the search index rows of a notification from its
// current status.
package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/ioggstream/pn-delivery/internal/model"
)

// Separator joins the parts of every composite key.
const Separator = "##"

// Concat joins two key parts.
func Concat(a, b string) string {
	return a + Separator + b
}

// CreationMonth returns the "yyyyMM" bucket of an ISO-8601 instant by
// taking its first two hyphen-delimited segments. Anything else yields
// model.ErrUnparseableTimestamp.
func CreationMonth(isoInstant string) (string, error) {
	parts := strings.SplitN(isoInstant, "-", 3)
	if len(parts) < 3 || !digits(parts[0], 4) || !digits(parts[1], 2) {
		return "", fmt.Errorf("%w: %q", model.ErrUnparseableTimestamp, isoInstant)
	}
	return parts[0] + parts[1], nil
}

// CreationMonthOf buckets a sent-at time in UTC. The zero time is rejected.
func CreationMonthOf(sentAt time.Time) (string, error) {
	if sentAt.IsZero() {
		return "", fmt.Errorf("%w: sentAt not set", model.ErrUnparseableTimestamp)
	}
	return CreationMonth(sentAt.UTC().Format(time.RFC3339))
}

func digits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// BuildEntries returns one row per recipient, in recipient order.
// opaqueIDs[i] is the opaque id of n.Recipients[i]; every row shares the
// same list so recipientOne is true only for the first.
func BuildEntries(n model.Notification, status model.Status, opaqueIDs []string, creationMonth string) []model.MetadataEntry {
	senderID := n.Sender.PaID
	recipientIDs := append([]string(nil), opaqueIDs...)
	rendered := "[" + strings.Join(recipientIDs, ", ") + "]"

	entries := make([]model.MetadataEntry, 0, len(recipientIDs))
	for i, recipientID := range recipientIDs {
		entries = append(entries, model.MetadataEntry{
			IUNRecipientID:     Concat(n.IUN, recipientID),
			NotificationStatus: string(status),
			SenderID:           senderID,
			RecipientID:        recipientID,
			SentAt:             n.SentAt,
			NotificationGroup:  n.Group,
			RecipientIDs:       recipientIDs,
			TableRow: map[string]string{
				model.RowIUN:              n.IUN,
				model.RowRecipientsIDs:    rendered,
				model.RowPaProtocolNumber: n.PaProtocolNumber,
				model.RowSubject:          n.Subject,
			},
			SenderIDRecipientID:      Concat(senderID, recipientID),
			SenderIDCreationMonth:    Concat(senderID, creationMonth),
			RecipientIDCreationMonth: Concat(recipientID, creationMonth),
			RecipientOne:             i == 0,
		})
	}
	return entries
}
