package model

import "time"

// MetadataEntry is one denormalized search row for a (notification, recipient)
// pair. Rows are derived data and are always written whole.
type MetadataEntry struct {
	IUNRecipientID           string            `json:"iun_recipientId"`
	NotificationStatus       string            `json:"notificationStatus"`
	SenderID                 string            `json:"senderId"`
	RecipientID              string            `json:"recipientId"`
	SentAt                   time.Time         `json:"sentAt"`
	NotificationGroup        string            `json:"notificationGroup,omitempty"`
	RecipientIDs             []string          `json:"recipientIds"`
	TableRow                 map[string]string `json:"tableRow"`
	SenderIDRecipientID      string            `json:"senderId_recipientId"`
	SenderIDCreationMonth    string            `json:"senderId_creationMonth"`
	RecipientIDCreationMonth string            `json:"recipientId_creationMonth"`
	RecipientOne             bool              `json:"recipientOne"`
}

// Table row field names.
const (
	RowIUN              = "iun"
	RowRecipientsIDs    = "recipientsIds"
	RowPaProtocolNumber = "paProtocolNumber"
	RowSubject          = "subject"
)
