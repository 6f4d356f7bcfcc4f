package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/model"
)

// Repository handles database operations for notifications and their
// search index rows
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new notification repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const notificationColumns = `
	iun, pa_notification_id, subject, sent_at, cancelled_iun, cancelled_by_iun,
	sender_pa_id, sender_denomination, sender_tax_id,
	iuv, notice_code, creditor_tax_id,
	notification_fee_policy, physical_communication_type, notification_group,
	recipients,
	documents_keys, documents_digests_sha256, documents_version_ids,
	documents_content_types, documents_titles,
	f24_flat_rate_key, f24_flat_rate_digest_sha256, f24_flat_rate_version_id,
	f24_digital_key, f24_digital_digest_sha256, f24_digital_version_id,
	f24_analog_key, f24_analog_digest_sha256, f24_analog_version_id`

// InsertNotification stores a notification only if its IUN is free.
// A taken IUN yields model.ErrPrimaryKeyConflict and leaves the existing
// row untouched.
func (r *Repository) InsertNotification(ctx context.Context, n model.Notification) error {
	e, err := ToEntity(n)
	if err != nil {
		return fmt.Errorf("map notification: %w", err)
	}

	query := `INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
		ON CONFLICT (iun) DO NOTHING`

	tag, err := r.db.Pool().Exec(ctx, query,
		e.IUN, e.PaNotificationID, e.Subject, e.SentAt, e.CancelledIUN, e.CancelledByIUN,
		e.SenderPaID, e.SenderDenomination, e.SenderTaxID,
		e.IUV, e.NoticeCode, e.CreditorTaxID,
		e.NotificationFeePolicy, e.PhysicalCommunicationType, e.Group,
		e.Recipients,
		e.DocumentsKeys, e.DocumentsDigestsSHA256, e.DocumentsVersionIDs,
		e.DocumentsContentTypes, e.DocumentsTitles,
		e.F24FlatRate.Key, e.F24FlatRate.DigestSHA256, e.F24FlatRate.VersionID,
		e.F24Digital.Key, e.F24Digital.DigestSHA256, e.F24Digital.VersionID,
		e.F24Analog.Key, e.F24Analog.DigestSHA256, e.F24Analog.VersionID,
	)
	if err != nil {
		r.logger.Error("failed to insert notification",
			zap.Error(err),
			zap.String("iun", e.IUN),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert notification %s: %w", e.IUN, model.ErrPrimaryKeyConflict)
	}

	r.logger.Info("notification stored",
		zap.String("iun", e.IUN),
		zap.String("pa_id", e.SenderPaID),
		zap.Int("documents", len(e.DocumentsKeys)),
	)

	return nil
}

// GetNotificationByIUN loads a notification, or model.ErrNotFound.
func (r *Repository) GetNotificationByIUN(ctx context.Context, iun string) (*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE iun = $1`

	var e NotificationEntity
	err := r.db.Pool().QueryRow(ctx, query, iun).Scan(
		&e.IUN, &e.PaNotificationID, &e.Subject, &e.SentAt, &e.CancelledIUN, &e.CancelledByIUN,
		&e.SenderPaID, &e.SenderDenomination, &e.SenderTaxID,
		&e.IUV, &e.NoticeCode, &e.CreditorTaxID,
		&e.NotificationFeePolicy, &e.PhysicalCommunicationType, &e.Group,
		&e.Recipients,
		&e.DocumentsKeys, &e.DocumentsDigestsSHA256, &e.DocumentsVersionIDs,
		&e.DocumentsContentTypes, &e.DocumentsTitles,
		&e.F24FlatRate.Key, &e.F24FlatRate.DigestSHA256, &e.F24FlatRate.VersionID,
		&e.F24Digital.Key, &e.F24Digital.DigestSHA256, &e.F24Digital.VersionID,
		&e.F24Analog.Key, &e.F24Analog.DigestSHA256, &e.F24Analog.VersionID,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, iun)
	}

	if err != nil {
		r.logger.Error("failed to get notification",
			zap.Error(err),
			zap.String("iun", iun),
		)
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return e.ToModel()
}

// PutMetadata writes a search index row, replacing any previous version.
func (r *Repository) PutMetadata(ctx context.Context, m *model.MetadataEntry) error {
	tableRow, err := json.Marshal(m.TableRow)
	if err != nil {
		return fmt.Errorf("encode table row: %w", err)
	}

	query := `
		INSERT INTO notification_metadata (
			iun_recipient_id, notification_status, sender_id, recipient_id,
			sent_at, notification_group, recipient_ids, table_row,
			sender_id_recipient_id, sender_id_creation_month,
			recipient_id_creation_month, recipient_one
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (iun_recipient_id) DO UPDATE SET
			notification_status = EXCLUDED.notification_status,
			sender_id = EXCLUDED.sender_id,
			recipient_id = EXCLUDED.recipient_id,
			sent_at = EXCLUDED.sent_at,
			notification_group = EXCLUDED.notification_group,
			recipient_ids = EXCLUDED.recipient_ids,
			table_row = EXCLUDED.table_row,
			sender_id_recipient_id = EXCLUDED.sender_id_recipient_id,
			sender_id_creation_month = EXCLUDED.sender_id_creation_month,
			recipient_id_creation_month = EXCLUDED.recipient_id_creation_month,
			recipient_one = EXCLUDED.recipient_one,
			updated_at = NOW()
	`

	_, err = r.db.Pool().Exec(ctx, query,
		m.IUNRecipientID, m.NotificationStatus, m.SenderID, m.RecipientID,
		m.SentAt, m.NotificationGroup, m.RecipientIDs, tableRow,
		m.SenderIDRecipientID, m.SenderIDCreationMonth,
		m.RecipientIDCreationMonth, m.RecipientOne,
	)
	if err != nil {
		r.logger.Error("failed to write metadata",
			zap.Error(err),
			zap.String("iun_recipient_id", m.IUNRecipientID),
		)
		return fmt.Errorf("upsert metadata: %w", err)
	}

	return nil
}

// KeyColumn selects which composite key a metadata query runs on.
type KeyColumn string

const (
	BySenderCreationMonth    KeyColumn = "sender_id_creation_month"
	ByRecipientCreationMonth KeyColumn = "recipient_id_creation_month"
	BySenderRecipient        KeyColumn = "sender_id_recipient_id"
)

func (k KeyColumn) valid() bool {
	switch k {
	case BySenderCreationMonth, ByRecipientCreationMonth, BySenderRecipient:
		return true
	}
	return false
}

// MetadataQuery filters index rows by one composite key and a sentAt window.
// Results are ordered newest first; After* continue from a previous page.
// FirstOnly keeps one row per notification.
type MetadataQuery struct {
	Column      KeyColumn
	Value       string
	From        time.Time
	To          time.Time
	Status      string
	Groups      []string
	FirstOnly   bool
	Limit       int
	AfterSentAt time.Time
	AfterKey    string
}

// QueryMetadata returns index rows matching q.
func (r *Repository) QueryMetadata(ctx context.Context, q MetadataQuery) ([]model.MetadataEntry, error) {
	if !q.Column.valid() {
		return nil, fmt.Errorf("unsupported key column %q", q.Column)
	}

	var (
		where = []string{string(q.Column) + " = $1", "sent_at >= $2", "sent_at < $3"}
		args  = []any{q.Value, q.From, q.To}
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Status != "" {
		where = append(where, "notification_status = "+arg(q.Status))
	}
	if q.FirstOnly {
		where = append(where, "recipient_one")
	}
	if len(q.Groups) > 0 {
		where = append(where, "notification_group = ANY("+arg(q.Groups)+")")
	}
	if q.AfterKey != "" {
		where = append(where, "(sent_at, iun_recipient_id) < ("+arg(q.AfterSentAt)+", "+arg(q.AfterKey)+")")
	}

	query := `
		SELECT iun_recipient_id, notification_status, sender_id, recipient_id,
			sent_at, notification_group, recipient_ids, table_row,
			sender_id_recipient_id, sender_id_creation_month,
			recipient_id_creation_month, recipient_one
		FROM notification_metadata
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY sent_at DESC, iun_recipient_id DESC`
	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit)
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	var entries []model.MetadataEntry
	for rows.Next() {
		var (
			m        model.MetadataEntry
			tableRow []byte
		)
		err := rows.Scan(
			&m.IUNRecipientID, &m.NotificationStatus, &m.SenderID, &m.RecipientID,
			&m.SentAt, &m.NotificationGroup, &m.RecipientIDs, &tableRow,
			&m.SenderIDRecipientID, &m.SenderIDCreationMonth,
			&m.RecipientIDCreationMonth, &m.RecipientOne,
		)
		if err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		if err := json.Unmarshal(tableRow, &m.TableRow); err != nil {
			return nil, fmt.Errorf("decode table row %s: %w", m.IUNRecipientID, err)
		}
		entries = append(entries, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return entries, nil
}
