package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ioggstream/pn-delivery/internal/model"
)

// NotificationEntity is the flattened row shape of the notifications table.
// Document attributes are stored as parallel arrays and each F24 slot as
// three columns that are either all set or all blank.
type NotificationEntity struct {
	IUN                       string
	PaNotificationID          string
	Subject                   string
	SentAt                    time.Time
	CancelledIUN              string
	CancelledByIUN            string
	SenderPaID                string
	SenderDenomination        string
	SenderTaxID               string
	IUV                       string
	NoticeCode                string
	CreditorTaxID             string
	NotificationFeePolicy     string
	PhysicalCommunicationType string
	Group                     string
	Recipients                []byte

	DocumentsKeys          []string
	DocumentsDigestsSHA256 []string
	DocumentsVersionIDs    []string
	DocumentsContentTypes  []string
	DocumentsTitles        []string

	F24FlatRate f24Columns
	F24Digital  f24Columns
	F24Analog   f24Columns
}

type f24Columns struct {
	Key          string
	DigestSHA256 string
	VersionID    string
}

// ErrInconsistentEntity is returned when a stored row cannot be mapped back.
var ErrInconsistentEntity = errors.New("inconsistent notification entity")

// ToEntity flattens a materialized notification. Every attachment must
// already carry a Ref.
func ToEntity(n model.Notification) (*NotificationEntity, error) {
	recipients, err := json.Marshal(n.Recipients)
	if err != nil {
		return nil, fmt.Errorf("encode recipients: %w", err)
	}

	e := &NotificationEntity{
		IUN:                       n.IUN,
		PaNotificationID:          n.PaProtocolNumber,
		Subject:                   n.Subject,
		SentAt:                    n.SentAt.UTC(),
		CancelledIUN:              n.CancelledIUN,
		CancelledByIUN:            n.CancelledByIUN,
		SenderPaID:                n.Sender.PaID,
		SenderDenomination:        n.Sender.Denomination,
		SenderTaxID:               n.Sender.TaxID,
		NotificationFeePolicy:     string(n.NotificationFeePolicy),
		PhysicalCommunicationType: string(n.PhysicalCommunicationType),
		Group:                     n.Group,
		Recipients:                recipients,
	}

	for i, d := range n.Documents {
		if d.Ref == nil {
			return nil, fmt.Errorf("document %d has no stored reference", i)
		}
		e.DocumentsKeys = append(e.DocumentsKeys, d.Ref.Key)
		e.DocumentsVersionIDs = append(e.DocumentsVersionIDs, d.Ref.VersionToken)
		e.DocumentsDigestsSHA256 = append(e.DocumentsDigestsSHA256, d.Digests.SHA256)
		e.DocumentsContentTypes = append(e.DocumentsContentTypes, d.ContentType)
		e.DocumentsTitles = append(e.DocumentsTitles, d.Title)
	}

	if p := n.Payment; p != nil {
		e.IUV = p.IUV
		e.NoticeCode = p.NoticeCode
		e.CreditorTaxID = p.CreditorTaxID
		if p.F24 != nil {
			if e.F24FlatRate, err = flattenF24("flatRate", p.F24.FlatRate); err != nil {
				return nil, err
			}
			if e.F24Digital, err = flattenF24("digital", p.F24.Digital); err != nil {
				return nil, err
			}
			if e.F24Analog, err = flattenF24("analog", p.F24.Analog); err != nil {
				return nil, err
			}
		}
	}

	return e, nil
}

func flattenF24(slot string, a *model.Attachment) (f24Columns, error) {
	if a == nil {
		return f24Columns{}, nil
	}
	if a.Ref == nil {
		return f24Columns{}, fmt.Errorf("f24 %s has no stored reference", slot)
	}
	return f24Columns{Key: a.Ref.Key, DigestSHA256: a.Digests.SHA256, VersionID: a.Ref.VersionToken}, nil
}

// ToModel rebuilds the domain notification, rejecting rows that violate
// the flattening rules.
func (e *NotificationEntity) ToModel() (*model.Notification, error) {
	if e.PhysicalCommunicationType == "" {
		return nil, fmt.Errorf("%w: %s: missing physical communication type", ErrInconsistentEntity, e.IUN)
	}

	n := len(e.DocumentsKeys)
	if len(e.DocumentsDigestsSHA256) != n || len(e.DocumentsVersionIDs) != n ||
		len(e.DocumentsContentTypes) != n || len(e.DocumentsTitles) != n {
		return nil, fmt.Errorf("%w: %s: document arrays differ in length", ErrInconsistentEntity, e.IUN)
	}

	var recipients []model.Recipient
	if len(e.Recipients) > 0 {
		if err := json.Unmarshal(e.Recipients, &recipients); err != nil {
			return nil, fmt.Errorf("%w: %s: decode recipients: %v", ErrInconsistentEntity, e.IUN, err)
		}
	}

	docs := make([]model.Attachment, n)
	for i := range docs {
		docs[i] = model.Attachment{
			Title:       e.DocumentsTitles[i],
			ContentType: e.DocumentsContentTypes[i],
			Digests:     model.Digests{SHA256: e.DocumentsDigestsSHA256[i]},
			Ref:         &model.AttachmentRef{Key: e.DocumentsKeys[i], VersionToken: e.DocumentsVersionIDs[i]},
		}
	}

	out := &model.Notification{
		IUN:                       e.IUN,
		PaProtocolNumber:          e.PaNotificationID,
		Sender:                    model.Sender{PaID: e.SenderPaID, Denomination: e.SenderDenomination, TaxID: e.SenderTaxID},
		Subject:                   e.Subject,
		SentAt:                    e.SentAt.UTC(),
		NotificationFeePolicy:     model.FeePolicy(e.NotificationFeePolicy),
		PhysicalCommunicationType: model.PhysicalCommunicationType(e.PhysicalCommunicationType),
		Group:                     e.Group,
		Recipients:                recipients,
		Documents:                 docs,
		CancelledIUN:              e.CancelledIUN,
		CancelledByIUN:            e.CancelledByIUN,
	}

	flat, err := e.F24FlatRate.toAttachment(e.IUN, "flatRate")
	if err != nil {
		return nil, err
	}
	digital, err := e.F24Digital.toAttachment(e.IUN, "digital")
	if err != nil {
		return nil, err
	}
	analog, err := e.F24Analog.toAttachment(e.IUN, "analog")
	if err != nil {
		return nil, err
	}

	if e.IUV != "" || e.NoticeCode != "" || e.CreditorTaxID != "" || flat != nil || digital != nil || analog != nil {
		out.Payment = &model.PaymentInfo{IUV: e.IUV, NoticeCode: e.NoticeCode, CreditorTaxID: e.CreditorTaxID}
		if flat != nil || digital != nil || analog != nil {
			out.Payment.F24 = &model.F24{FlatRate: flat, Digital: digital, Analog: analog}
		}
	}

	return out, nil
}

// An F24 slot is absent when all columns are blank. A present slot needs a
// key and a digest; the version may be blank on unversioned buckets.
func (c f24Columns) toAttachment(iun, slot string) (*model.Attachment, error) {
	if c.Key == "" && c.DigestSHA256 == "" && c.VersionID == "" {
		return nil, nil
	}
	if c.Key == "" || c.DigestSHA256 == "" {
		return nil, fmt.Errorf("%w: %s: f24 %s is partially set", ErrInconsistentEntity, iun, slot)
	}
	return &model.Attachment{
		Digests: model.Digests{SHA256: c.DigestSHA256},
		Ref:     &model.AttachmentRef{Key: c.Key, VersionToken: c.VersionID},
	}, nil
}
