// Package model holds the delivery domain types shared by the ingestion,
// storage and indexing packages.
package model

import "time"

// FeePolicy describes who pays the notification costs.
type FeePolicy string

const (
	FeePolicyFlatRate     FeePolicy = "FLAT_RATE"
	FeePolicyDeliveryMode FeePolicy = "DELIVERY_MODE"
)

// PhysicalCommunicationType is the kind of paper mail used for analog delivery.
type PhysicalCommunicationType string

const (
	PhysicalSimpleRegisteredLetter PhysicalCommunicationType = "SIMPLE_REGISTERED_LETTER"
	PhysicalRegisteredLetter890    PhysicalCommunicationType = "REGISTERED_LETTER_890"
)

// RecipientType distinguishes natural persons (PF) from legal entities (PG).
type RecipientType string

const (
	RecipientTypePF RecipientType = "PF"
	RecipientTypePG RecipientType = "PG"
)

// Sender identifies the public administration issuing the notification.
type Sender struct {
	PaID         string `json:"paId" validate:"required"`
	Denomination string `json:"denomination,omitempty"`
	TaxID        string `json:"taxId,omitempty"`
}

// DigitalAddress is a recipient's digital domicile (PEC or similar).
type DigitalAddress struct {
	Type    string `json:"type" validate:"required"`
	Address string `json:"address" validate:"required"`
}

// PhysicalAddress is a recipient's postal address.
type PhysicalAddress struct {
	At           string `json:"at,omitempty"`
	Address      string `json:"address" validate:"required"`
	Zip          string `json:"zip,omitempty"`
	Municipality string `json:"municipality" validate:"required"`
	Province     string `json:"province,omitempty"`
	ForeignState string `json:"foreignState,omitempty"`
}

// Recipient is one addressee of a notification. TaxID is the real identifier;
// it never reaches the search index, which only sees the opaque id.
type Recipient struct {
	TaxID           string           `json:"taxId" validate:"required"`
	RecipientType   RecipientType    `json:"recipientType" validate:"required,oneof=PF PG"`
	Denomination    string           `json:"denomination" validate:"required"`
	DigitalDomicile *DigitalAddress  `json:"digitalDomicile,omitempty" validate:"omitempty"`
	PhysicalAddress *PhysicalAddress `json:"physicalAddress,omitempty" validate:"omitempty"`
}

// F24 groups the three optional renderings of the payment form.
type F24 struct {
	FlatRate *Attachment `json:"flatRate,omitempty" validate:"omitempty"`
	Digital  *Attachment `json:"digital,omitempty" validate:"omitempty"`
	Analog   *Attachment `json:"analog,omitempty" validate:"omitempty"`
}

// PaymentInfo carries the payment notice data and its F24 attachments.
type PaymentInfo struct {
	IUV           string `json:"iuv,omitempty"`
	NoticeCode    string `json:"noticeCode,omitempty"`
	CreditorTaxID string `json:"creditorTaxId,omitempty"`
	F24           *F24   `json:"f24,omitempty" validate:"omitempty"`
}

// Notification is a legally binding notice. Values are treated as immutable:
// the With* methods return modified copies and never touch the receiver.
type Notification struct {
	IUN                       string                    `json:"iun,omitempty"`
	PaProtocolNumber          string                    `json:"paProtocolNumber" validate:"required"`
	Sender                    Sender                    `json:"sender"`
	Subject                   string                    `json:"subject" validate:"required"`
	SentAt                    time.Time                 `json:"sentAt"`
	NotificationFeePolicy     FeePolicy                 `json:"notificationFeePolicy" validate:"required,oneof=FLAT_RATE DELIVERY_MODE"`
	PhysicalCommunicationType PhysicalCommunicationType `json:"physicalCommunicationType" validate:"required,oneof=SIMPLE_REGISTERED_LETTER REGISTERED_LETTER_890"`
	Group                     string                    `json:"group,omitempty"`
	Recipients                []Recipient               `json:"recipients" validate:"required,min=1,dive"`
	Documents                 []Attachment              `json:"documents" validate:"required,min=1,dive"`
	Payment                   *PaymentInfo              `json:"payment,omitempty" validate:"omitempty"`
	CancelledIUN              string                    `json:"cancelledIun,omitempty"`
	CancelledByIUN            string                    `json:"cancelledByIun,omitempty"`
}

// Clone returns a deep copy so callers can derive new values without aliasing
// the recipients, documents or payment of the original.
func (n Notification) Clone() Notification {
	out := n

	if n.Recipients != nil {
		out.Recipients = make([]Recipient, len(n.Recipients))
		for i, r := range n.Recipients {
			out.Recipients[i] = r.clone()
		}
	}

	if n.Documents != nil {
		out.Documents = make([]Attachment, len(n.Documents))
		for i, d := range n.Documents {
			out.Documents[i] = d.Clone()
		}
	}

	if n.Payment != nil {
		p := n.Payment.Clone()
		out.Payment = &p
	}

	return out
}

// WithIUN returns a copy carrying the given IUN.
func (n Notification) WithIUN(iun string) Notification {
	out := n.Clone()
	out.IUN = iun
	return out
}

// WithDocuments returns a copy with the documents replaced.
func (n Notification) WithDocuments(docs []Attachment) Notification {
	out := n.Clone()
	out.Documents = make([]Attachment, len(docs))
	for i, d := range docs {
		out.Documents[i] = d.Clone()
	}
	return out
}

// WithPayment returns a copy with the payment info replaced.
func (n Notification) WithPayment(p *PaymentInfo) Notification {
	out := n.Clone()
	if p == nil {
		out.Payment = nil
		return out
	}
	cp := p.Clone()
	out.Payment = &cp
	return out
}

// Attachments lists every attachment in processing order: documents first,
// then the F24 slots that are present.
func (n Notification) Attachments() []Attachment {
	all := make([]Attachment, 0, len(n.Documents)+3)
	all = append(all, n.Documents...)
	if n.Payment != nil && n.Payment.F24 != nil {
		for _, a := range []*Attachment{n.Payment.F24.FlatRate, n.Payment.F24.Digital, n.Payment.F24.Analog} {
			if a != nil {
				all = append(all, *a)
			}
		}
	}
	return all
}

func (r Recipient) clone() Recipient {
	out := r
	if r.DigitalDomicile != nil {
		d := *r.DigitalDomicile
		out.DigitalDomicile = &d
	}
	if r.PhysicalAddress != nil {
		p := *r.PhysicalAddress
		out.PhysicalAddress = &p
	}
	return out
}

// Clone deep-copies the payment info and its F24 attachments.
func (p PaymentInfo) Clone() PaymentInfo {
	out := p
	if p.F24 != nil {
		f := F24{
			FlatRate: cloneAttachmentPtr(p.F24.FlatRate),
			Digital:  cloneAttachmentPtr(p.F24.Digital),
			Analog:   cloneAttachmentPtr(p.F24.Analog),
		}
		out.F24 = &f
	}
	return out
}

func cloneAttachmentPtr(a *Attachment) *Attachment {
	if a == nil {
		return nil
	}
	c := a.Clone()
	return &c
}
