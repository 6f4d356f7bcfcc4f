package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ioggstream/pn-delivery/internal/model"
)

func TestValidator(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		mutate  func(n *model.Notification)
		wantErr string
	}{
		{"valid", func(n *model.Notification) {}, ""},
		{"body and ref", func(n *model.Notification) {
			n.Documents[0].Ref = &model.AttachmentRef{Key: "k"}
		}, "exactly one of body or ref"},
		{"neither body nor ref", func(n *model.Notification) {
			n.Documents[0].Body = ""
		}, "exactly one of body or ref"},
		{"iun supplied", func(n *model.Notification) {
			n.IUN = "202305-abc"
		}, "assigned by the service"},
		{"missing sent at", func(n *model.Notification) {
			n.SentAt = time.Time{}
		}, "SentAt is required"},
		{"bad recipient type", func(n *model.Notification) {
			n.Recipients[0].RecipientType = "XX"
		}, "must be one of"},
		{"no documents", func(n *model.Notification) {
			n.Documents = nil
		}, "Documents is required"},
		{"bad base64", func(n *model.Notification) {
			n.Documents[0].Body = "not base64!"
		}, "not valid base64"},
		{"f24 without digest", func(n *model.Notification) {
			n.Payment = &model.PaymentInfo{F24: &model.F24{Analog: &model.Attachment{Ref: &model.AttachmentRef{Key: "f"}}}}
		}, "SHA256 is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := validNotification()
			tt.mutate(&n)

			err := v.Validate(n)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, model.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
