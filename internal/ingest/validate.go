package ingest

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ioggstream/pn-delivery/internal/model"
)

// Validator checks a notification before anything is uploaded or stored.
type Validator struct {
	validate *validator.Validate
}

// NewValidator builds a validator with the attachment and notification
// rules registered.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterStructValidation(validateAttachment, model.Attachment{})
	v.RegisterStructValidation(validateNotification, model.Notification{})
	return &Validator{validate: v}
}

// Validate returns a *model.ValidationError listing every violation, or nil.
func (v *Validator) Validate(n model.Notification) error {
	err := v.validate.Struct(n)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return model.NewValidationError(err.Error())
	}

	violations := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations = append(violations, describe(fe))
	}
	return model.NewValidationError(violations...)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Namespace(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must have at least %s element(s)", fe.Namespace(), fe.Param())
	case "base64":
		return fmt.Sprintf("%s is not valid base64", fe.Namespace())
	case "inline_xor_ref":
		return fmt.Sprintf("%s must carry exactly one of body or ref", fe.Namespace())
	case "no_iun":
		return fmt.Sprintf("%s is assigned by the service and must be empty", fe.Namespace())
	default:
		return fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag())
	}
}

// validateAttachment enforces that an incoming attachment is either inline
// or a reference, never both and never neither.
func validateAttachment(sl validator.StructLevel) {
	a := sl.Current().Interface().(model.Attachment)
	hasBody := a.Body != ""
	hasRef := a.Ref != nil
	if hasBody == hasRef {
		sl.ReportError(a.Body, "Body", "Body", "inline_xor_ref", "")
	}
}

func validateNotification(sl validator.StructLevel) {
	n := sl.Current().Interface().(model.Notification)
	if n.IUN != "" {
		sl.ReportError(n.IUN, "IUN", "IUN", "no_iun", "")
	}
	if n.SentAt.IsZero() {
		sl.ReportError(n.SentAt, "SentAt", "SentAt", "required", "")
	}
}
