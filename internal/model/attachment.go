package model

// Digests holds the declared content digests of an attachment.
type Digests struct {
	SHA256 string `json:"sha256" validate:"required"`
}

// AttachmentRef points at one version of an object in the object store.
type AttachmentRef struct {
	Key          string `json:"key" validate:"required"`
	VersionToken string `json:"versionToken"`
}

// Attachment is a document or F24 form. Before materialization it is either
// inline (Body set, Ref nil) or a reference to a preloaded object (Ref set,
// Body empty). After materialization it always carries a Ref and no Body.
type Attachment struct {
	Title       string         `json:"title,omitempty"`
	ContentType string         `json:"contentType,omitempty"`
	Digests     Digests        `json:"digests"`
	Body        string         `json:"body,omitempty" validate:"omitempty,base64"`
	Ref         *AttachmentRef `json:"ref,omitempty" validate:"omitempty"`
}

// IsInline reports whether the attachment carries its bytes in Body.
func (a Attachment) IsInline() bool {
	return a.Ref == nil
}

// IsResolved reports whether the attachment is in its stored form.
func (a Attachment) IsResolved() bool {
	return a.Ref != nil && a.Body == ""
}

// Clone returns a copy that does not share the Ref pointer.
func (a Attachment) Clone() Attachment {
	out := a
	if a.Ref != nil {
		r := *a.Ref
		out.Ref = &r
	}
	return out
}

// Stored returns the materialized form: pointing at key/version, body dropped.
func (a Attachment) Stored(key, version, contentType string) Attachment {
	out := a.Clone()
	out.Body = ""
	out.Ref = &AttachmentRef{Key: key, VersionToken: version}
	out.ContentType = contentType
	return out
}
