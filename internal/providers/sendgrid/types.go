package sendgrid

import (
	"net/mail"
	"time"
)

// EmailAddress pairs an address with an optional display name.
type EmailAddress struct {
	Email string
	Name  string
}

// String renders the address in RFC 5322 form, including the display name
// when present.
func (a EmailAddress) String() string {
	if a.Name == "" {
		return a.Email
	}
	addr := mail.Address{Name: a.Name, Address: a.Email}
	return addr.String()
}

// Attachment is one file part of an outbound message. Inline attachments are
// referenced from the HTML body via their ContentID.
type Attachment struct {
	Name      string
	Content   []byte
	MimeType  string
	Inline    bool
	ContentID string
}

// Alternative is an additional body part with its own MIME type. SendGrid can
// only carry a single HTML alternative; anything else is rejected during
// payload construction.
type Alternative struct {
	Content  string
	MimeType string
}

// Message is the canonical representation of an outbound email handed to the
// backend. Adapters are expected to normalize their inputs to this structure.
type Message struct {
	From         EmailAddress
	To           []EmailAddress
	CC           []EmailAddress
	BCC          []EmailAddress
	ReplyTo      []EmailAddress
	Subject      string
	Text         string
	HTML         string
	Alternatives []Alternative
	Headers      map[string]any
	Attachments  []Attachment
	Metadata     map[string]string
	Tags         []string
	TrackClicks  *bool
	TrackOpens   *bool
	SendAt       *time.Time
	Extra        map[string]any
}

// RecipientStatus is the normalized per-recipient delivery state derived from
// a SendGrid API response.
type RecipientStatus struct {
	MessageID string
	Status    string
}

// StatusQueued is the only status SendGrid's all-or-nothing send API can
// report for an accepted message.
const StatusQueued = "queued"
