package models

import "time"

// Channel supported by this service. The worker only handles email; the
// constant keeps topic routing and status events self-describing.
const ChannelEmail = "email"

// Body type constants for email content.
const (
	BodyTypeText = "text"
	BodyTypeHTML = "html"
)

// EmailAddress pairs an address with an optional display name.
type EmailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Attachment carries one file to be sent with the message. Content is
// base64-encoded on the wire (encoding/json handles []byte transparently).
// Inline attachments reference their ContentID from the HTML body.
type Attachment struct {
	Name      string `json:"name,omitempty"`
	Content   []byte `json:"content"`
	MimeType  string `json:"mime_type,omitempty"`
	Inline    bool   `json:"inline,omitempty"`
	ContentID string `json:"content_id,omitempty"`
}

// Envelope captures attributes shared by every message request regardless of
// the content being delivered.
type Envelope struct {
	MessageID string            `json:"message_id"`
	Channel   string            `json:"channel"`
	TenantID  string            `json:"tenant_id,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// EmailRequest models the payload expected on the email request topic. The
// provider-facing fields mirror the capabilities of the SendGrid mail API:
// alternate HTML body, extra headers, attachments, categories (tags),
// tracking toggles, scheduled delivery and raw API overrides.
type EmailRequest struct {
	Envelope
	From        EmailAddress      `json:"from"`
	To          []EmailAddress    `json:"to"`
	CC          []EmailAddress    `json:"cc,omitempty"`
	BCC         []EmailAddress    `json:"bcc,omitempty"`
	ReplyTo     []EmailAddress    `json:"reply_to,omitempty"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text,omitempty"`
	HTML        string            `json:"html,omitempty"`
	Headers     map[string]any    `json:"headers,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	TrackClicks *bool             `json:"track_clicks,omitempty"`
	TrackOpens  *bool             `json:"track_opens,omitempty"`
	SendAt      *time.Time        `json:"send_at,omitempty"`
	Extra       map[string]any    `json:"extra,omitempty"`
}

// Recipients returns the union of to, cc and bcc in declaration order.
func (r *EmailRequest) Recipients() []EmailAddress {
	out := make([]EmailAddress, 0, len(r.To)+len(r.CC)+len(r.BCC))
	out = append(out, r.To...)
	out = append(out, r.CC...)
	out = append(out, r.BCC...)
	return out
}
