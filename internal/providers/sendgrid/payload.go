package sendgrid

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SendGrid rejects completely empty name fields, so nameless recipients are
// rendered with a single space placeholder.
const emptyName = " "

const (
	fieldSMTPAPI = "x-smtpapi"
	fieldHeaders = "headers"
	headerMsgID  = "Message-ID"
)

// IDGenerator produces a globally unique Message-ID for the given domain. The
// domain may be empty, in which case the generator picks a local fallback.
type IDGenerator func(domain string) string

// DefaultIDGenerator returns a `<uuid@domain>` Message-ID, falling back to
// the local hostname when no domain is supplied.
func DefaultIDGenerator(domain string) string {
	if domain == "" {
		domain = localDomain()
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

func localDomain() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "localhost"
}

type filePart struct {
	filename string
	content  []byte
	mimeType string
}

// smtpAPI accumulates the provider-proprietary settings that SendGrid expects
// inside the single JSON-encoded x-smtpapi field.
type smtpAPI struct {
	uniqueArgs map[string]string
	category   []string
	sendAt     int64
	filters    map[string]map[string]any
}

func (s *smtpAPI) isEmpty() bool {
	return len(s.uniqueArgs) == 0 && len(s.category) == 0 && s.sendAt == 0 && len(s.filters) == 0
}

func (s *smtpAPI) setFilter(name, setting string, value any) {
	if s.filters == nil {
		s.filters = make(map[string]map[string]any)
	}
	settings, ok := s.filters[name]
	if !ok {
		settings = make(map[string]any)
		s.filters[name] = settings
	}
	settings[setting] = value
}

func (s *smtpAPI) toMap() map[string]any {
	out := make(map[string]any)
	if len(s.uniqueArgs) > 0 {
		out["unique_args"] = s.uniqueArgs
	}
	if len(s.category) > 0 {
		out["category"] = s.category
	}
	if s.sendAt != 0 {
		out["send_at"] = s.sendAt
	}
	if len(s.filters) > 0 {
		filters := make(map[string]any, len(s.filters))
		for name, settings := range s.filters {
			filters[name] = map[string]any{"settings": settings}
		}
		out["filters"] = filters
	}
	return out
}

// Payload accumulates one outbound SendGrid mail.send request field by field
// and serializes it to the multipart body the API expects. A payload belongs
// to exactly one send and must not be reused.
type Payload struct {
	fields         map[string]any
	files          map[string]filePart
	headers        *HeaderMap
	smtpAPI        smtpAPI
	requestHeaders map[string]string

	allRecipients []EmailAddress
	messageID     string
	newID         IDGenerator
	serialized    bool
}

func newPayload(apiKey string, defaults map[string]any, newID IDGenerator) *Payload {
	if newID == nil {
		newID = DefaultIDGenerator
	}
	p := &Payload{
		fields:  make(map[string]any),
		files:   make(map[string]filePart),
		headers: NewHeaderMap(),
		requestHeaders: map[string]string{
			"Authorization": "Bearer " + apiKey,
		},
		newID: newID,
	}
	for k, v := range defaults {
		p.fields[k] = v
	}
	return p
}

// RequestHeaders returns the HTTP headers that must accompany the request.
func (p *Payload) RequestHeaders() map[string]string {
	return p.requestHeaders
}

// MessageID returns the Message-ID resolved during Serialize. It is empty
// until the payload has been serialized.
func (p *Payload) MessageID() string {
	return p.messageID
}

// Recipients returns every to, cc and bcc recipient accumulated so far.
func (p *Payload) Recipients() []EmailAddress {
	return p.allRecipients
}

// Field exposes one accumulated request field, mostly for tests and
// diagnostics.
func (p *Payload) Field(name string) (any, bool) {
	v, ok := p.fields[name]
	return v, ok
}

// SetFrom records the sender. The display name field is only emitted when a
// name is present.
func (p *Payload) SetFrom(addr EmailAddress) {
	p.fields["from"] = addr.Email
	if addr.Name != "" {
		p.fields["fromname"] = addr.Name
	}
}

// SetRecipients records the to, cc or bcc list as the parallel address and
// display-name fields SendGrid expects.
func (p *Payload) SetRecipients(kind string, addrs []EmailAddress) error {
	switch kind {
	case "to", "cc", "bcc":
	default:
		return fmt.Errorf("sendgrid: unknown recipient kind %q", kind)
	}
	if len(addrs) == 0 {
		return nil
	}

	emails := make([]string, len(addrs))
	names := make([]string, len(addrs))
	for i, addr := range addrs {
		emails[i] = addr.Email
		if addr.Name != "" {
			names[i] = addr.Name
		} else {
			names[i] = emptyName
		}
	}
	p.fields[kind] = emails
	p.fields[kind+"name"] = names
	p.allRecipients = append(p.allRecipients, addrs...)
	return nil
}

// SetSubject records the subject line.
func (p *Payload) SetSubject(subject string) {
	p.fields["subject"] = subject
}

// SetTextBody records the plain text body.
func (p *Payload) SetTextBody(body string) {
	p.fields["text"] = body
}

// SetHTMLBody records the HTML body. A second call fails: the wire format has
// room for exactly one HTML part.
func (p *Payload) SetHTMLBody(body string) error {
	if _, ok := p.fields["html"]; ok {
		return unsupportedFeature("multiple html parts")
	}
	p.fields["html"] = body
	return nil
}

// SetReplyTo records the reply-to addresses. SendGrid's native replyto param
// drops all but the last address and strips display names, so the full list
// goes through the custom headers instead, which arrive intact.
func (p *Payload) SetReplyTo(addrs []EmailAddress) {
	if len(addrs) == 0 {
		return
	}
	formatted := make([]string, len(addrs))
	for i, addr := range addrs {
		formatted[i] = addr.String()
	}
	p.headers.Set("Reply-To", strings.Join(formatted, ", "))
}

// SetExtraHeaders merges caller-supplied headers into the header map.
// SendGrid requires header values to be strings, so numbers are stringified;
// any other type is rendered as-is and remains the caller's responsibility.
func (p *Payload) SetExtraHeaders(headers map[string]any) {
	for k, v := range headers {
		p.headers.Set(k, stringifyHeaderValue(v))
	}
}

func stringifyHeaderValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprint(val)
	}
}

// AddAttachment records one attachment as a files[<name>] part. Inline
// attachments additionally get a content[<name>] field carrying the
// content-id. Two attachments sharing a filename (or two unnamed ones) cannot
// be disambiguated on the wire and are rejected.
func (p *Payload) AddAttachment(att Attachment) error {
	filename := att.Name
	if att.Inline {
		if filename == "" {
			// cid matching requires a non-empty name
			filename = att.ContentID
		}
		p.fields[fmt.Sprintf("content[%s]", filename)] = att.ContentID
	}

	filesField := fmt.Sprintf("files[%s]", filename)
	if _, ok := p.files[filesField]; ok {
		if filename != "" {
			return unsupportedFeature(fmt.Sprintf("multiple attachments with the same filename (%q)", filename))
		}
		return unsupportedFeature("multiple unnamed attachments")
	}

	p.files[filesField] = filePart{
		filename: filename,
		content:  att.Content,
		mimeType: att.MimeType,
	}
	return nil
}

// SetMetadata forwards arbitrary key/value pairs as x-smtpapi unique_args.
func (p *Payload) SetMetadata(metadata map[string]string) {
	p.smtpAPI.uniqueArgs = metadata
}

// SetSendAt schedules delivery. SendGrid expects a unix timestamp; sub-second
// precision is truncated.
func (p *Payload) SetSendAt(at time.Time) {
	p.smtpAPI.sendAt = at.Unix()
}

// SetTags forwards tags as x-smtpapi categories.
func (p *Payload) SetTags(tags []string) {
	p.smtpAPI.category = tags
}

// SetTrackClicks toggles the clicktrack filter.
func (p *Payload) SetTrackClicks(enabled bool) {
	p.smtpAPI.setFilter("clicktrack", "enable", boolToInt(enabled))
}

// SetTrackOpens toggles the opentrack filter. The filter also supports a
// "replace" setting that callers can reach through SetExtra.
func (p *Payload) SetTrackOpens(enabled bool) {
	p.smtpAPI.setFilter("opentrack", "enable", boolToInt(enabled))
}

// SetExtra merges raw API overrides into the top-level fields. It is applied
// last so callers can override anything set by the other setters.
func (p *Payload) SetExtra(extra map[string]any) {
	for k, v := range extra {
		p.fields[k] = v
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Serialize finalizes the accumulated fields and encodes them as the
// multipart/form-data request body. It must be called exactly once,
// immediately before transmission.
func (p *Payload) Serialize() (body *bytes.Buffer, contentType string, err error) {
	if p.serialized {
		return nil, "", errors.New("sendgrid: payload already serialized")
	}
	p.serialized = true

	if err := p.finalizeSMTPAPI(); err != nil {
		return nil, "", err
	}
	p.resolveMessageID()

	encodedHeaders, err := json.Marshal(p.headers)
	if err != nil {
		return nil, "", fmt.Errorf("sendgrid: encode headers: %w", err)
	}
	p.fields[fieldHeaders] = string(encodedHeaders)

	return p.encodeMultipart()
}

// finalizeSMTPAPI folds the accumulated x-smtpapi settings and any raw
// override of the same field into a single JSON-encoded value.
func (p *Payload) finalizeSMTPAPI() error {
	if p.smtpAPI.isEmpty() {
		// The override may still carry its own x-smtpapi value.
		if extra, ok := p.fields[fieldSMTPAPI]; ok {
			encoded, err := json.Marshal(extra)
			if err != nil {
				return fmt.Errorf("sendgrid: encode x-smtpapi override: %w", err)
			}
			p.fields[fieldSMTPAPI] = string(encoded)
		}
		return nil
	}

	blob := p.smtpAPI.toMap()
	if extra, ok := p.fields[fieldSMTPAPI]; ok {
		override, ok := extra.(map[string]any)
		if !ok {
			return fmt.Errorf("sendgrid: x-smtpapi override must be an object, got %T", extra)
		}
		// Shallow merge only: the override wins per top-level key. A filters
		// object present in both sources is replaced wholesale, not combined.
		for k, v := range override {
			blob[k] = v
		}
	}

	encoded, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("sendgrid: encode x-smtpapi: %w", err)
	}
	p.fields[fieldSMTPAPI] = string(encoded)
	return nil
}

// resolveMessageID keeps a caller-supplied Message-ID header, otherwise
// synthesizes one from the sender domain and records it in the headers.
func (p *Payload) resolveMessageID() {
	if id, ok := p.headers.Get(headerMsgID); ok {
		p.messageID = id
		return
	}
	p.messageID = p.newID(p.fromDomain())
	p.headers.Set(headerMsgID, p.messageID)
}

func (p *Payload) fromDomain() string {
	from, ok := p.fields["from"].(string)
	if !ok {
		return ""
	}
	at := strings.LastIndex(from, "@")
	if at < 0 || at == len(from)-1 {
		return ""
	}
	return from[at+1:]
}

func (p *Payload) encodeMultipart() (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	for _, name := range sortedKeys(p.fields) {
		switch value := p.fields[name].(type) {
		case string:
			if err := writer.WriteField(name, value); err != nil {
				return nil, "", fmt.Errorf("sendgrid: write field %s: %w", name, err)
			}
		case []string:
			for _, item := range value {
				if err := writer.WriteField(name, item); err != nil {
					return nil, "", fmt.Errorf("sendgrid: write field %s: %w", name, err)
				}
			}
		default:
			if err := writer.WriteField(name, fmt.Sprint(value)); err != nil {
				return nil, "", fmt.Errorf("sendgrid: write field %s: %w", name, err)
			}
		}
	}

	for _, field := range sortedKeys(p.files) {
		part := p.files[field]
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, part.filename))
		mimeType := part.mimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		header.Set("Content-Type", mimeType)
		w, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("sendgrid: create file part %s: %w", field, err)
		}
		if _, err := w.Write(part.content); err != nil {
			return nil, "", fmt.Errorf("sendgrid: write file part %s: %w", field, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("sendgrid: close multipart writer: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
