package sendgrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sendgrid-mailer/internal/config"
)

// This is SendGrid's Web API v2; the v3 mail endpoint does not cover the
// legacy multipart sending contract this service speaks.
const sendEndpoint = "mail.send.json"

const defaultHTTPTimeout = 30 * time.Second

// Doer is the subset of http.Client behaviour the backend relies on.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customises the backend during construction.
type Option func(*Backend)

// WithHTTPClient swaps the HTTP client used for API calls.
func WithHTTPClient(client Doer) Option {
	return func(b *Backend) {
		b.httpClient = client
	}
}

// WithIDGenerator replaces the Message-ID generator, mainly so tests can
// supply deterministic identifiers.
func WithIDGenerator(gen IDGenerator) Option {
	return func(b *Backend) {
		if gen != nil {
			b.newID = gen
		}
	}
}

// Backend owns the SendGrid credentials and endpoint and turns canonical
// messages into API requests and API responses into per-recipient statuses.
// It holds no per-send state; one Payload is built per Send call.
type Backend struct {
	apiKey     string
	apiURL     string
	httpClient Doer
	logger     zerolog.Logger
	newID      IDGenerator
}

// New constructs a Backend from configuration. Missing credentials or a nil
// HTTP client are configuration errors surfaced here, not at send time.
func New(cfg config.SendGridConfig, logger zerolog.Logger, opts ...Option) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid backend: api key is required")
	}

	apiURL := strings.TrimSpace(cfg.APIURL)
	if apiURL == "" {
		apiURL = config.DefaultSendGridAPIURL
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("sendgrid backend: invalid api url: %w", err)
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}

	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	b := &Backend{
		apiKey:     cfg.APIKey,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
		newID:      DefaultIDGenerator,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	if b.httpClient == nil {
		return nil, errors.New("sendgrid backend: http client is required")
	}

	return b, nil
}

// BuildPayload populates a fresh Payload from the message, carrying the
// Authorization header and any default field values. Setter order follows the
// fixed facet contract; the extra overrides are applied last so they can
// override anything.
func (b *Backend) BuildPayload(msg *Message, defaults map[string]any) (*Payload, error) {
	p := newPayload(b.apiKey, defaults, b.newID)

	p.SetFrom(msg.From)
	if err := p.SetRecipients("to", msg.To); err != nil {
		return nil, err
	}
	if err := p.SetRecipients("cc", msg.CC); err != nil {
		return nil, err
	}
	if err := p.SetRecipients("bcc", msg.BCC); err != nil {
		return nil, err
	}
	p.SetSubject(msg.Subject)
	p.SetReplyTo(msg.ReplyTo)
	if len(msg.Headers) > 0 {
		p.SetExtraHeaders(msg.Headers)
	}
	if msg.Text != "" {
		p.SetTextBody(msg.Text)
	}
	if msg.HTML != "" {
		if err := p.SetHTMLBody(msg.HTML); err != nil {
			return nil, err
		}
	}
	for _, alt := range msg.Alternatives {
		if alt.MimeType != "text/html" {
			return nil, unsupportedFeature(fmt.Sprintf("alternative part with type %q", alt.MimeType))
		}
		if err := p.SetHTMLBody(alt.Content); err != nil {
			return nil, err
		}
	}
	for _, att := range msg.Attachments {
		if err := p.AddAttachment(att); err != nil {
			return nil, err
		}
	}
	if len(msg.Metadata) > 0 {
		p.SetMetadata(msg.Metadata)
	}
	if msg.SendAt != nil {
		p.SetSendAt(*msg.SendAt)
	}
	if len(msg.Tags) > 0 {
		p.SetTags(msg.Tags)
	}
	if msg.TrackClicks != nil {
		p.SetTrackClicks(*msg.TrackClicks)
	}
	if msg.TrackOpens != nil {
		p.SetTrackOpens(*msg.TrackOpens)
	}
	if len(msg.Extra) > 0 {
		p.SetExtra(msg.Extra)
	}

	return p, nil
}

// Send builds, serializes and posts the message, then parses the response
// into per-recipient statuses keyed by address.
func (b *Backend) Send(ctx context.Context, msg *Message) (map[string]RecipientStatus, error) {
	if msg == nil {
		return nil, errors.New("sendgrid backend: message is required")
	}

	payload, err := b.BuildPayload(msg, nil)
	if err != nil {
		return nil, err
	}

	body, contentType, err := payload.Serialize()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL+sendEndpoint, body)
	if err != nil {
		return nil, fmt.Errorf("sendgrid backend: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range payload.RequestHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sendgrid backend: post %s: %w", sendEndpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sendgrid backend: read response: %w", err)
	}

	b.logger.Debug().
		Int("status_code", resp.StatusCode).
		Int("recipients", len(payload.Recipients())).
		Str("provider_message_id", payload.MessageID()).
		Msg("sendgrid api call completed")

	return b.ParseRecipientStatus(&APIResponse{StatusCode: resp.StatusCode, Body: raw}, payload, msg)
}

// ParseRecipientStatus validates the API response and synthesizes the
// per-recipient result. SendGrid's send is all-or-nothing: any failure fails
// the whole message, and a success yields a uniform queued status because the
// API reports no per-recipient granularity.
func (b *Backend) ParseRecipientStatus(resp *APIResponse, payload *Payload, msg *Message) (map[string]RecipientStatus, error) {
	if resp == nil {
		return nil, errors.New("sendgrid backend: response is required")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := fmt.Sprintf("api request failed: %s", truncateBody(resp.Body))
		return nil, newAPIError(reason, msg, payload, resp)
	}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, newAPIError("malformed JSON in api response", msg, payload, resp)
	}

	rawIndicator, ok := parsed["message"]
	if !ok {
		return nil, newAPIError("invalid api response format", msg, payload, resp)
	}
	var indicator string
	if err := json.Unmarshal(rawIndicator, &indicator); err != nil {
		return nil, newAPIError("invalid api response format", msg, payload, resp)
	}

	if indicator != "success" {
		var apiErrors []string
		if rawErrors, ok := parsed["errors"]; ok {
			_ = json.Unmarshal(rawErrors, &apiErrors)
		}
		reason := fmt.Sprintf("send failed: '%s'", strings.Join(apiErrors, "; "))
		return nil, newAPIError(reason, msg, payload, resp)
	}

	statuses := make(map[string]RecipientStatus, len(payload.Recipients()))
	for _, recipient := range payload.Recipients() {
		statuses[recipient.Email] = RecipientStatus{
			MessageID: payload.MessageID(),
			Status:    StatusQueued,
		}
	}
	return statuses, nil
}
