package sendgrid

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/sendgrid-mailer/internal/config"
)

type stubDoer struct {
	req    *http.Request
	body   []byte
	status int
	resp   string
	err    error
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	d.req = req
	if req.Body != nil {
		d.body, _ = io.ReadAll(req.Body)
	}
	if d.err != nil {
		return nil, d.err
	}
	return &http.Response{
		StatusCode: d.status,
		Body:       io.NopCloser(strings.NewReader(d.resp)),
		Header:     http.Header{},
	}, nil
}

func newTestBackend(t *testing.T, doer Doer) *Backend {
	t.Helper()
	b, err := New(config.SendGridConfig{APIKey: "test-key", APIURL: "https://sendgrid.test/api"},
		zerolog.Nop(),
		WithHTTPClient(doer),
		WithIDGenerator(staticID("<fixed@example.com>")))
	if err != nil {
		t.Fatalf("backend construction failed: %v", err)
	}
	return b
}

func testMessage() *Message {
	return &Message{
		From:    EmailAddress{Email: "sender@example.com", Name: "Sender"},
		To:      []EmailAddress{{Email: "to@example.com"}},
		CC:      []EmailAddress{{Email: "cc@example.com", Name: "Carbon"}},
		BCC:     []EmailAddress{{Email: "bcc@example.com"}},
		Subject: "hello",
		Text:    "body",
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(config.SendGridConfig{}, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestNewRejectsNilHTTPClient(t *testing.T) {
	_, err := New(config.SendGridConfig{APIKey: "k"}, zerolog.Nop(), WithHTTPClient(nil))
	if err == nil {
		t.Fatalf("expected error for nil http client")
	}
}

func TestNewNormalizesAPIURL(t *testing.T) {
	b, err := New(config.SendGridConfig{APIKey: "k", APIURL: "https://sendgrid.test/api"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.apiURL != "https://sendgrid.test/api/" {
		t.Fatalf("expected trailing slash, got %q", b.apiURL)
	}

	b, err = New(config.SendGridConfig{APIKey: "k"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.apiURL != config.DefaultSendGridAPIURL {
		t.Fatalf("expected default api url, got %q", b.apiURL)
	}
}

func TestBuildPayloadRejectsNonHTMLAlternative(t *testing.T) {
	b := newTestBackend(t, &stubDoer{status: 200})
	msg := testMessage()
	msg.Alternatives = []Alternative{{Content: "<xml/>", MimeType: "application/xml"}}

	_, err := b.BuildPayload(msg, nil)
	if !errors.Is(err, ErrUnsupportedFeature) {
		t.Fatalf("expected ErrUnsupportedFeature, got %v", err)
	}
}

func TestBuildPayloadRejectsSecondHTMLPart(t *testing.T) {
	b := newTestBackend(t, &stubDoer{status: 200})
	msg := testMessage()
	msg.HTML = "<p>one</p>"
	msg.Alternatives = []Alternative{{Content: "<p>two</p>", MimeType: "text/html"}}

	_, err := b.BuildPayload(msg, nil)
	if !errors.Is(err, ErrUnsupportedFeature) {
		t.Fatalf("expected ErrUnsupportedFeature, got %v", err)
	}
}

func TestSendPostsToEndpointAndParsesSuccess(t *testing.T) {
	doer := &stubDoer{status: 200, resp: `{"message": "success"}`}
	b := newTestBackend(t, doer)

	statuses, err := b.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	if doer.req.Method != http.MethodPost {
		t.Fatalf("expected POST, got %s", doer.req.Method)
	}
	if got := doer.req.URL.String(); got != "https://sendgrid.test/api/mail.send.json" {
		t.Fatalf("unexpected request url: %q", got)
	}
	if got := doer.req.Header.Get("Authorization"); got != "Bearer test-key" {
		t.Fatalf("unexpected authorization header: %q", got)
	}
	if got := doer.req.Header.Get("Content-Type"); !strings.HasPrefix(got, "multipart/form-data") {
		t.Fatalf("unexpected content type: %q", got)
	}
	if !strings.Contains(string(doer.body), "to@example.com") {
		t.Fatalf("expected serialized body to carry the recipient")
	}

	want := []string{"to@example.com", "cc@example.com", "bcc@example.com"}
	if len(statuses) != len(want) {
		t.Fatalf("expected %d statuses, got %d", len(want), len(statuses))
	}
	for _, addr := range want {
		status, ok := statuses[addr]
		if !ok {
			t.Fatalf("missing status for %s", addr)
		}
		if status.Status != StatusQueued {
			t.Fatalf("expected queued status for %s, got %q", addr, status.Status)
		}
		if status.MessageID != "<fixed@example.com>" {
			t.Fatalf("expected shared message id for %s, got %q", addr, status.MessageID)
		}
	}
}

func TestSendSurfacesAPIErrorList(t *testing.T) {
	doer := &stubDoer{status: 200, resp: `{"message": "error", "errors": ["bad address", "quota exceeded"]}`}
	b := newTestBackend(t, doer)

	_, err := b.Send(context.Background(), testMessage())
	if err == nil {
		t.Fatalf("expected send error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if !strings.Contains(apiErr.Reason, "bad address; quota exceeded") {
		t.Fatalf("expected api errors in reason, got %q", apiErr.Reason)
	}
}

func TestSendWrapsTransportError(t *testing.T) {
	doer := &stubDoer{err: errors.New("connection refused")}
	b := newTestBackend(t, doer)

	_, err := b.Send(context.Background(), testMessage())
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func parseStatusFixture(t *testing.T, statusCode int, body string) (map[string]RecipientStatus, error) {
	t.Helper()
	b := newTestBackend(t, &stubDoer{})
	msg := testMessage()
	payload, err := b.BuildPayload(msg, nil)
	if err != nil {
		t.Fatalf("build payload failed: %v", err)
	}
	if _, _, err := payload.Serialize(); err != nil {
		t.Fatalf("serialize failed: %v", err)
	}
	return b.ParseRecipientStatus(&APIResponse{StatusCode: statusCode, Body: []byte(body)}, payload, msg)
}

func TestParseRecipientStatusHTTPFailure(t *testing.T) {
	_, err := parseStatusFixture(t, 400, `{"message": "error"}`)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if !strings.HasPrefix(apiErr.Reason, "api request failed:") {
		t.Fatalf("unexpected reason: %q", apiErr.Reason)
	}
	if !strings.Contains(apiErr.Error(), "(http 400)") {
		t.Fatalf("expected status code in error text, got %q", apiErr.Error())
	}
}

func TestParseRecipientStatusMalformedJSON(t *testing.T) {
	_, err := parseStatusFixture(t, 200, `not json`)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Reason != "malformed JSON in api response" {
		t.Fatalf("unexpected reason: %q", apiErr.Reason)
	}
}

func TestParseRecipientStatusMissingIndicator(t *testing.T) {
	_, err := parseStatusFixture(t, 200, `{"status": "ok"}`)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Reason != "invalid api response format" {
		t.Fatalf("unexpected reason: %q", apiErr.Reason)
	}
}

func TestParseRecipientStatusNonStringIndicator(t *testing.T) {
	_, err := parseStatusFixture(t, 200, `{"message": 5}`)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Reason != "invalid api response format" {
		t.Fatalf("unexpected reason: %q", apiErr.Reason)
	}
}

func TestParseRecipientStatusSuccess(t *testing.T) {
	statuses, err := parseStatusFixture(t, 200, `{"message": "success"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected statuses for all recipients, got %d", len(statuses))
	}
	for addr, status := range statuses {
		if status.Status != StatusQueued {
			t.Fatalf("expected queued for %s, got %q", addr, status.Status)
		}
	}
}
