package emailvalidator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sendgrid-mailer/internal/config"
	"github.com/example/sendgrid-mailer/internal/models"
)

func testConfig() config.ValidationConfig {
	return config.ValidationConfig{
		RecipientsMax:      5,
		SubjectMaxLen:      100,
		BodyMaxBytes:       1024,
		AttachmentsMax:     3,
		AttachmentMaxBytes: 512,
		TagsMax:            5,
		TagMaxLen:          32,
		MetaMaxEntries:     5,
		MetaMaxKeyLen:      32,
		MetaMaxValueLen:    64,
	}
}

func validRequest() models.EmailRequest {
	return models.EmailRequest{
		Envelope: models.Envelope{
			MessageID: "11111111-1111-4111-8111-111111111111",
			Channel:   models.ChannelEmail,
			CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
		From:    models.EmailAddress{Email: "sender@example.com", Name: "Sender"},
		To:      []models.EmailAddress{{Email: "To@Example.com"}},
		Subject: "hello",
		Text:    "body",
	}
}

func encode(t *testing.T, req models.EmailRequest) []byte {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return payload
}

func TestParseAndValidateSuccess(t *testing.T) {
	v := New(testConfig(), zerolog.Nop())

	msg, err := v.ParseAndValidate(context.Background(), models.ChannelEmail, encode(t, validRequest()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.MessageID != "11111111-1111-4111-8111-111111111111" {
		t.Fatalf("unexpected message id %q", msg.MessageID)
	}
	req, ok := msg.Request.(*models.EmailRequest)
	if !ok {
		t.Fatalf("expected *models.EmailRequest, got %T", msg.Request)
	}
	if req.To[0].Email != "to@example.com" {
		t.Fatalf("expected recipient address lowercased, got %q", req.To[0].Email)
	}
	if len(msg.RawPayload) == 0 {
		t.Fatalf("expected raw payload retained")
	}
}

func TestParseAndValidateRejectsEmptyPayload(t *testing.T) {
	v := New(testConfig(), zerolog.Nop())
	if _, err := v.ParseAndValidate(context.Background(), models.ChannelEmail, nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestParseAndValidateRejectsUnknownFields(t *testing.T) {
	v := New(testConfig(), zerolog.Nop())
	payload := []byte(`{"message_id": "11111111-1111-4111-8111-111111111111", "bogus": true}`)
	if _, err := v.ParseAndValidate(context.Background(), models.ChannelEmail, payload); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestParseAndValidateChannelMismatch(t *testing.T) {
	v := New(testConfig(), zerolog.Nop())
	req := validRequest()
	req.Channel = "sms"

	if _, err := v.ParseAndValidate(context.Background(), models.ChannelEmail, encode(t, req)); err == nil {
		t.Fatalf("expected channel mismatch error")
	}
}

func TestParseAndValidateDefaultsChannel(t *testing.T) {
	v := New(testConfig(), zerolog.Nop())
	req := validRequest()
	req.Channel = ""

	msg, err := v.ParseAndValidate(context.Background(), models.ChannelEmail, encode(t, req))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Channel != models.ChannelEmail {
		t.Fatalf("expected channel defaulted to email, got %q", msg.Channel)
	}
}

func TestParseAndValidateFieldErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.EmailRequest)
	}{
		{"bad uuid", func(r *models.EmailRequest) { r.MessageID = "not-a-uuid" }},
		{"missing created_at", func(r *models.EmailRequest) { r.CreatedAt = time.Time{} }},
		{"bad from", func(r *models.EmailRequest) { r.From.Email = "nope" }},
		{"no recipients", func(r *models.EmailRequest) { r.To = nil }},
		{"too many recipients", func(r *models.EmailRequest) {
			for i := 0; i < 6; i++ {
				r.To = append(r.To, models.EmailAddress{Email: "x@example.com"})
			}
		}},
		{"subject too long", func(r *models.EmailRequest) { r.Subject = strings.Repeat("s", 101) }},
		{"no body", func(r *models.EmailRequest) { r.Text, r.HTML = "", "" }},
		{"body too large", func(r *models.EmailRequest) { r.Text = strings.Repeat("b", 2048) }},
		{"empty attachment", func(r *models.EmailRequest) {
			r.Attachments = []models.Attachment{{Name: "a.txt"}}
		}},
		{"oversized attachment", func(r *models.EmailRequest) {
			r.Attachments = []models.Attachment{{Name: "a.txt", Content: make([]byte, 1024)}}
		}},
		{"inline without content id", func(r *models.EmailRequest) {
			r.Attachments = []models.Attachment{{Name: "a.png", Content: []byte("x"), Inline: true}}
		}},
		{"empty tag", func(r *models.EmailRequest) { r.Tags = []string{"  "} }},
		{"oversized metadata value", func(r *models.EmailRequest) {
			r.Metadata = map[string]string{"k": strings.Repeat("v", 100)}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := New(testConfig(), zerolog.Nop())
			req := validRequest()
			tc.mutate(&req)

			if _, err := v.ParseAndValidate(context.Background(), models.ChannelEmail, encode(t, req)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseAndValidateHonoursContext(t *testing.T) {
	v := New(testConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := v.ParseAndValidate(ctx, models.ChannelEmail, encode(t, validRequest())); err == nil {
		t.Fatalf("expected context error")
	}
}
