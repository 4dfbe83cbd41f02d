package emailvalidator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/example/sendgrid-mailer/internal/config"
	"github.com/example/sendgrid-mailer/internal/models"
	"github.com/example/sendgrid-mailer/internal/util"
	"github.com/example/sendgrid-mailer/internal/worker"
)

// Validator implements worker.Validator for the email channel. It parses JSON
// payloads, enforces validation rules and returns a populated
// ValidatedMessage.
type Validator struct {
	logger zerolog.Logger
	cfg    config.ValidationConfig
}

// New constructs a Validator using the supplied validation configuration.
func New(cfg config.ValidationConfig, logger zerolog.Logger) *Validator {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Validator{logger: logger, cfg: cfg}
}

// ParseAndValidate implements worker.Validator.
func (v *Validator) ParseAndValidate(ctx context.Context, channel string, payload []byte) (*worker.ValidatedMessage, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(payload) == 0 {
		return nil, errors.New("email validator: payload is empty")
	}

	var req models.EmailRequest
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("email validator: decode: %w", err)
	}

	if err := v.applyDefaultsAndValidate(channel, &req); err != nil {
		return nil, err
	}

	raw := make([]byte, len(payload))
	copy(raw, payload)

	return &worker.ValidatedMessage{
		Channel:    req.Channel,
		MessageID:  req.MessageID,
		TraceID:    req.TraceID,
		TenantID:   req.TenantID,
		CreatedAt:  req.CreatedAt,
		Metadata:   req.Meta,
		Request:    &req,
		RawPayload: raw,
	}, nil
}

func (v *Validator) applyDefaultsAndValidate(channel string, req *models.EmailRequest) error {
	req.Channel = strings.TrimSpace(strings.ToLower(req.Channel))
	if req.Channel == "" {
		req.Channel = channel
	}
	if channel != "" && req.Channel != strings.ToLower(channel) {
		return fmt.Errorf("email validator: channel mismatch: expected %s, got %s", channel, req.Channel)
	}

	if _, err := util.ParseUUIDv4(req.MessageID); err != nil {
		return fmt.Errorf("email validator: message_id: %w", err)
	}
	req.MessageID = strings.TrimSpace(req.MessageID)
	req.TraceID = strings.TrimSpace(req.TraceID)
	req.TenantID = strings.TrimSpace(req.TenantID)

	if req.CreatedAt.IsZero() {
		return errors.New("email validator: created_at is required")
	}
	req.CreatedAt = req.CreatedAt.UTC()

	var err error
	if req.From, err = normalizeAddress(req.From); err != nil {
		return fmt.Errorf("email validator: from: %w", err)
	}
	if req.To, err = normalizeAddressList(req.To, 1, v.cfg.RecipientsMax); err != nil {
		return fmt.Errorf("email validator: to: %w", err)
	}
	if req.CC, err = normalizeAddressList(req.CC, 0, v.cfg.RecipientsMax); err != nil {
		return fmt.Errorf("email validator: cc: %w", err)
	}
	if req.BCC, err = normalizeAddressList(req.BCC, 0, v.cfg.RecipientsMax); err != nil {
		return fmt.Errorf("email validator: bcc: %w", err)
	}
	if req.ReplyTo, err = normalizeAddressList(req.ReplyTo, 0, v.cfg.RecipientsMax); err != nil {
		return fmt.Errorf("email validator: reply_to: %w", err)
	}

	if v.cfg.SubjectMaxLen > 0 && utf8.RuneCountInString(req.Subject) > v.cfg.SubjectMaxLen {
		return fmt.Errorf("email validator: subject exceeds max length %d", v.cfg.SubjectMaxLen)
	}

	if req.Text == "" && req.HTML == "" {
		return errors.New("email validator: either text or html body is required")
	}
	if v.cfg.BodyMaxBytes > 0 && len(req.Text)+len(req.HTML) > v.cfg.BodyMaxBytes {
		return fmt.Errorf("email validator: body exceeds max bytes %d", v.cfg.BodyMaxBytes)
	}

	if err := v.validateAttachments(req.Attachments); err != nil {
		return err
	}

	if req.Tags, err = util.ValidateTags(req.Tags, v.cfg.TagsMax, v.cfg.TagMaxLen); err != nil {
		return fmt.Errorf("email validator: tags: %w", err)
	}

	if req.Meta, err = util.ValidateMetadata(req.Meta, v.cfg.MetaMaxEntries, v.cfg.MetaMaxKeyLen, v.cfg.MetaMaxValueLen); err != nil {
		return fmt.Errorf("email validator: meta: %w", err)
	}
	if req.Metadata, err = util.ValidateMetadata(req.Metadata, v.cfg.MetaMaxEntries, v.cfg.MetaMaxKeyLen, v.cfg.MetaMaxValueLen); err != nil {
		return fmt.Errorf("email validator: metadata: %w", err)
	}

	return nil
}

func (v *Validator) validateAttachments(attachments []models.Attachment) error {
	if v.cfg.AttachmentsMax > 0 && len(attachments) > v.cfg.AttachmentsMax {
		return fmt.Errorf("email validator: too many attachments (%d > %d)", len(attachments), v.cfg.AttachmentsMax)
	}
	for idx, att := range attachments {
		if len(att.Content) == 0 {
			return fmt.Errorf("email validator: attachment[%d] has no content", idx)
		}
		if v.cfg.AttachmentMaxBytes > 0 && len(att.Content) > v.cfg.AttachmentMaxBytes {
			return fmt.Errorf("email validator: attachment[%d] exceeds max bytes %d", idx, v.cfg.AttachmentMaxBytes)
		}
		if att.Inline && att.ContentID == "" {
			return fmt.Errorf("email validator: attachment[%d] is inline but has no content_id", idx)
		}
	}
	return nil
}

func normalizeAddress(addr models.EmailAddress) (models.EmailAddress, error) {
	email, err := util.NormalizeEmail(addr.Email)
	if err != nil {
		return models.EmailAddress{}, err
	}
	return models.EmailAddress{Email: email, Name: strings.TrimSpace(addr.Name)}, nil
}

func normalizeAddressList(addrs []models.EmailAddress, min, max int) ([]models.EmailAddress, error) {
	count := len(addrs)
	if min > 0 && count < min {
		return nil, fmt.Errorf("expected at least %d address(es); got %d", min, count)
	}
	if max > 0 && count > max {
		return nil, fmt.Errorf("expected at most %d address(es); got %d", max, count)
	}
	if count == 0 {
		return nil, nil
	}

	out := make([]models.EmailAddress, 0, count)
	for idx, addr := range addrs {
		normalized, err := normalizeAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("address[%d]: %w", idx, err)
		}
		out = append(out, normalized)
	}
	return out, nil
}
