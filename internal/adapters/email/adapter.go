package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	common "github.com/example/sendgrid-mailer/internal/adapters/common"
	"github.com/example/sendgrid-mailer/internal/models"
	"github.com/example/sendgrid-mailer/internal/providers/sendgrid"
	"github.com/example/sendgrid-mailer/internal/worker"
)

// Backend is the slice of the SendGrid backend the adapter depends on.
type Backend interface {
	Send(ctx context.Context, msg *sendgrid.Message) (map[string]sendgrid.RecipientStatus, error)
}

// Option customises adapter behaviour.
type Option func(*Adapter)

// WithRawBodyLimit overrides the maximum number of characters retained from
// the provider raw response.
func WithRawBodyLimit(limit int) Option {
	return func(a *Adapter) {
		if limit > 0 {
			a.maxRawChars = limit
		}
	}
}

// Adapter implements worker.Adapter for the email channel, translating
// validated requests into SendGrid messages and classifying API failures.
type Adapter struct {
	logger      zerolog.Logger
	backend     Backend
	maxRawChars int
}

// NewAdapter constructs an email adapter using the provided dependencies.
func NewAdapter(backend Backend, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if backend == nil {
		return nil, errors.New("email adapter: backend dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	a := &Adapter{
		logger:      logger,
		backend:     backend,
		maxRawChars: common.DefaultRawBodyLimit,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a, nil
}

// Send converts the validated message into the canonical SendGrid message and
// delegates delivery to the backend. Errors are wrapped with the sentinel
// markers the worker uses to distinguish transient from permanent failures.
func (a *Adapter) Send(ctx context.Context, msg *worker.ValidatedMessage) (*models.ProviderResponse, error) {
	if msg == nil || msg.Request == nil {
		return nil, common.WrapPermanent(errors.New("email adapter: message request is nil"))
	}

	req, ok := msg.Request.(*models.EmailRequest)
	if !ok {
		return nil, common.WrapPermanent(fmt.Errorf("email adapter: expected *models.EmailRequest, got %T", msg.Request))
	}

	statuses, err := a.backend.Send(ctx, toProviderMessage(req))
	if err != nil {
		resp := a.buildErrorResponse(err)
		a.logger.Info().
			Str("message_id", req.MessageID).
			Str("channel", models.ChannelEmail).
			Str("provider_status", resp.Status).
			Err(err).
			Msg("email adapter send failed")
		return resp, a.wrapError(err)
	}

	resp := a.buildSuccessResponse(statuses)
	a.logger.Debug().
		Str("message_id", req.MessageID).
		Str("channel", models.ChannelEmail).
		Str("provider_message_id", resp.Meta["provider_message_id"]).
		Int("recipients", len(resp.Recipients)).
		Msg("email adapter send succeeded")
	return resp, nil
}

func toProviderMessage(req *models.EmailRequest) *sendgrid.Message {
	msg := &sendgrid.Message{
		From:        toProviderAddress(req.From),
		To:          toProviderAddresses(req.To),
		CC:          toProviderAddresses(req.CC),
		BCC:         toProviderAddresses(req.BCC),
		ReplyTo:     toProviderAddresses(req.ReplyTo),
		Subject:     req.Subject,
		Text:        req.Text,
		HTML:        req.HTML,
		Metadata:    req.Metadata,
		Tags:        append([]string(nil), req.Tags...),
		TrackClicks: req.TrackClicks,
		TrackOpens:  req.TrackOpens,
		SendAt:      req.SendAt,
		Extra:       req.Extra,
	}

	if len(req.Headers) > 0 || req.TraceID != "" || req.TenantID != "" {
		msg.Headers = make(map[string]any, len(req.Headers)+2)
		for k, v := range req.Headers {
			msg.Headers[k] = v
		}
		if req.TraceID != "" {
			msg.Headers["X-Trace-ID"] = req.TraceID
		}
		if req.TenantID != "" {
			msg.Headers["X-Tenant-ID"] = req.TenantID
		}
	}

	for _, att := range req.Attachments {
		msg.Attachments = append(msg.Attachments, sendgrid.Attachment{
			Name:      att.Name,
			Content:   att.Content,
			MimeType:  att.MimeType,
			Inline:    att.Inline,
			ContentID: att.ContentID,
		})
	}

	return msg
}

func toProviderAddress(addr models.EmailAddress) sendgrid.EmailAddress {
	return sendgrid.EmailAddress{Email: addr.Email, Name: addr.Name}
}

func toProviderAddresses(addrs []models.EmailAddress) []sendgrid.EmailAddress {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]sendgrid.EmailAddress, len(addrs))
	for i, addr := range addrs {
		out[i] = toProviderAddress(addr)
	}
	return out
}

func (a *Adapter) buildSuccessResponse(statuses map[string]sendgrid.RecipientStatus) *models.ProviderResponse {
	recipients := make(map[string]models.RecipientStatus, len(statuses))
	meta := make(map[string]string, 1)
	for addr, status := range statuses {
		recipients[addr] = models.RecipientStatus{
			MessageID: status.MessageID,
			Status:    status.Status,
		}
		meta["provider_message_id"] = status.MessageID
	}
	if len(meta) == 0 {
		meta = nil
	}

	return &models.ProviderResponse{
		Status:     "ok",
		Message:    sendgrid.StatusQueued,
		Recipients: recipients,
		Meta:       meta,
	}
}

func (a *Adapter) buildErrorResponse(err error) *models.ProviderResponse {
	resp := &models.ProviderResponse{
		Status:  "unknown",
		Message: err.Error(),
	}

	var apiErr *sendgrid.APIError
	switch {
	case errors.Is(err, sendgrid.ErrUnsupportedFeature):
		resp.Status = models.StatusEventRejected
	case errors.As(err, &apiErr):
		if apiErr.Response != nil {
			code := apiErr.Response.StatusCode
			resp.Code = &code
			resp.Raw = common.TruncateRaw(string(apiErr.Response.Body), a.maxRawChars)
			if isRetryableStatus(code) {
				resp.Status = models.StatusEventRateLimited
			} else {
				resp.Status = models.StatusEventRejected
			}
		} else {
			resp.Status = models.StatusEventRejected
		}
	case isTimeout(err):
		resp.Status = models.StatusEventRateLimited
	}

	return resp
}

func (a *Adapter) wrapError(err error) error {
	var apiErr *sendgrid.APIError
	switch {
	case errors.Is(err, sendgrid.ErrUnsupportedFeature):
		return common.WrapPermanent(err)
	case errors.As(err, &apiErr):
		if apiErr.Response != nil && isRetryableStatus(apiErr.Response.StatusCode) {
			return common.WrapTransient(err)
		}
		return common.WrapPermanent(err)
	case isTimeout(err):
		return common.WrapTransient(err)
	default:
		return common.WrapTransient(err)
	}
}

func isRetryableStatus(code int) bool {
	return code == 429 || code >= 500
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
