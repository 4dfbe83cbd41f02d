package sendgrid

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrUnsupportedFeature is the sentinel wrapped by every payload construction
// failure caused by a message facet the SendGrid wire format cannot express
// (second HTML body, colliding attachment filenames, ...).
var ErrUnsupportedFeature = errors.New("sendgrid: unsupported feature")

func unsupportedFeature(feature string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedFeature, feature)
}

const maxErrorBodyChars = 256

// APIResponse is the raw outcome of one HTTP exchange with the SendGrid API.
type APIResponse struct {
	StatusCode int
	Body       []byte
}

// APIError reports a failed or unparseable SendGrid API response. It retains
// the original message, the payload that was sent and the raw response so
// callers can log full diagnostics.
type APIError struct {
	Reason   string
	Message  *Message
	Payload  *Payload
	Response *APIResponse
}

func (e *APIError) Error() string {
	if e.Response == nil {
		return "sendgrid: " + e.Reason
	}
	return fmt.Sprintf("sendgrid: %s (http %d)", e.Reason, e.Response.StatusCode)
}

func newAPIError(reason string, msg *Message, payload *Payload, resp *APIResponse) *APIError {
	return &APIError{
		Reason:   reason,
		Message:  msg,
		Payload:  payload,
		Response: resp,
	}
}

func truncateBody(body []byte) string {
	s := string(body)
	if utf8.RuneCountInString(s) <= maxErrorBodyChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxErrorBodyChars])
}
