package common

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrTransient and ErrPermanent are the sentinel errors adapters use when
// classifying provider failures. The worker engine retries transient failures
// and dead-letters permanent ones immediately.
var (
	ErrTransient = errors.New("transient error")
	ErrPermanent = errors.New("permanent error")
)

// WrapTransient annotates an error so callers can detect transient failures.
func WrapTransient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// WrapPermanent annotates an error as permanent.
func WrapPermanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

// DefaultRawBodyLimit caps the number of characters of a provider response
// body retained on a normalized response.
const DefaultRawBodyLimit = 1024

// TruncateRaw trims the supplied string to the given rune limit. A zero or
// negative limit yields an empty string.
func TruncateRaw(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	runes := []rune(raw)
	return string(runes[:limit])
}
