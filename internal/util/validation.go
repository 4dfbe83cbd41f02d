package util

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// ErrInvalidUUID is returned when a value is not a UUID v4.
	ErrInvalidUUID = errors.New("invalid uuid v4")
	// ErrInvalidEmail is returned when an email address cannot be parsed.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidMetadata is returned when metadata exceeds the configured limits.
	ErrInvalidMetadata = errors.New("invalid metadata")
	// ErrInvalidTag is returned when a tag is empty or exceeds its limits.
	ErrInvalidTag = errors.New("invalid tag")
)

// ParseUUIDv4 parses and validates a UUID string, ensuring it is version 4.
func ParseUUIDv4(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.UUID{}, fmt.Errorf("%w: value is empty", ErrInvalidUUID)
	}

	u, err := uuid.Parse(trimmed)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %v", ErrInvalidUUID, err)
	}

	if u.Version() != 4 {
		return uuid.UUID{}, fmt.Errorf("%w: expected version 4", ErrInvalidUUID)
	}

	return u, nil
}

// NormalizeEmail validates a bare email address (no display name) and returns
// it lowercased and stripped of surrounding whitespace. Display names travel
// in a separate field, so an address carrying one is rejected here.
func NormalizeEmail(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}

	if addr.Name != "" || addr.Address != trimmed {
		return "", fmt.Errorf("%w: must be a bare address", ErrInvalidEmail)
	}

	return strings.ToLower(addr.Address), nil
}

// ValidateMetadata enforces entry count and key/value length limits, trimming
// keys in the returned map. A zero limit disables the corresponding check.
func ValidateMetadata(meta map[string]string, maxEntries, maxKeyLen, maxValueLen int) (map[string]string, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	if maxEntries > 0 && len(meta) > maxEntries {
		return nil, fmt.Errorf("%w: too many entries (%d > %d)", ErrInvalidMetadata, len(meta), maxEntries)
	}

	out := make(map[string]string, len(meta))
	for k, v := range meta {
		key := strings.TrimSpace(k)
		if key == "" {
			return nil, fmt.Errorf("%w: empty key", ErrInvalidMetadata)
		}
		if maxKeyLen > 0 && utf8.RuneCountInString(key) > maxKeyLen {
			return nil, fmt.Errorf("%w: key %q exceeds max length %d", ErrInvalidMetadata, key, maxKeyLen)
		}
		if maxValueLen > 0 && utf8.RuneCountInString(v) > maxValueLen {
			return nil, fmt.Errorf("%w: value for key %q exceeds max length %d", ErrInvalidMetadata, key, maxValueLen)
		}
		out[key] = v
	}
	return out, nil
}

// ValidateTags enforces tag count and length limits, returning trimmed tags.
func ValidateTags(tags []string, maxCount, maxLen int) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	if maxCount > 0 && len(tags) > maxCount {
		return nil, fmt.Errorf("%w: too many tags (%d > %d)", ErrInvalidTag, len(tags), maxCount)
	}

	out := make([]string, 0, len(tags))
	for idx, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: tag[%d] is empty", ErrInvalidTag, idx)
		}
		if maxLen > 0 && utf8.RuneCountInString(trimmed) > maxLen {
			return nil, fmt.Errorf("%w: tag[%d] exceeds max length %d", ErrInvalidTag, idx, maxLen)
		}
		out = append(out, trimmed)
	}
	return out, nil
}
