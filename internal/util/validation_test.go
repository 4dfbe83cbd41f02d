package util

import (
	"errors"
	"strings"
	"testing"
)

func TestParseUUIDv4(t *testing.T) {
	if _, err := ParseUUIDv4("11111111-1111-4111-8111-111111111111"); err != nil {
		t.Fatalf("expected valid uuid v4, got %v", err)
	}
	if _, err := ParseUUIDv4("  11111111-1111-4111-8111-111111111111  "); err != nil {
		t.Fatalf("expected whitespace to be trimmed, got %v", err)
	}

	for _, value := range []string{
		"",
		"not-a-uuid",
		"11111111-1111-1111-8111-111111111111", // v1
	} {
		if _, err := ParseUUIDv4(value); !errors.Is(err, ErrInvalidUUID) {
			t.Fatalf("value %q: expected ErrInvalidUUID, got %v", value, err)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  User@Example.COM ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "user@example.com" {
		t.Fatalf("expected lowercased address, got %q", got)
	}

	for _, value := range []string{
		"",
		"not-an-address",
		`"Display Name" <user@example.com>`,
		"<user@example.com>",
	} {
		if _, err := NormalizeEmail(value); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("value %q: expected ErrInvalidEmail, got %v", value, err)
		}
	}
}

func TestValidateMetadata(t *testing.T) {
	out, err := ValidateMetadata(map[string]string{" key ": "value"}, 10, 16, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out["key"]; !ok {
		t.Fatalf("expected trimmed key, got %#v", out)
	}

	if _, err := ValidateMetadata(map[string]string{"a": "1", "b": "2"}, 1, 0, 0); !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("expected entry limit error, got %v", err)
	}
	if _, err := ValidateMetadata(map[string]string{strings.Repeat("k", 20): "v"}, 0, 10, 0); !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("expected key length error, got %v", err)
	}
	if _, err := ValidateMetadata(map[string]string{"k": strings.Repeat("v", 20)}, 0, 0, 10); !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("expected value length error, got %v", err)
	}
	if _, err := ValidateMetadata(map[string]string{"  ": "v"}, 0, 0, 0); !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("expected empty key error, got %v", err)
	}

	out, err = ValidateMetadata(nil, 1, 1, 1)
	if err != nil || out != nil {
		t.Fatalf("expected nil metadata to pass through, got %#v, %v", out, err)
	}
}

func TestValidateTags(t *testing.T) {
	out, err := ValidateTags([]string{" welcome ", "batch"}, 10, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0] != "welcome" {
		t.Fatalf("expected trimmed tags, got %#v", out)
	}

	if _, err := ValidateTags([]string{"a", "b"}, 1, 0); !errors.Is(err, ErrInvalidTag) {
		t.Fatalf("expected tag count error, got %v", err)
	}
	if _, err := ValidateTags([]string{strings.Repeat("t", 20)}, 0, 10); !errors.Is(err, ErrInvalidTag) {
		t.Fatalf("expected tag length error, got %v", err)
	}
	if _, err := ValidateTags([]string{"   "}, 0, 0); !errors.Is(err, ErrInvalidTag) {
		t.Fatalf("expected empty tag error, got %v", err)
	}
}
