package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("production", "info", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log.Info().Str("component", "test").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "hello" {
		t.Fatalf("unexpected message field: %#v", entry)
	}
	if entry["component"] != "test" {
		t.Fatalf("unexpected component field: %#v", entry)
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("production", "warn", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log.Info().Msg("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("expected info log to be filtered, got %q", buf.String())
	}

	log.Warn().Msg("visible")
	if buf.Len() == 0 {
		t.Fatalf("expected warn log to be emitted")
	}
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	if _, err := New("production", "shouting"); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestNewDefaultsToInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("production", "", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.GetLevel().String() != "info" {
		t.Fatalf("expected info level default, got %s", log.GetLevel())
	}
}
