package sendgrid

import (
	"encoding/json"
	"testing"
)

func TestHeaderMapCaseInsensitiveSetAndGet(t *testing.T) {
	h := NewHeaderMap()
	h.Set("Reply-To", "a@example.com")

	if v, ok := h.Get("reply-to"); !ok || v != "a@example.com" {
		t.Fatalf("expected case-insensitive lookup, got %q (%v)", v, ok)
	}

	h.Set("REPLY-TO", "b@example.com")
	if h.Len() != 1 {
		t.Fatalf("expected overwrite, got %d entries", h.Len())
	}
	if v, _ := h.Get("Reply-To"); v != "b@example.com" {
		t.Fatalf("expected latest value, got %q", v)
	}
}

func TestHeaderMapPreservesLastSpelling(t *testing.T) {
	h := NewHeaderMap()
	h.Set("X-Custom", "one")
	h.Set("x-CUSTOM", "two")

	items := h.Items()
	if len(items) != 1 {
		t.Fatalf("expected one entry, got %#v", items)
	}
	if items["x-CUSTOM"] != "two" {
		t.Fatalf("expected last spelling to win, got %#v", items)
	}
}

func TestHeaderMapMarshalJSON(t *testing.T) {
	h := NewHeaderMap()
	h.Set("X-One", "1")
	h.Set("X-Two", "2")

	raw, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if decoded["X-One"] != "1" || decoded["X-Two"] != "2" {
		t.Fatalf("unexpected decoded headers: %#v", decoded)
	}
}
