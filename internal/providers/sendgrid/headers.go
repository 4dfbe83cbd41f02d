package sendgrid

import (
	"encoding/json"
	"strings"
)

type headerEntry struct {
	name  string
	value string
}

// HeaderMap is a case-insensitive header collection. Lookups and overwrites
// ignore key casing while the spelling of the most recent Set is preserved for
// serialization. SendGrid transmits headers as a single JSON-encoded field
// rather than native MIME headers, so order is not significant.
type HeaderMap struct {
	entries map[string]headerEntry
}

// NewHeaderMap returns an empty header map.
func NewHeaderMap() *HeaderMap {
	return &HeaderMap{entries: make(map[string]headerEntry)}
}

// Set stores the header, replacing any existing value under a
// case-insensitive match of name.
func (h *HeaderMap) Set(name, value string) {
	h.entries[strings.ToLower(name)] = headerEntry{name: name, value: value}
}

// Get returns the value stored under a case-insensitive match of name.
func (h *HeaderMap) Get(name string) (string, bool) {
	entry, ok := h.entries[strings.ToLower(name)]
	return entry.value, ok
}

// Len reports the number of stored headers.
func (h *HeaderMap) Len() int {
	return len(h.entries)
}

// Items returns the headers as a plain map keyed by the preserved spellings.
func (h *HeaderMap) Items() map[string]string {
	out := make(map[string]string, len(h.entries))
	for _, entry := range h.entries {
		out[entry.name] = entry.value
	}
	return out
}

// MarshalJSON encodes the headers as a JSON object using the preserved key
// spellings.
func (h *HeaderMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Items())
}
