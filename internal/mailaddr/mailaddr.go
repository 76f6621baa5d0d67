// Package mailaddr normalizes email addresses for storage and lookup.
package mailaddr

import (
	"net/mail"
	"strings"
)

// Normalize parses raw as a single address and returns its bare, lowercased
// form. Display names and angle brackets are dropped, so "Achieng
// <Achieng@Example.com>" and "achieng@example.com" map to the same mailbox.
// ok is false for an empty or malformed address.
func Normalize(raw string) (addr string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	parsed, err := mail.ParseAddress(raw)
	if err != nil {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(parsed.Address)), true
}

// Lookup is the form an address is stored under, for lookups of input that
// may not parse. Unparseable input is trimmed and lowercased.
func Lookup(raw string) string {
	if addr, ok := Normalize(raw); ok {
		return addr
	}
	return strings.ToLower(strings.TrimSpace(raw))
}
