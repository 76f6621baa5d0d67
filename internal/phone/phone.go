// Package phone normalizes subscriber numbers for storage, lookup and the
// mobile-money provider.
package phone

import (
	"regexp"
	"strings"
)

var (
	localPattern         = regexp.MustCompile(`^0\d{9}$`)
	subscriberPattern    = regexp.MustCompile(`^[17]\d{8}$`)
	internationalPattern = regexp.MustCompile(`^\+\d{9,15}$`)
)

// Normalize rewrites a local number ("0" + 9 digits) to +<countryCode> + the
// trailing 9 digits. Any other non-empty value is returned trimmed. An empty
// result means the phone is absent.
func Normalize(raw, countryCode string) string {
	p := strings.TrimSpace(raw)
	if p == "" {
		return ""
	}
	if localPattern.MatchString(p) {
		return "+" + countryCode + p[1:]
	}
	return p
}

// NormalizeLookup is Normalize plus the bare subscriber form ("7xxxxxxxx")
// accepted at login.
func NormalizeLookup(raw, countryCode string) string {
	p := Normalize(raw, countryCode)
	if subscriberPattern.MatchString(p) {
		return "+" + countryCode + p
	}
	return p
}

// Valid reports whether p is in international form.
func Valid(p string) bool {
	return internationalPattern.MatchString(p)
}

// MSISDN returns the digits-only form the provider expects: the leading "+"
// is stripped, a leading "0" becomes the country code, and a number without
// the country code is assumed local.
func MSISDN(raw, countryCode string) string {
	p := strings.TrimSpace(raw)
	p = strings.TrimPrefix(p, "+")
	switch {
	case strings.HasPrefix(p, "0"):
		return countryCode + p[1:]
	case strings.HasPrefix(p, countryCode):
		return p
	default:
		return countryCode + p
	}
}
