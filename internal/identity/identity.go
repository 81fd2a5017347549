package identity

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidAddress is returned when an input is empty or structurally not an
// email address.
var ErrInvalidAddress = errors.New("invalid email address")

var (
	angleAddrPattern = regexp.MustCompile(`<([^>]+)>`)
	bareAddrPattern  = regexp.MustCompile(`([^\s<>]+@[^\s<>]+)`)
)

// Normalize canonicalizes an email address: trims whitespace and lowercases.
// The address must contain exactly one @ with non-empty local and domain
// parts; anything else returns ErrInvalidAddress.
func Normalize(email string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(email))
	if addr == "" {
		return "", ErrInvalidAddress
	}

	at := strings.Index(addr, "@")
	if at <= 0 || at != strings.LastIndex(addr, "@") || at == len(addr)-1 {
		return "", ErrInvalidAddress
	}

	return addr, nil
}

// Extract pulls the bare address out of a display-form header value such as
// "John Doe <john@example.com>". Providers deliver From/To in this form.
// If no angle-bracketed address is present it falls back to the first thing
// that looks like an address, and finally to the lowercased input.
func Extract(raw string) string {
	if m := angleAddrPattern.FindStringSubmatch(raw); m != nil {
		return strings.ToLower(m[1])
	}
	if m := bareAddrPattern.FindStringSubmatch(raw); m != nil {
		return strings.ToLower(m[1])
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

// ExtractName returns the display name from a header value such as
// "John Doe <john@example.com>", or "" when there is none.
func ExtractName(raw string) string {
	idx := strings.Index(raw, "<")
	if idx <= 0 {
		return ""
	}
	return strings.Trim(strings.TrimSpace(raw[:idx]), `"`)
}
