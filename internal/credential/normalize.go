package credential

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// NormalizeIdentifier normalizes an email-style identifier for use as a key
// (NFC, trimmed, case folded, inner whitespace removed).
func NormalizeIdentifier(identifier string) string {
	s := norm.NFC.String(identifier)
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return foldCaser.String(s)
}

// ValidIdentifier reports whether identifier looks like an email address.
func ValidIdentifier(identifier string) bool {
	s := NormalizeIdentifier(identifier)
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return false
	}
	return strings.Contains(s[at+1:], ".")
}
