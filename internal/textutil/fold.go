// Package textutil holds the text normalization shared by search and parsing.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics so "Camisetá Azul" and
// "camiseta azul" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// Tokens splits the folded text on whitespace.
func Tokens(s string) []string {
	return strings.Fields(Fold(s))
}

// SearchKey joins the folded parts with single spaces. Stored alongside rows
// so LIKE queries can match without collation support.
func SearchKey(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if f := strings.Join(Tokens(p), " "); f != "" {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

// Digits keeps only ASCII digits.
func Digits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// IsDigitsOnly reports whether s is non-empty and made of digits and the
// usual tax id punctuation.
func IsDigitsOnly(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	hasDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '.' || r == '-' || r == '/' || r == ' ':
		default:
			return false
		}
	}
	return hasDigit
}
