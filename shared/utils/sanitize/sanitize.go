// Package sanitize cleans untrusted free text before it is written to the
// audit trail, so stored entries stay safe to render later.
package sanitize

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxFieldLength = 500

// Field strips control characters, escapes markup-significant characters and
// truncates overlong input. The result is safe to store and display as-is.
func Field(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(' ')
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}

	cleaned := html.EscapeString(b.String())

	if len(cleaned) > maxFieldLength {
		cleaned = truncate(cleaned, maxFieldLength)
	}

	return cleaned
}

// truncate cuts s at or before limit bytes without splitting a UTF-8
// sequence or an escape entity, so the stored value stays valid as-is.
func truncate(s string, limit int) string {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	// Entities produced by html.EscapeString are at most five bytes; back
	// out of a partial one at the cut point.
	for i := cut - 1; i >= 0 && i >= cut-5; i-- {
		if s[i] == ';' {
			break
		}
		if s[i] == '&' {
			cut = i
			break
		}
	}

	return s[:cut]
}

// Map sanitizes every key and value of a details bag.
func Map(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}

	out := make(map[string]string, len(m))
	for k, v := range m {
		out[Field(k)] = Field(v)
	}
	return out
}
