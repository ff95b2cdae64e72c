// Package keys derives stable cache keys from request URLs.
package keys

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// ForURL builds the entry key for a request URL: a sanitized, truncated
// readable prefix plus an xxhash of the canonical URL. The hash keeps keys
// unique after truncation; the prefix keeps them greppable in storage.
func ForURL(u *url.URL) string {
	canon := Canonical(u)
	safe := sanitizeForKey(canon)

	const maxPrefixLen = 160
	if len(safe) > maxPrefixLen {
		safe = safe[:maxPrefixLen]
	}

	sum := xxhash.Sum64String(canon)
	return fmt.Sprintf("%s:%016x", safe, sum)
}

// Canonical renders the URL the same way regardless of how the request
// arrived (absolute-form or origin-relative).
func Canonical(u *url.URL) string {
	var b strings.Builder
	if u.IsAbs() {
		b.WriteString(u.Scheme)
		b.WriteString("://")
		b.WriteString(u.Host)
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	b.WriteString(p)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '/' || r == '.' || r == '_' || r == '-' || r == '=':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
