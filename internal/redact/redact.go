// Package redact strips sensitive detail from values before they are stored in
// action reports.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultTitleLimit caps page titles stored in reports.
const DefaultTitleLimit = 128

// Ellipsis marks a truncated title.
const Ellipsis = "…"

// URL reduces a URL to scheme, host and path. Credentials, query and fragment
// are dropped. Unparseable input yields "". Applying URL twice gives the same
// result as applying it once.
func URL(raw string) string {
	out := stripURL(raw)
	for i := 0; i < maxURLPasses; i++ {
		next := stripURL(out)
		if next == out {
			return out
		}
		out = next
	}
	return ""
}

// maxURLPasses bounds the search for a stable form. Inputs that do not
// settle within it redact to "".
const maxURLPasses = 4

func stripURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	// String re-escapes the host, which Parse leaves decoded.
	kept := &url.URL{
		Scheme:  u.Scheme,
		Opaque:  strings.TrimSpace(u.Opaque),
		Host:    u.Host,
		Path:    u.Path,
		RawPath: u.RawPath,
	}
	return strings.TrimSpace(kept.String())
}

// Title caps a title at limit runes, appending an ellipsis when it was cut.
// The result is never longer than limit+1 runes.
func Title(title string, limit int) string {
	title = strings.TrimSpace(title)
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(title) <= limit {
		return title
	}
	runes := []rune(title)
	return string(runes[:limit]) + Ellipsis
}

// Hash returns a short, non-reversible digest of a value.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}

// HashIndices digests a list of selected option indices.
func HashIndices(indices []int) string {
	var b strings.Builder
	for i, idx := range indices {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(idx))
	}
	return Hash(b.String())
}
